package dispatcher

import (
	"context"
	"strconv"
	"sync"
)

type fakeID int

func (id fakeID) String() string { return strconv.Itoa(int(id)) }

type event struct {
	Kind   string
	ID     TraceID
	URL    string
	Method string
	Status int
	Err    error
}

type scopeKey struct{}

type scope struct {
	id TraceID
}

// fakeTracer assigns sequential identifiers to requests and records every annotation.
type fakeTracer struct {
	mu         sync.Mutex
	next       int
	scopes     int
	remotes    []string
	events     []event
	panicOn    string
	decoration string

	// wholeResponse makes the instrumentation a ResponseRecorder.
	wholeResponse bool
}

func (t *fakeTracer) Scoped(ctx context.Context, f func(ctx context.Context)) {
	t.mu.Lock()
	t.scopes++
	t.mu.Unlock()
	f(context.WithValue(ctx, scopeKey{}, &scope{}))
}

func (t *fakeTracer) ID(ctx context.Context) TraceID {
	if t.panicOn == "id" {
		panic("tracer is broken: id")
	}
	s, ok := ctx.Value(scopeKey{}).(*scope)
	if !ok {
		panic("no scope")
	}
	return s.id
}

func (t *fakeTracer) HTTPClient(remoteServiceName string) Instrumentation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remotes = append(t.remotes, remoteServiceName)
	if t.wholeResponse {
		return &fakeResponseRecorder{fakeInstrumentation{tracer: t}}
	}
	return &fakeInstrumentation{tracer: t}
}

func (t *fakeTracer) Events() []event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event(nil), t.events...)
}

func (t *fakeTracer) record(kind string, e event) {
	if t.panicOn == kind {
		panic("tracer is broken: " + kind)
	}
	e.Kind = kind
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

type fakeInstrumentation struct {
	tracer *fakeTracer
}

func (i *fakeInstrumentation) RecordRequest(ctx context.Context, req *Request, url, method string) *Request {
	t := i.tracer
	t.mu.Lock()
	t.next++
	id := fakeID(t.next)
	t.mu.Unlock()

	ctx.Value(scopeKey{}).(*scope).id = id
	t.record("request", event{ID: id, URL: url, Method: method})

	config := req.Clone()
	// the dispatcher must restore the caller's URL.
	config.URL = url
	if t.decoration != "" {
		WithHeader(t.decoration, id.String())(config)
	}
	return config
}

func (i *fakeInstrumentation) RecordResponse(ctx context.Context, id TraceID, statusCode int) {
	i.tracer.record("response", event{ID: id, Status: statusCode})
}

func (i *fakeInstrumentation) RecordError(ctx context.Context, id TraceID, err error) {
	i.tracer.record("error", event{ID: id, Err: err})
}

type fakeResponseRecorder struct {
	fakeInstrumentation
}

func (i *fakeResponseRecorder) RecordHTTPResponse(ctx context.Context, id TraceID, resp *Response) {
	i.tracer.record("http response", event{ID: id, Status: resp.StatusCode, URL: resp.Header.Get("Location")})
}

// fakeTransport records the requests it receives.
type fakeTransport struct {
	baseURL string
	do      func(ctx context.Context, req *Request) (*Response, error)

	mu    sync.Mutex
	calls []*Request
}

func (t *fakeTransport) BaseURL() string { return t.baseURL }

func (t *fakeTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.mu.Unlock()
	if t.do != nil {
		return t.do(ctx, req)
	}
	return &Response{StatusCode: 200}, nil
}

func (t *fakeTransport) Calls() []*Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Request(nil), t.calls...)
}
