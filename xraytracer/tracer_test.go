package xraytracer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
	"github.com/shogo82148/xray-dispatcher-go/transport"
	"github.com/shogo82148/xray-dispatcher-go/xray"
	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
	"golang.org/x/sync/errgroup"
)

func ignoreVariableFieldFunc(in *schema.Segment) *schema.Segment {
	out := *in
	out.ID = ""
	out.TraceID = ""
	out.ParentID = ""
	out.StartTime = 0
	out.EndTime = 0
	out.Subsegments = nil
	if in.Cause != nil {
		cause := *in.Cause
		cause.WorkingDirectory = ""
		cause.Exceptions = append([]schema.Exception(nil), in.Cause.Exceptions...)
		for i := range cause.Exceptions {
			cause.Exceptions[i].ID = ""
		}
		out.Cause = &cause
	}
	for _, sub := range in.Subsegments {
		out.Subsegments = append(out.Subsegments, ignoreVariableFieldFunc(sub))
	}
	return &out
}

// some fields change every execution, ignore them.
var ignoreVariableField = cmp.Transformer("Segment", ignoreVariableFieldFunc)

var xrayData = schema.AWS{
	"xray": map[string]interface{}{
		"sdk_version": xray.Version,
		"sdk":         xray.Type,
	},
}

// newServer returns a server responding with the status given by the "status" query.
// The body of a 200 response is "hello".
func newServer(t *testing.T) (*httptest.Server, <-chan xray.TraceHeader) {
	t.Helper()
	ch := make(chan xray.TraceHeader, 10)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch <- xray.ParseTraceHeader(r.Header.Get(xray.TraceIDHeaderKey))
		status := http.StatusOK
		if s := r.URL.Query().Get("status"); s != "" {
			status, _ = strconv.Atoi(s)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			io.WriteString(w, "hello")
		}
	}))
	t.Cleanup(ts.Close)
	return ts, ch
}

func newDispatcher(t *testing.T, ts *httptest.Server, remoteServiceName string) *dispatcher.Dispatcher {
	t.Helper()
	d, err := dispatcher.Wrap(transport.NewHTTP(ts.Client(), ts.URL), dispatcher.Options{
		Tracer:            New(),
		RemoteServiceName: remoteServiceName,
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestTracer(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()
	ts, ch := newServer(t)
	d := newDispatcher(t, ts, "users")
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}

	ctx, root := xray.BeginSegment(ctx, "test")
	resp, err := d.Get(ctx, "/users/1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("want status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	root.Close()

	got, err := td.Recv()
	if err != nil {
		t.Fatal(err)
	}
	want := &schema.Segment{
		Name: "test",
		Subsegments: []*schema.Segment{
			{
				Name:      "users",
				Namespace: "remote",
				HTTP: &schema.HTTP{
					Request: &schema.HTTPRequest{
						Method: http.MethodGet,
						URL:    ts.URL + "/users/1",
					},
					Response: &schema.HTTPResponse{
						Status:        http.StatusOK,
						ContentLength: 5,
					},
				},
				Subsegments: []*schema.Segment{
					{
						Name: "connect",
						Subsegments: []*schema.Segment{
							{
								Name: "dial",
								Metadata: map[string]interface{}{
									"http": map[string]interface{}{
										"dial": map[string]interface{}{
											"network": "tcp",
											"address": u.Host,
										},
									},
								},
							},
						},
					},
					{Name: "request"},
				},
			},
		},
		Service: xray.ServiceData,
		AWS:     xrayData,
	}
	if diff := cmp.Diff(want, got, ignoreVariableField); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	traceHeader := <-ch
	if traceHeader.TraceID != got.TraceID {
		t.Errorf("invalid trace id, want %s, got %s", got.TraceID, traceHeader.TraceID)
	}
	if traceHeader.ParentID != got.Subsegments[0].ID {
		t.Errorf("invalid parent id, want %s, got %s", got.Subsegments[0].ID, traceHeader.ParentID)
	}
	if traceHeader.SamplingDecision != xray.SamplingDecisionSampled {
		t.Errorf("invalid sampling decision: %q", traceHeader.SamplingDecision)
	}
}

func TestTracer_Status(t *testing.T) {
	tests := []struct {
		status   int
		error    bool
		throttle bool
		fault    bool
	}{
		{status: http.StatusNoContent},
		{status: http.StatusNotFound, error: true},
		{status: http.StatusTooManyRequests, error: true, throttle: true},
		{status: http.StatusServiceUnavailable, fault: true},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			ctx, td := xray.NewTestDaemon()
			defer td.Close()
			ts, _ := newServer(t)
			d := newDispatcher(t, ts, "users")

			ctx, root := xray.BeginSegment(ctx, "test")
			_, err := d.Get(ctx, "/", dispatcher.WithQuery("status", strconv.Itoa(tt.status)))
			if err != nil {
				t.Fatal(err)
			}
			root.Close()

			got, err := td.Recv()
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Subsegments) != 1 {
				t.Fatalf("want 1 subsegment, got %d", len(got.Subsegments))
			}
			sub := got.Subsegments[0]
			if sub.HTTP == nil || sub.HTTP.Response == nil || sub.HTTP.Response.Status != tt.status {
				t.Errorf("status is not recorded: %#v", sub.HTTP)
			}
			if sub.Error != tt.error {
				t.Errorf("want error %t, got %t", tt.error, sub.Error)
			}
			if sub.Throttle != tt.throttle {
				t.Errorf("want throttle %t, got %t", tt.throttle, sub.Throttle)
			}
			if sub.Fault != tt.fault {
				t.Errorf("want fault %t, got %t", tt.fault, sub.Fault)
			}
		})
	}
}

type errorTransport struct {
	err error
}

func (t *errorTransport) BaseURL() string { return "http://example.com" }

func (t *errorTransport) Do(ctx context.Context, req *dispatcher.Request) (*dispatcher.Response, error) {
	return nil, t.err
}

func TestTracer_Error(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()

	errTransport := errors.New("connection refused")
	d, err := dispatcher.Wrap(&errorTransport{err: errTransport}, dispatcher.Options{
		Tracer: New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, root := xray.BeginSegment(ctx, "test")
	if _, err := d.Post(ctx, "/users", map[string]any{"name": "a"}); err != errTransport {
		t.Errorf("want %v, got %v", errTransport, err)
	}
	root.Close()

	got, err := td.Recv()
	if err != nil {
		t.Fatal(err)
	}
	want := &schema.Segment{
		Name: "test",
		Subsegments: []*schema.Segment{
			{
				Name:      "example.com",
				Namespace: "remote",
				HTTP: &schema.HTTP{
					Request: &schema.HTTPRequest{
						Method: http.MethodPost,
						URL:    "http://example.com/users",
					},
				},
				Fault: true,
				Cause: &schema.Cause{
					Exceptions: []schema.Exception{
						{
							Message: "connection refused",
							Type:    "*errors.errorString",
						},
					},
				},
			},
		},
		Service: xray.ServiceData,
		AWS:     xrayData,
	}
	if diff := cmp.Diff(want, got, ignoreVariableField); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestTracer_ContextMissing(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()

	var mu sync.Mutex
	var missing []interface{}
	td.ContextMissing = func(ctx context.Context, v interface{}) {
		mu.Lock()
		defer mu.Unlock()
		missing = append(missing, v)
	}

	ts, ch := newServer(t)
	d := newDispatcher(t, ts, "users")

	// no segment in the context.
	resp, err := d.Get(ctx, "/users/1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("want status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if h := <-ch; !h.IsZero() {
		t.Errorf("want no trace header, got %s", h)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(missing) == 0 {
		t.Error("the context missing strategy should be called")
	}
}

func TestTracer_ID(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()

	tracer := New()
	tracer.Scoped(ctx, func(ctx context.Context) {
		if id := tracer.ID(ctx); id != nil {
			t.Errorf("want nil, got %v", id)
		}
	})

	ctx, root := xray.BeginSegment(ctx, "test")
	defer root.Close()
	tracer.Scoped(ctx, func(ctx context.Context) {
		id, ok := tracer.ID(ctx).(*TraceID)
		if !ok {
			t.Fatalf("unexpected type: %T", tracer.ID(ctx))
		}
		if id.TraceID() != root.TraceID() || id.SegmentID() != root.ID() {
			t.Errorf("want the root segment, got %s", id)
		}

		// recording the response of the caller's segment is a no-op.
		tracer.HTTPClient("").RecordResponse(ctx, id, http.StatusOK)
	})

	tracer.Scoped(ctx, func(ctx context.Context) {
		config := tracer.HTTPClient("").RecordRequest(ctx, &dispatcher.Request{}, "http://example.com/", http.MethodGet)
		id := tracer.ID(ctx).(*TraceID)
		if id.SegmentID() == root.ID() {
			t.Error("want the subsegment")
		}
		want := xray.TraceHeader{
			TraceID:          root.TraceID(),
			ParentID:         id.SegmentID(),
			SamplingDecision: xray.SamplingDecisionSampled,
		}.String()
		if got := config.Header.Get(xray.TraceIDHeaderKey); got != want {
			t.Errorf("want %q, got %q", want, got)
		}
		if got, want := id.String(), "Root="+root.TraceID()+";Parent="+id.SegmentID(); got != want {
			t.Errorf("want %q, got %q", want, got)
		}
		tracer.HTTPClient("").RecordResponse(ctx, id, http.StatusOK)
	})
}

func TestTracer_Concurrent(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-release
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	d := newDispatcher(t, ts, "")

	ctx, root := xray.BeginSegment(ctx, "test")
	var eg errgroup.Group
	eg.Go(func() error {
		_, err := d.Get(ctx, "/slow")
		return err
	})
	eg.Go(func() error {
		defer close(release)
		_, err := d.Get(ctx, "/fast")
		return err
	})
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	root.Close()

	got, err := td.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Subsegments) != 2 {
		t.Fatalf("want 2 subsegments, got %d", len(got.Subsegments))
	}
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{
		ts.URL + "/slow": http.StatusAccepted,
		ts.URL + "/fast": http.StatusOK,
	}
	for _, sub := range got.Subsegments {
		if sub.Name != u.Host {
			t.Errorf("want name %q, got %q", u.Host, sub.Name)
		}
		if sub.HTTP.Response.Status != want[sub.HTTP.Request.URL] {
			t.Errorf("%s: want status %d, got %d", sub.HTTP.Request.URL, want[sub.HTTP.Request.URL], sub.HTTP.Response.Status)
		}
	}
}

func TestTracer_DialError(t *testing.T) {
	ctx, td := xray.NewTestDaemon()
	defer td.Close()

	// nothing listens on the address of a closed server.
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	d := newDispatcher(t, ts, "users")

	ctx, root := xray.BeginSegment(ctx, "test")
	if _, err := d.Get(ctx, "/users/1"); err == nil {
		t.Fatal("want error, got nil")
	}
	root.Close()

	got, err := td.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Subsegments) != 1 {
		t.Fatalf("want 1 subsegment, got %d", len(got.Subsegments))
	}
	remote := got.Subsegments[0]
	if !remote.Fault || remote.Cause == nil {
		t.Errorf("the call should fail: %#v", remote)
	}
	if len(remote.Subsegments) != 1 || remote.Subsegments[0].Name != "connect" {
		t.Fatalf("want a connect subsegment, got %#v", remote.Subsegments)
	}
	connect := remote.Subsegments[0]
	if !connect.Fault || connect.InProgress {
		t.Errorf("connect should be closed as a fault: %#v", connect)
	}
	if len(connect.Subsegments) != 1 || connect.Subsegments[0].Name != "dial" {
		t.Fatalf("want a dial subsegment, got %#v", connect.Subsegments)
	}
	if dial := connect.Subsegments[0]; dial.Cause == nil || len(dial.Cause.Exceptions) != 1 {
		t.Errorf("dial should record the error: %#v", dial)
	}
}
