// Package xraytracer implements dispatcher.Tracer with AWS X-Ray segments.
//
// Each dispatched call is recorded as a subsegment of the segment carried by
// the context, and the X-Amzn-Trace-Id header is propagated to the remote service.
package xraytracer

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
	"github.com/shogo82148/xray-dispatcher-go/xray"
	"github.com/shogo82148/xray-dispatcher-go/xray/schema"
)

const emptyHostRename = "empty_host_error"

var (
	_ dispatcher.Tracer           = (*Tracer)(nil)
	_ dispatcher.ResponseRecorder = (*instrumentation)(nil)
)

// Tracer is a dispatcher.Tracer recording calls as X-Ray subsegments.
type Tracer struct{}

// New returns a new Tracer.
func New() *Tracer {
	return &Tracer{}
}

type scopeKey struct{}

type scope struct {
	mu sync.Mutex
	id *TraceID
}

func contextScope(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

// Scoped implements dispatcher.Tracer.
func (t *Tracer) Scoped(ctx context.Context, f func(ctx context.Context)) {
	f(context.WithValue(ctx, scopeKey{}, &scope{}))
}

// ID implements dispatcher.Tracer.
// It returns nil if neither the scope nor the context has a segment.
func (t *Tracer) ID(ctx context.Context) dispatcher.TraceID {
	if s := contextScope(ctx); s != nil {
		s.mu.Lock()
		id := s.id
		s.mu.Unlock()
		if id != nil {
			return id
		}
	}
	seg := xray.ContextSegment(ctx)
	if seg == nil {
		return nil
	}
	// the segment belongs to the caller; it must not be closed by the call.
	return &TraceID{
		traceID:   seg.TraceID(),
		segmentID: seg.ID(),
	}
}

// HTTPClient implements dispatcher.Tracer.
func (t *Tracer) HTTPClient(remoteServiceName string) dispatcher.Instrumentation {
	return &instrumentation{remoteServiceName: remoteServiceName}
}

// TraceID identifies the subsegment of a call.
type TraceID struct {
	traceID   string
	segmentID string
	seg       *xray.Segment
}

// TraceID returns the X-Ray trace id.
func (id *TraceID) TraceID() string {
	return id.traceID
}

// SegmentID returns the id of the subsegment.
func (id *TraceID) SegmentID() string {
	return id.segmentID
}

func (id *TraceID) String() string {
	return xray.TraceHeader{
		TraceID:  id.traceID,
		ParentID: id.segmentID,
	}.String()
}

type instrumentation struct {
	remoteServiceName string
}

func (i *instrumentation) segmentName(rawURL string) (name string, remote bool) {
	if i.remoteServiceName != "" {
		return i.remoteServiceName, true
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		return u.Host, true
	}
	return emptyHostRename, false
}

func (i *instrumentation) RecordRequest(ctx context.Context, req *dispatcher.Request, rawURL, method string) *dispatcher.Request {
	name, remote := i.segmentName(rawURL)
	subCtx, seg := xray.BeginSubsegment(ctx, name)
	if remote {
		seg.SetNamespace("remote")
	}
	seg.SetHTTPRequest(&schema.HTTPRequest{
		Method: method,
		URL:    rawURL,
	})

	config := req.Clone()
	if seg == nil {
		// the context has no segment, the call is not traced.
		return config
	}
	if config.Header == nil {
		config.Header = make(http.Header)
	}
	config.Header.Set(xray.TraceIDHeaderKey, xray.DownstreamHeader(subCtx).String())
	config.Trace = newClientTrace(subCtx)

	if s := contextScope(ctx); s != nil {
		s.mu.Lock()
		s.id = &TraceID{
			traceID:   seg.TraceID(),
			segmentID: seg.ID(),
			seg:       seg,
		}
		s.mu.Unlock()
	}
	return config
}

func (i *instrumentation) RecordResponse(ctx context.Context, id dispatcher.TraceID, statusCode int) {
	i.recordResponse(id, &schema.HTTPResponse{
		Status: statusCode,
	})
}

// RecordHTTPResponse implements dispatcher.ResponseRecorder.
func (i *instrumentation) RecordHTTPResponse(ctx context.Context, id dispatcher.TraceID, resp *dispatcher.Response) {
	i.recordResponse(id, &schema.HTTPResponse{
		Status:        resp.StatusCode,
		ContentLength: contentLength(resp),
	})
}

func contentLength(resp *dispatcher.Response) int64 {
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		return n
	}
	return int64(len(resp.Body))
}

func (i *instrumentation) recordResponse(id dispatcher.TraceID, resp *schema.HTTPResponse) {
	seg := segmentOf(id)
	if seg == nil {
		return
	}
	statusCode := resp.Status
	seg.SetHTTPResponse(resp)
	if statusCode >= 400 && statusCode < 500 {
		seg.SetError()
	}
	if statusCode == http.StatusTooManyRequests {
		seg.SetThrottle()
	}
	if statusCode >= 500 && statusCode < 600 {
		seg.SetFault()
	}
	seg.Close()
}

func (i *instrumentation) RecordError(ctx context.Context, id dispatcher.TraceID, err error) {
	seg := segmentOf(id)
	if seg == nil {
		return
	}
	seg.AddError(err)
	seg.Close()
}

func segmentOf(id dispatcher.TraceID) *xray.Segment {
	tid, ok := id.(*TraceID)
	if !ok || tid == nil {
		return nil
	}
	return tid.seg
}
