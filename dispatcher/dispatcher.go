package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

var (
	// ErrNilTransport is returned by Wrap when no transport is given.
	ErrNilTransport = errors.New("dispatcher: transport is nil")

	// ErrNilTracer is returned by Wrap when no tracer is given.
	ErrNilTracer = errors.New("dispatcher: tracer is nil")

	// ErrNilRequest is returned by SendRequest when the request is nil.
	ErrNilRequest = errors.New("dispatcher: request is nil")

	// ErrEmptyURL is returned when the URL of a request is empty.
	ErrEmptyURL = errors.New("dispatcher: url is empty")
)

// Options configures a Dispatcher.
type Options struct {
	// Tracer records the calls. Required.
	Tracer Tracer

	// RemoteServiceName is the name of the service the transport talks to.
	RemoteServiceName string

	// Metrics records the latency of the calls. Optional.
	Metrics *Metrics
}

// Dispatcher sends requests through a transport and traces them.
// A Dispatcher is safe for concurrent use by multiple goroutines.
type Dispatcher struct {
	transport         Transport
	tracer            Tracer
	remoteServiceName string
	metrics           *Metrics
}

// Wrap instruments t with the tracer of opts.
func Wrap(t Transport, opts Options) (*Dispatcher, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if opts.Tracer == nil {
		return nil, ErrNilTracer
	}
	return &Dispatcher{
		transport:         t,
		tracer:            opts.Tracer,
		remoteServiceName: opts.RemoteServiceName,
		metrics:           opts.Metrics,
	}, nil
}

// Get sends a GET request to url.
func (d *Dispatcher) Get(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodGet, url, nil, opts))
}

// Put sends a PUT request with body to url.
func (d *Dispatcher) Put(ctx context.Context, url string, body any, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodPut, url, body, opts))
}

// Patch sends a PATCH request with body to url.
func (d *Dispatcher) Patch(ctx context.Context, url string, body any, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodPatch, url, body, opts))
}

// Post sends a POST request with body to url.
func (d *Dispatcher) Post(ctx context.Context, url string, body any, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodPost, url, body, opts))
}

// Delete sends a DELETE request to url.
func (d *Dispatcher) Delete(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodDelete, url, nil, opts))
}

// Head sends a HEAD request to url.
func (d *Dispatcher) Head(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodHead, url, nil, opts))
}

// Options sends an OPTIONS request to url.
func (d *Dispatcher) Options(ctx context.Context, url string, opts ...Option) (*Response, error) {
	return d.SendRequest(ctx, newRequest(http.MethodOptions, url, nil, opts))
}

// newRequest applies opts first, so that method and body always win.
func newRequest(method, url string, body any, opts []Option) *Request {
	req := &Request{URL: url}
	for _, opt := range opts {
		opt(req)
	}
	req.URL = url
	req.Method = method
	req.Body = body
	return req
}

// SendRequest sends req through the transport.
// The tracer sees the URL prefixed with the base URL of the transport;
// the transport sees the URL of req.
// The response or the error of the transport is returned unchanged.
func (d *Dispatcher) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if req.URL == "" {
		return nil, fmt.Errorf("%w: method %s", ErrEmptyURL, req.Method)
	}

	fullURL := req.URL
	if base := d.transport.BaseURL(); base != "" {
		fullURL = base + req.URL
	}
	instrumentation := d.tracer.HTTPClient(d.remoteServiceName)

	var config *Request
	var traceID TraceID
	d.safely(ctx, "open scope", func() {
		d.tracer.Scoped(ctx, func(ctx context.Context) {
			d.safely(ctx, "record request", func() {
				config = instrumentation.RecordRequest(ctx, req, fullURL, req.Method)
			})
			// the span may already be registered when RecordRequest panics.
			d.safely(ctx, "read trace id", func() {
				traceID = d.tracer.ID(ctx)
			})
		})
	})
	if config == nil {
		config = req.Clone()
	}
	config.URL = req.URL

	xraylog.Debugf(ctx, "dispatcher: sending %s %s (trace %v)", req.Method, fullURL, traceID)
	start := time.Now()
	resp, err := d.transport.Do(ctx, config)
	d.metrics.observe(req.Method, resp, err, d.remoteServiceName, time.Since(start))

	if err != nil {
		xraylog.Debugf(ctx, "dispatcher: %s %s failed: %v", req.Method, fullURL, err)
		d.safely(ctx, "record error", func() {
			d.tracer.Scoped(ctx, func(ctx context.Context) {
				instrumentation.RecordError(ctx, traceID, err)
			})
		})
		return nil, err
	}

	var status int
	if resp != nil {
		status = resp.StatusCode
	}
	xraylog.Debugf(ctx, "dispatcher: %s %s settled with status %d", req.Method, fullURL, status)
	d.safely(ctx, "record response", func() {
		d.tracer.Scoped(ctx, func(ctx context.Context) {
			if r, ok := instrumentation.(ResponseRecorder); ok && resp != nil {
				r.RecordHTTPResponse(ctx, traceID, resp)
				return
			}
			instrumentation.RecordResponse(ctx, traceID, status)
		})
	})
	return resp, nil
}

// safely runs f, turning a panic into an error log.
// Tracing failures must not change the result of a call.
func (d *Dispatcher) safely(ctx context.Context, op string, f func()) {
	defer func() {
		if v := recover(); v != nil {
			xraylog.Errorf(ctx, "dispatcher: failed to %s: %v", op, v)
		}
	}()
	f()
}
