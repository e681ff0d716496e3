package dispatcher

import "context"

// Transport performs HTTP calls.
type Transport interface {
	// Do sends req and returns its response.
	// A response with a non-2xx status is not an error.
	Do(ctx context.Context, req *Request) (*Response, error)

	// BaseURL returns the prefix applied to relative request URLs,
	// or an empty string if the transport has none.
	BaseURL() string
}

// TraceID identifies the span of a single call.
// Its concrete type is chosen by the Tracer.
type TraceID interface {
	String() string
}

// Tracer creates tracing scopes and instrumentation helpers.
type Tracer interface {
	// Scoped runs f in a new scope.
	// The scope is reachable only through the context passed to f.
	Scoped(ctx context.Context, f func(ctx context.Context))

	// ID returns the identifier active in the scope of ctx.
	ID(ctx context.Context) TraceID

	// HTTPClient returns a helper recording HTTP client calls to remoteServiceName.
	HTTPClient(remoteServiceName string) Instrumentation
}

// Instrumentation records the lifecycle of one HTTP client call.
type Instrumentation interface {
	// RecordRequest starts a span for a request to url and returns a copy of req
	// decorated with propagation headers. The span becomes the active identifier of
	// the scope of ctx. req must not be modified.
	// A span registered in the scope is settled even if RecordRequest panics later;
	// a span that never becomes the active identifier is leaked.
	RecordRequest(ctx context.Context, req *Request, url, method string) *Request

	// RecordResponse records the status code of the call identified by id and finishes it.
	RecordResponse(ctx context.Context, id TraceID, statusCode int)

	// RecordError records err as the failure of the call identified by id and finishes it.
	RecordError(ctx context.Context, id TraceID, err error)
}

// ResponseRecorder is an Instrumentation that needs the whole response.
// When an Instrumentation implements it, RecordHTTPResponse is called in place of RecordResponse.
type ResponseRecorder interface {
	RecordHTTPResponse(ctx context.Context, id TraceID, resp *Response)
}
