// Package oteltracer implements dispatcher.Tracer with OpenTelemetry.
package oteltracer

import (
	"context"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/shogo82148/xray-dispatcher-go/dispatcher"
)

const instrumentationName = "github.com/shogo82148/xray-dispatcher-go/oteltracer"

var _ dispatcher.Tracer = (*Tracer)(nil)

// Tracer is a dispatcher.Tracer recording calls as client spans.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	spanName   func(method, url string) string
}

// Option configures Tracer.
type Option func(*Tracer)

// WithPropagator sets the propagator injecting the span context into the requests.
// The default is the W3C trace context propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(t *Tracer) {
		t.propagator = p
	}
}

// WithSpanNameFormatter sets the function naming the spans.
// The default names spans after the request method.
func WithSpanNameFormatter(f func(method, url string) string) Option {
	return func(t *Tracer) {
		t.spanName = f
	}
}

// New returns a Tracer starting spans with tp.
// If tp is nil, the global tracer provider is used.
func New(tp trace.TracerProvider, opts ...Option) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	t := &Tracer{
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagation.TraceContext{},
		spanName: func(method, url string) string {
			return method
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
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
// It returns nil if neither the scope nor the context has a valid span.
func (t *Tracer) ID(ctx context.Context) dispatcher.TraceID {
	if s := contextScope(ctx); s != nil {
		s.mu.Lock()
		id := s.id
		s.mu.Unlock()
		if id != nil {
			return id
		}
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return &TraceID{sc: sc}
}

// HTTPClient implements dispatcher.Tracer.
func (t *Tracer) HTTPClient(remoteServiceName string) dispatcher.Instrumentation {
	return &instrumentation{
		tracer:            t,
		remoteServiceName: remoteServiceName,
	}
}

// TraceID identifies the span of a call.
type TraceID struct {
	sc trace.SpanContext

	// span is nil if the span is not started by the call.
	span trace.Span
}

// SpanContext returns the span context of the call.
func (id *TraceID) SpanContext() trace.SpanContext {
	return id.sc
}

func (id *TraceID) String() string {
	return id.sc.TraceID().String() + "-" + id.sc.SpanID().String()
}

type instrumentation struct {
	tracer            *Tracer
	remoteServiceName string
}

func (i *instrumentation) RecordRequest(ctx context.Context, req *dispatcher.Request, url, method string) *dispatcher.Request {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.URLFull(url),
		),
	}
	if i.remoteServiceName != "" {
		opts = append(opts, trace.WithAttributes(semconv.PeerService(i.remoteServiceName)))
	}
	spanCtx, span := i.tracer.tracer.Start(ctx, i.tracer.spanName(method, url), opts...)

	config := req.Clone()
	if config.Header == nil {
		config.Header = make(http.Header)
	}
	i.tracer.propagator.Inject(spanCtx, propagation.HeaderCarrier(config.Header))

	if s := contextScope(ctx); s != nil {
		s.mu.Lock()
		s.id = &TraceID{
			sc:   span.SpanContext(),
			span: span,
		}
		s.mu.Unlock()
	}
	return config
}

func (i *instrumentation) RecordResponse(ctx context.Context, id dispatcher.TraceID, statusCode int) {
	span := spanOf(id)
	if span == nil {
		return
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
	span.End()
}

func (i *instrumentation) RecordError(ctx context.Context, id dispatcher.TraceID, err error) {
	span := spanOf(id)
	if span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

func spanOf(id dispatcher.TraceID) trace.Span {
	tid, ok := id.(*TraceID)
	if !ok || tid == nil {
		return nil
	}
	return tid.span
}
