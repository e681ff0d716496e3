// Package dispatcher sends outbound HTTP requests through a Transport and
// records every request/response cycle as a span of a distributed trace.
//
// A Dispatcher opens a tracing scope for each call, lets the tracer decorate
// the outgoing request with propagation headers, captures the trace
// identifier of the call before it is sent, and records the response status
// or the error against that identifier once the call settles.
// Concurrent calls never share a scope.
package dispatcher
