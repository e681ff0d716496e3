// Package ctxmissing provides the context missing strategy.
package ctxmissing

import (
	"context"
	"strings"

	"github.com/shogo82148/xray-dispatcher-go/xray/xraylog"
)

// Strategy provides an interface for
// implementing context missing strategies.
type Strategy interface {
	// ContextMissing is called when any segment is not associated with a context.
	ContextMissing(ctx context.Context, v any)
}

// FromName returns the strategy named by AWS_XRAY_CONTEXT_MISSING.
// Unknown names fall back to LogErrorStrategy.
func FromName(name string) Strategy {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "RUNTIME_ERROR":
		return NewRuntimeErrorStrategy()
	case "IGNORE_ERROR":
		return NewIgnoreStrategy()
	}
	return NewLogErrorStrategy()
}

// LogErrorStrategy logs the missing value at the error level.
type LogErrorStrategy struct{}

// NewLogErrorStrategy returns a new LogErrorStrategy.
func NewLogErrorStrategy() *LogErrorStrategy {
	return &LogErrorStrategy{}
}

func (*LogErrorStrategy) ContextMissing(ctx context.Context, v any) {
	xraylog.Errorf(ctx, "xray: context missing: %v", v)
}

// RuntimeErrorStrategy panics with the missing value.
type RuntimeErrorStrategy struct{}

// NewRuntimeErrorStrategy returns a new RuntimeErrorStrategy.
func NewRuntimeErrorStrategy() *RuntimeErrorStrategy {
	return &RuntimeErrorStrategy{}
}

func (*RuntimeErrorStrategy) ContextMissing(ctx context.Context, v any) {
	panic(v)
}

// IgnoreStrategy drops the missing value silently.
type IgnoreStrategy struct{}

// NewIgnoreStrategy returns a new IgnoreStrategy.
func NewIgnoreStrategy() *IgnoreStrategy {
	return &IgnoreStrategy{}
}

func (*IgnoreStrategy) ContextMissing(ctx context.Context, v any) {}
