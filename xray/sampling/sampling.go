// Package sampling decides which new traces are recorded.
package sampling

import "math/rand/v2"

// Request holds what a Strategy may look at when a root segment begins.
type Request struct {
	// ServiceName is the name of the root segment.
	ServiceName string
}

// Decision is the result of a Strategy.
type Decision struct {
	Sample bool
}

// Strategy decides whether a new trace is sampled.
type Strategy interface {
	ShouldTrace(req *Request) *Decision
}

// StrategyFunc turns a function into a Strategy.
type StrategyFunc func(req *Request) *Decision

// ShouldTrace calls f(req).
func (f StrategyFunc) ShouldTrace(req *Request) *Decision {
	return f(req)
}

var (
	sampled    = &Decision{Sample: true}
	notSampled = &Decision{Sample: false}
)

// NewAllStrategy returns a Strategy sampling every trace.
func NewAllStrategy() Strategy {
	return StrategyFunc(func(*Request) *Decision { return sampled })
}

// NewNeverStrategy returns a Strategy sampling no trace.
func NewNeverStrategy() Strategy {
	return StrategyFunc(func(*Request) *Decision { return notSampled })
}

// NewRatioStrategy returns a Strategy sampling the fraction rate of the traces.
// A rate outside (0, 1) samples nothing or everything.
func NewRatioStrategy(rate float64) Strategy {
	return newRatioStrategy(rate, rand.Float64)
}

func newRatioStrategy(rate float64, random func() float64) Strategy {
	if rate <= 0 {
		return NewNeverStrategy()
	}
	if rate >= 1 {
		return NewAllStrategy()
	}
	return StrategyFunc(func(*Request) *Decision {
		if random() < rate {
			return sampled
		}
		return notSampled
	})
}
