package xray

import (
	"context"
)

// Capture runs f inside a new subsegment named name.
// A non-nil error returned by f is recorded as the cause of the subsegment.
func Capture(ctx context.Context, name string, f func(context.Context) error) error {
	ctx, seg := BeginSubsegment(ctx, name)
	defer seg.Close()
	err := f(ctx)
	seg.AddError(err)
	return err
}

// CaptureValue is like Capture, but f also returns a value.
func CaptureValue[T any](ctx context.Context, name string, f func(context.Context) (T, error)) (T, error) {
	ctx, seg := BeginSubsegment(ctx, name)
	defer seg.Close()
	v, err := f(ctx)
	seg.AddError(err)
	return v, err
}
