package engine

import "context"

type progressKey struct{}

type progressFunc func(payload map[string]interface{})

func withProgressReporter(ctx context.Context, fn progressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress publishes a progress event for the execution that owns
// ctx. Outside an execution it is a no-op, so tools can call it
// unconditionally.
func ReportProgress(ctx context.Context, payload map[string]interface{}) {
	fn, ok := ctx.Value(progressKey{}).(progressFunc)
	if !ok {
		return
	}
	fn(payload)
}
