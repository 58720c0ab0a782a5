// Package snsctx carries per-call driver settings through context.Context.
package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexBusID
)

// IsVerbose reports whether bus traffic should be hex dumped.
func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// BusID returns the adapter index selected for the call, if any. Adapters
// that can enumerate several identical devices use it to pick one.
func BusID(ctx context.Context) (int, bool) {
	val := ctx.Value(ctxIndexBusID)
	if val == nil {
		return 0, false
	}
	return val.(int), true
}

func SetBusID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, ctxIndexBusID, id)
}
