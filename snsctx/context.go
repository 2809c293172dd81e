package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexSession
)

// IsVerbose reports whether raw bus traffic should be logged.
func IsVerbose(ctx context.Context) bool {
	val, _ := ctx.Value(ctxIndexVerbose).(bool)
	return val
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// WithSession tags ctx with the identifier of a recording session.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxIndexSession, id)
}

// Session returns the recording session of ctx, empty when none is set.
func Session(ctx context.Context) string {
	val, _ := ctx.Value(ctxIndexSession).(string)
	return val
}
