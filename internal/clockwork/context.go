package clockwork

import "context"

type contextKey struct{}

// NewContext returns a copy of ctx carrying c.
func NewContext(ctx context.Context, c *Clockwork) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// FromContext returns the Clockwork carried by ctx, or nil.
func FromContext(ctx context.Context) *Clockwork {
	if ctx == nil {
		return nil
	}
	c, _ := ctx.Value(contextKey{}).(*Clockwork)
	return c
}

// Detach returns a copy of ctx that no longer carries a Clockwork and is not
// cancelled with its parent. Work done after a request has been resolved,
// such as storing it, runs under a detached context so it is not recorded
// into the request it is handling.
func Detach(ctx context.Context) context.Context {
	return NewContext(context.WithoutCancel(ctx), nil)
}
