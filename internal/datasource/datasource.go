package datasource

import (
	"context"

	"github.com/akave-ai/clockwork/internal/model"
)

// DataSource populates the fields of a Request it can extract from its
// environment. Implementations mutate the request in place and document the
// fields they claim; when two sources set the same field the one registered
// last wins.
type DataSource interface {
	// Resolve fills the live request. It may run after other sources have
	// already set fields.
	Resolve(ctx context.Context, req *model.Request) error
	// Extend enriches a request loaded back from storage.
	Extend(ctx context.Context, req *model.Request) error
	// Reset drops adapter-local state between units of work.
	Reset()
}

// Base provides no-op Extend and Reset for embedding.
type Base struct{}

func (Base) Extend(context.Context, *model.Request) error { return nil }

func (Base) Reset() {}

// Func adapts a plain function to a DataSource.
type Func func(ctx context.Context, req *model.Request) error

func (f Func) Resolve(ctx context.Context, req *model.Request) error { return f(ctx, req) }

func (Func) Extend(context.Context, *model.Request) error { return nil }

func (Func) Reset() {}
