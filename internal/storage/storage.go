package storage

import (
	"context"
	"errors"

	"github.com/akave-ai/clockwork/internal/model"
)

// ErrNotFound is returned by Update when the record does not exist.
var ErrNotFound = errors.New("request not found")

// Storage persists and retrieves request records. Find and Latest return
// (nil, nil) when there is nothing to return. Previous and Next list up to
// count records older / newer than id, oldest first.
type Storage interface {
	Store(ctx context.Context, req *model.Request) error
	Update(ctx context.Context, req *model.Request) error
	Find(ctx context.Context, id string) (*model.Request, error)
	Latest(ctx context.Context) (*model.Request, error)
	Previous(ctx context.Context, id string, count int) ([]*model.Request, error)
	Next(ctx context.Context, id string, count int) ([]*model.Request, error)
}

// Cleaner is implemented by backends that can expire old records.
type Cleaner interface {
	Cleanup(ctx context.Context) (int, error)
}

// window picks up to count ids before or after id from a sorted id list.
// It is shared by backends that can list their ids cheaply.
func window(ids []string, id string, count int, after bool) []string {
	if count <= 0 {
		return nil
	}
	pos := -1
	for i, candidate := range ids {
		if candidate == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	if after {
		end := pos + 1 + count
		if end > len(ids) {
			end = len(ids)
		}
		return ids[pos+1 : end]
	}
	start := pos - count
	if start < 0 {
		start = 0
	}
	return ids[start:pos]
}
