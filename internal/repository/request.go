package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akave-ai/clockwork/internal/model"
	"github.com/akave-ai/clockwork/internal/storage"
)

// RequestRepository persists request records in Postgres. It implements
// storage.Storage.
type RequestRepository struct {
	pool       *pgxpool.Pool
	expiration time.Duration
}

var (
	_ storage.Storage = (*RequestRepository)(nil)
	_ storage.Cleaner = (*RequestRepository)(nil)
)

// NewRequestRepository returns a RequestRepository using the given pool.
// A zero expiration disables Cleanup.
func NewRequestRepository(pool *pgxpool.Pool, expiration time.Duration) *RequestRepository {
	return &RequestRepository{pool: pool, expiration: expiration}
}

// Store inserts the record, replacing an existing one with the same id.
func (r *RequestRepository) Store(ctx context.Context, req *model.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO clockwork_requests (id, type, time, method, uri, response_status, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, response_status = EXCLUDED.response_status`,
		req.ID,
		string(req.Type),
		req.Time,
		req.Method,
		req.URI,
		req.ResponseStatus,
		data,
	)
	return err
}

// Update overwrites an existing record.
func (r *RequestRepository) Update(ctx context.Context, req *model.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE clockwork_requests SET data = $2 WHERE id = $1`, req.ID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Find returns one record by id, or nil if not found.
func (r *RequestRepository) Find(ctx context.Context, id string) (*model.Request, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM clockwork_requests WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRequest(data)
}

// Latest returns the most recently created record, or nil.
func (r *RequestRepository) Latest(ctx context.Context) (*model.Request, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM clockwork_requests ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeRequest(data)
}

// Previous returns up to count records older than id, oldest first.
func (r *RequestRepository) Previous(ctx context.Context, id string, count int) ([]*model.Request, error) {
	if count <= 0 {
		return nil, nil
	}
	list, err := r.list(ctx, `
		SELECT data FROM clockwork_requests
		WHERE id < $1 AND EXISTS (SELECT 1 FROM clockwork_requests WHERE id = $1)
		ORDER BY id DESC LIMIT $2`, id, count)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

// Next returns up to count records newer than id, oldest first.
func (r *RequestRepository) Next(ctx context.Context, id string, count int) ([]*model.Request, error) {
	if count <= 0 {
		return nil, nil
	}
	return r.list(ctx, `
		SELECT data FROM clockwork_requests
		WHERE id > $1 AND EXISTS (SELECT 1 FROM clockwork_requests WHERE id = $1)
		ORDER BY id ASC LIMIT $2`, id, count)
}

// Cleanup deletes records stored longer ago than the expiration.
func (r *RequestRepository) Cleanup(ctx context.Context) (int, error) {
	if r.expiration <= 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM clockwork_requests WHERE created_at < $1`,
		time.Now().Add(-r.expiration))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *RequestRepository) list(ctx context.Context, query string, args ...any) ([]*model.Request, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*model.Request
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		req, err := decodeRequest(data)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

func decodeRequest(data []byte) (*model.Request, error) {
	req := &model.Request{}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.Log == nil {
		req.Log = model.NewLog()
	}
	if req.Timeline == nil {
		req.Timeline = model.NewTimeline()
	}
	return req, nil
}
