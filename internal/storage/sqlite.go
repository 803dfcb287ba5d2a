package storage

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/akave-ai/clockwork/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clockwork_requests (
	id         TEXT PRIMARY KEY,
	time       REAL NOT NULL,
	type       TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS clockwork_requests_time ON clockwork_requests (time);
`

// SQLiteStorage keeps encoded records in a single SQLite table.
type SQLiteStorage struct {
	pool       *sqlitex.Pool
	codec      Codec
	expiration time.Duration
}

// NewSQLiteStorage opens (creating if needed) the database at path.
func NewSQLiteStorage(path string, poolSize int, codec Codec, expiration time.Duration) (*SQLiteStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite storage: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareSQLiteConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: open %s: %w", path, err)
	}

	s := &SQLiteStorage{pool: pool, codec: codec, expiration: expiration}
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite storage: take: %w", err)
	}
	defer pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite storage: schema: %w", err)
	}
	return s, nil
}

func prepareSQLiteConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases every pooled connection.
func (s *SQLiteStorage) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStorage) Store(ctx context.Context, req *model.Request) error {
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite storage: take: %w", err)
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO clockwork_requests (id, time, type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET time = excluded.time, type = excluded.type, data = excluded.data`,
		&sqlitex.ExecOptions{
			Args: []any{req.ID, req.Time, string(req.Type), data, time.Now().Unix()},
		})
}

func (s *SQLiteStorage) Update(ctx context.Context, req *model.Request) error {
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite storage: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE clockwork_requests SET data = ?, type = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{data, string(req.Type), req.ID}})
	if err != nil {
		return fmt.Errorf("sqlite storage: update %s: %w", req.ID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) Find(ctx context.Context, id string) (*model.Request, error) {
	reqs, err := s.query(ctx, `SELECT data FROM clockwork_requests WHERE id = ?`, id)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return reqs[0], nil
}

func (s *SQLiteStorage) Latest(ctx context.Context) (*model.Request, error) {
	reqs, err := s.query(ctx, `SELECT data FROM clockwork_requests ORDER BY id DESC LIMIT 1`)
	if err != nil || len(reqs) == 0 {
		return nil, err
	}
	return reqs[0], nil
}

func (s *SQLiteStorage) Previous(ctx context.Context, id string, count int) ([]*model.Request, error) {
	if count <= 0 || !s.exists(ctx, id) {
		return nil, nil
	}
	reqs, err := s.query(ctx,
		`SELECT data FROM clockwork_requests WHERE id < ? ORDER BY id DESC LIMIT ?`, id, count)
	if err != nil {
		return nil, err
	}
	// newest first from the query; callers get oldest first
	for i, j := 0, len(reqs)-1; i < j; i, j = i+1, j-1 {
		reqs[i], reqs[j] = reqs[j], reqs[i]
	}
	return reqs, nil
}

func (s *SQLiteStorage) Next(ctx context.Context, id string, count int) ([]*model.Request, error) {
	if count <= 0 || !s.exists(ctx, id) {
		return nil, nil
	}
	return s.query(ctx,
		`SELECT data FROM clockwork_requests WHERE id > ? ORDER BY id ASC LIMIT ?`, id, count)
}

// Cleanup deletes records stored longer ago than the expiration.
func (s *SQLiteStorage) Cleanup(ctx context.Context) (int, error) {
	if s.expiration <= 0 {
		return 0, nil
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite storage: take: %w", err)
	}
	defer s.pool.Put(conn)

	cutoff := time.Now().Add(-s.expiration).Unix()
	err = sqlitex.Execute(conn, `DELETE FROM clockwork_requests WHERE created_at < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("sqlite storage: cleanup: %w", err)
	}
	return conn.Changes(), nil
}

func (s *SQLiteStorage) exists(ctx context.Context, id string) bool {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false
	}
	defer s.pool.Put(conn)

	found := false
	_ = sqlitex.Execute(conn, `SELECT 1 FROM clockwork_requests WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found
}

func (s *SQLiteStorage) query(ctx context.Context, query string, args ...any) ([]*model.Request, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: take: %w", err)
	}
	defer s.pool.Put(conn)

	var blobs [][]byte
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			buf := make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, buf)
			blobs = append(blobs, buf)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite storage: query: %w", err)
	}

	out := make([]*model.Request, 0, len(blobs))
	for _, b := range blobs {
		req, err := s.codec.Decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
