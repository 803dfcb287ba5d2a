package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/akave-ai/clockwork/internal/model"
)

// FileStorage keeps one file per request in a directory. Request ids are
// time-ordered, so sorting file names sorts records by creation.
type FileStorage struct {
	dir        string
	codec      Codec
	expiration time.Duration

	mu sync.RWMutex
}

// NewFileStorage creates dir if needed. A zero expiration keeps records
// forever.
func NewFileStorage(dir string, codec Codec, expiration time.Duration) (*FileStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file storage: create %s: %w", dir, err)
	}
	return &FileStorage{dir: dir, codec: codec, expiration: expiration}, nil
}

func (s *FileStorage) path(id string) string {
	return filepath.Join(s.dir, id+s.codec.Ext())
}

func (s *FileStorage) Store(_ context.Context, req *model.Request) error {
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(req.ID, data)
}

func (s *FileStorage) Update(_ context.Context, req *model.Request) error {
	data, err := s.codec.Encode(req)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(req.ID)); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return s.write(req.ID, data)
}

// write replaces the record atomically so readers never see partial files.
func (s *FileStorage) write(id string, data []byte) error {
	if !validID(id) {
		return fmt.Errorf("file storage: invalid id %q", id)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+id+"-*")
	if err != nil {
		return fmt.Errorf("file storage: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: close %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file storage: rename %s: %w", id, err)
	}
	return nil
}

func (s *FileStorage) Find(_ context.Context, id string) (*model.Request, error) {
	if !validID(id) {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

func (s *FileStorage) load(id string) (*model.Request, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file storage: read %s: %w", id, err)
	}
	return s.codec.Decode(data)
}

func (s *FileStorage) Latest(context.Context) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.ids()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return s.load(ids[len(ids)-1])
}

func (s *FileStorage) Previous(_ context.Context, id string, count int) ([]*model.Request, error) {
	return s.around(id, count, false)
}

func (s *FileStorage) Next(_ context.Context, id string, count int) ([]*model.Request, error) {
	return s.around(id, count, true)
}

func (s *FileStorage) around(id string, count int, after bool) ([]*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	var out []*model.Request
	for _, candidate := range window(ids, id, count, after) {
		req, err := s.load(candidate)
		if err != nil {
			return nil, err
		}
		if req != nil {
			out = append(out, req)
		}
	}
	return out, nil
}

// ids lists stored request ids, oldest first.
func (s *FileStorage) ids() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("file storage: list %s: %w", s.dir, err)
	}
	ext := s.codec.Ext()
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}

// Cleanup removes records older than the configured expiration and
// returns how many were deleted.
func (s *FileStorage) Cleanup(_ context.Context) (int, error) {
	if s.expiration <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-s.expiration)
	removed := 0
	for _, id := range ids {
		info, err := os.Stat(s.path(id))
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("file storage: remove %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

// validID rejects ids that could escape the storage directory.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
