// Package kvstore provides the persistent key-value contract the engine
// stores script records in: serialized writes per key, reads of the last
// committed value, and change subscriptions.
package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"pkt.systems/pslog"
)

// Store is the persistence contract consumed by the engine. Writes are
// serialized per key; Subscribe callbacks observe every committed Set.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Subscribe(key string, fn func(value []byte)) (cancel func())
}

// FileStore persists values as files under a state directory.
type FileStore struct {
	dir string
	log pslog.Logger

	mu   sync.Mutex
	subs map[string]map[int]func([]byte)
	next int
}

// NewFileStore constructs a file-backed store at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	return NewFileStoreWithLogger(dir, nil)
}

// NewFileStoreWithLogger constructs a file-backed store with logging.
func NewFileStoreWithLogger(dir string, logger pslog.Logger) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &FileStore{dir: dir, log: logger, subs: make(map[string]map[int]func([]byte))}, nil
}

// Get reads the last committed value for key.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.pathForKey(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("kv load miss", "key", key)
			}
			return nil, false, nil
		}
		if s.log != nil {
			s.log.Warn("kv load failed", "key", key, "err", err)
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set atomically writes the value for key and notifies subscribers. The
// write lands via a temp file, fsync, chmod, and rename so a crashed write
// never corrupts the previous value.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	path := s.pathForKey(key)
	if err := s.writeLocked(path, value); err != nil {
		s.mu.Unlock()
		if s.log != nil {
			s.log.Warn("kv save failed", "key", key, "err", err)
		}
		return err
	}
	subs := make([]func([]byte), 0, len(s.subs[key]))
	for _, fn := range s.subs[key] {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	if s.log != nil {
		s.log.Trace("kv save ok", "key", key, "bytes", len(value))
	}
	for _, fn := range subs {
		fn(value)
	}
	return nil
}

// Subscribe registers a change callback for key and returns a cancel func.
func (s *FileStore) Subscribe(key string, fn func(value []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[key]
	if subs == nil {
		subs = make(map[int]func([]byte))
		s.subs[key] = subs
	}
	id := s.next
	s.next++
	subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs := s.subs[key]; subs != nil {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subs, key)
			}
		}
	}
}

func (s *FileStore) writeLocked(path string, value []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "kv-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileStore) pathForKey(key string) string {
	name := sanitize(key)
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
