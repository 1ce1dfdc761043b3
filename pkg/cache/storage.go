package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockTimeout       = 5 * time.Second
	lockRetryInterval = 10 * time.Millisecond
)

var ErrLockTimeout = errors.New("timeout acquiring cache lock")

// Storage holds one encoded entry per server.
type Storage interface {
	Get(serverID string) ([]byte, bool, error)
	Put(serverID string, data []byte) error
	Delete(serverID string) error
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*DirStorage)(nil)
)

type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: map[string][]byte{}}
}

func (s *MemoryStorage) Get(serverID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[serverID]

	return data, ok, nil
}

func (s *MemoryStorage) Put(serverID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[serverID] = append([]byte{}, data...)

	return nil
}

func (s *MemoryStorage) Delete(serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, serverID)

	return nil
}

// DirStorage writes each server's entry to its own file, locked per file so
// servers never contend with each other.
type DirStorage struct {
	dir string
}

func NewDirStorage(dir string) *DirStorage {
	return &DirStorage{dir: dir}
}

func (s *DirStorage) path(serverID string) string {
	sum := sha256.Sum256([]byte(serverID))

	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

func (s *DirStorage) withLock(serverID string, fn func(path string) error) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("could not create cache directory: %w", err)
	}

	path := s.path(serverID)
	lock := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}

		return fmt.Errorf("could not lock cache entry for %s: %w", serverID, err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer lock.Unlock()

	return fn(path)
}

func (s *DirStorage) Get(serverID string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.withLock(serverID, func(path string) error {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}

			return err
		}

		found = true

		return nil
	})

	return data, found, err
}

func (s *DirStorage) Put(serverID string, data []byte) error {
	return s.withLock(serverID, func(path string) error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return err
		}

		return os.Rename(tmp, path)
	})
}

func (s *DirStorage) Delete(serverID string) error {
	return s.withLock(serverID, func(path string) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		return nil
	})
}
