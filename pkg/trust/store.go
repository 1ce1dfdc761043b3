package trust

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

const (
	lockTimeout       = 5 * time.Second
	lockRetryInterval = 10 * time.Millisecond
)

// Store persists accepted certificate fingerprints per identity.
type Store interface {
	Load(id Identity) (Certificate, bool, error)
	Save(id Identity, cert Certificate) error
	Remove(id Identity) error
	List() (map[string]Certificate, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

type MemoryStore struct {
	mu    sync.RWMutex
	certs map[string]Certificate
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{certs: map[string]Certificate{}}
}

func (s *MemoryStore) Load(id Identity) (Certificate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.certs[id.ID()]

	return cert, ok, nil
}

func (s *MemoryStore) Save(id Identity, cert Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.certs[id.ID()] = cert

	return nil
}

func (s *MemoryStore) Remove(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.certs, id.ID())

	return nil
}

func (s *MemoryStore) List() (map[string]Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Certificate, len(s.certs))
	for id, cert := range s.certs {
		out[id] = cert
	}

	return out, nil
}

// FileStore keeps pins in a YAML document keyed by identity ID. Access is
// serialised across processes with a lock file next to it.
type FileStore struct {
	// flock does not exclude goroutines sharing one handle.
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *FileStore) Load(id Identity) (Certificate, bool, error) {
	certs, err := s.List()
	if err != nil {
		return Certificate{}, false, err
	}

	cert, ok := certs[id.ID()]

	return cert, ok, nil
}

func (s *FileStore) List() (map[string]Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(false); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	return s.read()
}

func (s *FileStore) Save(id Identity, cert Certificate) error {
	return s.update(func(certs map[string]Certificate) {
		certs[id.ID()] = cert
	})
}

func (s *FileStore) Remove(id Identity) error {
	return s.update(func(certs map[string]Certificate) {
		delete(certs, id.ID())
	})
}

func (s *FileStore) update(fn func(map[string]Certificate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.acquire(true); err != nil {
		return err
	}
	defer s.lock.Unlock()

	certs, err := s.read()
	if err != nil {
		return err
	}

	fn(certs)

	return s.write(certs)
}

func (s *FileStore) acquire(exclusive bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("could not create trust store directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetryInterval)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetryInterval)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}

		return fmt.Errorf("could not lock trust store %s: %w", s.path, err)
	}
	if !locked {
		return ErrLockTimeout
	}

	return nil
}

func (s *FileStore) read() (map[string]Certificate, error) {
	certs := map[string]Certificate{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return certs, nil
		}

		return nil, fmt.Errorf("could not read trust store: %w", err)
	}

	if err := yaml.Unmarshal(data, &certs); err != nil {
		return nil, fmt.Errorf("could not parse trust store: %w", err)
	}
	if certs == nil {
		certs = map[string]Certificate{}
	}

	return certs, nil
}

func (s *FileStore) write(certs map[string]Certificate) error {
	data, err := yaml.Marshal(certs)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write trust store: %w", err)
	}

	return os.Rename(tmp, s.path)
}
