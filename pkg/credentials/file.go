package credentials

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

var ErrLockTimeout = errors.New("timeout acquiring credentials lock")

type fileItem struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Secure   bool   `yaml:"secure"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// fileBackend keeps secrets in an owner-only YAML file.
type fileBackend struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

// NewFileStore returns a Store persisted at path with 0600 permissions.
func NewFileStore(path string) *SecretStore {
	return &SecretStore{backend: &fileBackend{
		path: path,
		lock: flock.New(path + ".lock"),
	}}
}

func (b *fileBackend) add(creds Credentials) error {
	return b.with(true, func(items map[string]fileItem) (bool, error) {
		if _, ok := items[creds.Key.id()]; ok {
			return false, ErrDuplicateItem
		}

		items[creds.Key.id()] = toItem(creds)

		return true, nil
	})
}

func (b *fileBackend) update(creds Credentials) error {
	return b.with(true, func(items map[string]fileItem) (bool, error) {
		if _, ok := items[creds.Key.id()]; !ok {
			return false, ErrNotFound
		}

		items[creds.Key.id()] = toItem(creds)

		return true, nil
	})
}

func (b *fileBackend) load(key Key) (Credentials, bool, error) {
	var (
		creds Credentials
		found bool
	)
	err := b.with(false, func(items map[string]fileItem) (bool, error) {
		item, ok := items[key.id()]
		if ok {
			creds, found = fromItem(item), true
		}

		return false, nil
	})

	return creds, found, err
}

func (b *fileBackend) remove(key Key) (bool, error) {
	found := false
	err := b.with(true, func(items map[string]fileItem) (bool, error) {
		if _, ok := items[key.id()]; !ok {
			return false, nil
		}

		delete(items, key.id())
		found = true

		return true, nil
	})

	return found, err
}

func (b *fileBackend) with(exclusive bool, fn func(map[string]fileItem) (bool, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("could not create credentials directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = b.lock.TryLockContext(ctx, lockRetryInterval)
	} else {
		locked, err = b.lock.TryRLockContext(ctx, lockRetryInterval)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}

		return fmt.Errorf("could not lock credentials: %w", err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer b.lock.Unlock()

	items := map[string]fileItem{}
	data, err := os.ReadFile(b.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("could not read credentials: %w", err)
	default:
		if err := yaml.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("could not parse credentials: %w", err)
		}
		if items == nil {
			items = map[string]fileItem{}
		}
	}

	changed, err := fn(items)
	if err != nil || !changed {
		return err
	}

	out, err := yaml.Marshal(items)
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("could not write credentials: %w", err)
	}

	return os.Rename(tmp, b.path)
}

func toItem(creds Credentials) fileItem {
	return fileItem{
		Host:     creds.Key.Host,
		Port:     creds.Key.Port,
		Secure:   creds.Key.Secure,
		Username: creds.Key.Username,
		Password: creds.Password,
	}
}

func fromItem(item fileItem) Credentials {
	return Credentials{
		Key: Key{
			Host:     item.Host,
			Port:     item.Port,
			Secure:   item.Secure,
			Username: item.Username,
		},
		Password: item.Password,
	}
}
