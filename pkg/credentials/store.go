package credentials

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrDuplicateItem = errors.New("duplicate item")
	ErrNotFound      = errors.New("credentials not found")
)

type Key struct {
	Host     string
	Port     int
	Secure   bool
	Username string
}

func (k Key) id() string {
	return strconv.FormatBool(k.Secure) + "|" + strings.ToLower(k.Host) + "|" + strconv.Itoa(k.Port) + "|" + k.Username
}

type Credentials struct {
	Key      Key
	Password string
}

// Store is a secret store for daemon passwords.
type Store interface {
	Save(creds Credentials) error
	Load(key Key) (Credentials, bool, error)
	Delete(key Key) error
}

// backend is the primitive add/update interface secret stores expose; add
// fails with ErrDuplicateItem when the key exists.
type backend interface {
	add(creds Credentials) error
	update(creds Credentials) error
	load(key Key) (Credentials, bool, error)
	remove(key Key) (bool, error)
}

// SecretStore adapts a backend so that saving an existing key updates it in
// place.
type SecretStore struct {
	backend backend
}

var _ Store = (*SecretStore)(nil)

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() *SecretStore {
	return &SecretStore{backend: &memoryBackend{items: map[string]Credentials{}}}
}

func (s *SecretStore) Save(creds Credentials) error {
	err := s.backend.add(creds)
	if errors.Is(err, ErrDuplicateItem) {
		return s.backend.update(creds)
	}

	return err
}

func (s *SecretStore) Load(key Key) (Credentials, bool, error) {
	return s.backend.load(key)
}

func (s *SecretStore) Delete(key Key) error {
	ok, err := s.backend.remove(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	return nil
}

type memoryBackend struct {
	mu    sync.Mutex
	items map[string]Credentials
}

func (b *memoryBackend) add(creds Credentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[creds.Key.id()]; ok {
		return ErrDuplicateItem
	}

	b.items[creds.Key.id()] = creds

	return nil
}

func (b *memoryBackend) update(creds Credentials) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.items[creds.Key.id()]; !ok {
		return ErrNotFound
	}

	b.items[creds.Key.id()] = creds

	return nil
}

func (b *memoryBackend) load(key Key) (Credentials, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	creds, ok := b.items[key.id()]

	return creds, ok, nil
}

func (b *memoryBackend) remove(key Key) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.items[key.id()]
	delete(b.items, key.id())

	return ok, nil
}
