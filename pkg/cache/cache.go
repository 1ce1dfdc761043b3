package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pojntfx/tremote/pkg/mapper"
	"github.com/rs/zerolog/log"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	ErrSizeLimitExceeded = errors.New("cache size limit exceeded")
)

// SizeLimitError reports a rejected write. The server's entry has been
// removed when it is returned.
type SizeLimitError struct {
	ServerID string
	Size     int
	Limit    int
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("could not cache %d bytes for %s: limit is %d", e.Size, e.ServerID, e.Limit)
}

func (e *SizeLimitError) Unwrap() error { return ErrSizeLimitExceeded }

// Key selects a server's entry; Fingerprint and ProtocolVersion must match
// what was written for a read to hit.
type Key struct {
	ServerID        string
	Fingerprint     string
	ProtocolVersion int64
}

// Policy bounds entries. A zero TTL never expires and a zero
// MaxBytesPerServer is unlimited.
type Policy struct {
	TTL               time.Duration
	MaxBytesPerServer int
}

var DefaultPolicy = Policy{
	TTL:               7 * 24 * time.Hour,
	MaxBytesPerServer: 8 << 20,
}

type TorrentsSnapshot struct {
	Torrents  []mapper.Torrent `json:"torrents"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type SessionSnapshot struct {
	Session   mapper.SessionState `json:"session"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type Snapshot struct {
	Torrents *TorrentsSnapshot `json:"torrents,omitempty"`
	Session  *SessionSnapshot  `json:"session,omitempty"`
}

type entry struct {
	Fingerprint     string   `json:"fingerprint"`
	ProtocolVersion int64    `json:"protocolVersion"`
	Snapshot        Snapshot `json:"snapshot"`
}

// Fingerprint derives a cache fingerprint from connection identity and
// credentials, so changing either invalidates cached data.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

type Cache struct {
	storage Storage
	policy  Policy
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(storage Storage, policy Policy, opts ...Option) *Cache {
	c := &Cache{
		storage: storage,
		policy:  policy,
		now:     time.Now,
		locks:   map[string]*sync.Mutex{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Cache) Policy() Policy {
	return c.policy
}

// Client scopes the cache to one key.
func (c *Cache) Client(key Key) *Client {
	return &Client{cache: c, key: key}
}

func (c *Cache) lock(serverID string) func() {
	c.mu.Lock()
	l, ok := c.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[serverID] = l
	}
	c.mu.Unlock()

	l.Lock()

	return l.Unlock
}

func (c *Cache) expired(at time.Time) bool {
	return c.policy.TTL > 0 && c.now().Sub(at) > c.policy.TTL
}

// valid reads the entry for key, deleting it when it can't serve key.
func (c *Cache) valid(key Key) (*entry, error) {
	data, ok, err := c.storage.Get(key.ServerID)
	if err != nil || !ok {
		return nil, err
	}

	var e entry
	reason := ""
	if err := json.Unmarshal(data, &e); err != nil {
		reason = "undecodable"
	}

	switch {
	case reason != "":
	case e.Fingerprint != key.Fingerprint:
		reason = "fingerprint mismatch"
	case e.ProtocolVersion != key.ProtocolVersion:
		reason = "protocol version mismatch"
	case e.Snapshot.Torrents != nil && c.expired(e.Snapshot.Torrents.UpdatedAt),
		e.Snapshot.Session != nil && c.expired(e.Snapshot.Session.UpdatedAt):
		reason = "expired"
	}

	if reason == "" {
		return &e, nil
	}

	log.Debug().
		Str("server", key.ServerID).
		Str("reason", reason).
		Msg("Evicting cache entry")

	if err := c.storage.Delete(key.ServerID); err != nil {
		return nil, err
	}

	return nil, nil
}

func (c *Cache) load(key Key) (*Snapshot, error) {
	defer c.lock(key.ServerID)()

	e, err := c.valid(key)
	if err != nil || e == nil {
		return nil, err
	}

	if e.Snapshot.Torrents == nil && e.Snapshot.Session == nil {
		return nil, nil
	}

	return &e.Snapshot, nil
}

func (c *Cache) update(key Key, fn func(*Snapshot, time.Time)) error {
	defer c.lock(key.ServerID)()

	e, err := c.valid(key)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{Fingerprint: key.Fingerprint, ProtocolVersion: key.ProtocolVersion}
	}

	fn(&e.Snapshot, c.now())

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("could not encode cache entry: %w", err)
	}

	if limit := c.policy.MaxBytesPerServer; limit > 0 && len(data) > limit {
		if err := c.storage.Delete(key.ServerID); err != nil {
			return err
		}

		return &SizeLimitError{ServerID: key.ServerID, Size: len(data), Limit: limit}
	}

	return c.storage.Put(key.ServerID, data)
}

func (c *Cache) clear(serverID string) error {
	defer c.lock(serverID)()

	return c.storage.Delete(serverID)
}

type Client struct {
	cache *Cache
	key   Key
}

func (c *Client) Key() Key {
	return c.key
}

// Load returns the cached snapshot, or nil when there is none usable.
// Mismatched or expired entries are deleted as a side effect.
func (c *Client) Load() (*Snapshot, error) {
	return c.cache.load(c.key)
}

func (c *Client) UpdateTorrents(torrents []mapper.Torrent) error {
	return c.cache.update(c.key, func(s *Snapshot, now time.Time) {
		s.Torrents = &TorrentsSnapshot{Torrents: torrents, UpdatedAt: now}
	})
}

func (c *Client) UpdateSession(session mapper.SessionState) error {
	return c.cache.update(c.key, func(s *Snapshot, now time.Time) {
		s.Session = &SessionSnapshot{Session: session, UpdatedAt: now}
	})
}

func (c *Client) Clear() error {
	return c.cache.clear(c.key.ServerID)
}
