package client

import (
	"context"
	"fmt"
	"time"

	"github.com/pojntfx/tremote/pkg/cache"
	"github.com/pojntfx/tremote/pkg/mapper"
	"github.com/rs/zerolog/log"
)

// Torrents is a torrent list, either fresh or served from the offline cache.
type Torrents struct {
	Torrents  []mapper.Torrent `json:"torrents" yaml:"torrents"`
	Offline   bool             `json:"offline" yaml:"offline"`
	UpdatedAt time.Time        `json:"updatedAt" yaml:"updatedAt"`
}

// Session is the session state, either fresh or served from the offline
// cache.
type Session struct {
	Session   mapper.SessionState `json:"session" yaml:"session"`
	Offline   bool                `json:"offline" yaml:"offline"`
	UpdatedAt time.Time           `json:"updatedAt" yaml:"updatedAt"`
}

// Manager reads through the offline cache when the daemon is unreachable and
// writes fresh results through to it.
type Manager struct {
	client   *Client
	cache    *cache.Cache
	serverID string

	fingerprint     string
	fallbackVersion int64

	now func() time.Time
}

// NewManager wraps client. serverID scopes cache entries and
// lastKnownRPCVersion keys reads until a handshake succeeds.
func NewManager(
	client *Client,
	c *cache.Cache,
	serverID string,
	lastKnownRPCVersion int64,
) *Manager {
	return &Manager{
		client:   client,
		cache:    c,
		serverID: serverID,

		fingerprint:     cache.Fingerprint(client.Identity().ID(), client.opts.Username, client.opts.Password),
		fallbackVersion: lastKnownRPCVersion,

		now: time.Now,
	}
}

func (m *Manager) Client() *Client {
	return m.client
}

// Connect performs a handshake and fails for daemons outside the supported
// protocol range.
func (m *Manager) Connect(ctx context.Context) (HandshakeState, error) {
	state, err := m.client.Handshake(ctx)
	if err != nil {
		return HandshakeState{}, err
	}

	if !state.Compatible {
		return state, fmt.Errorf("%w: daemon speaks %d (minimum %d), client supports %d to %d",
			ErrIncompatibleServer,
			state.ServerRPCVersion,
			state.RPCVersionMinimum,
			m.client.opts.MinRPCVersion,
			m.client.opts.MaxRPCVersion,
		)
	}

	return state, nil
}

func (m *Manager) ensureConnected(ctx context.Context) error {
	if state, ok := m.client.LastHandshake(); ok && state.Compatible {
		return nil
	}

	_, err := m.Connect(ctx)

	return err
}

func (m *Manager) key() cache.Key {
	version := m.fallbackVersion
	if state, ok := m.client.LastHandshake(); ok {
		version = state.RPCVersion
	}

	return cache.Key{
		ServerID:        m.serverID,
		Fingerprint:     m.fingerprint,
		ProtocolVersion: version,
	}
}

func (m *Manager) cached() *cache.Snapshot {
	snapshot, err := m.cache.Client(m.key()).Load()
	if err != nil {
		log.Warn().
			Err(err).
			Str("server", m.serverID).
			Msg("Could not read offline cache")

		return nil
	}

	return snapshot
}

// Torrents lists all torrents. If the daemon cannot be reached the cached
// list is returned with Offline set. A fresh list is returned even when
// caching it fails; the cache error is returned alongside it and matches
// ErrCacheWrite.
func (m *Manager) Torrents(ctx context.Context) (Torrents, error) {
	torrents, err := m.fetchTorrents(ctx)
	if err != nil {
		if !IsOffline(err) {
			return Torrents{}, err
		}

		if snapshot := m.cached(); snapshot != nil && snapshot.Torrents != nil {
			log.Debug().
				Err(err).
				Str("server", m.serverID).
				Msg("Serving torrents from offline cache")

			return Torrents{
				Torrents:  snapshot.Torrents.Torrents,
				Offline:   true,
				UpdatedAt: snapshot.Torrents.UpdatedAt,
			}, nil
		}

		return Torrents{}, err
	}

	out := Torrents{Torrents: torrents, UpdatedAt: m.now()}

	return out, cacheWrite(m.cache.Client(m.key()).UpdateTorrents(torrents))
}

func (m *Manager) fetchTorrents(ctx context.Context) ([]mapper.Torrent, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	return m.client.TorrentSummaries(ctx)
}

// Session returns the session state including lifetime stats, falling back
// to the offline cache like Torrents.
func (m *Manager) Session(ctx context.Context) (Session, error) {
	session, err := m.fetchSession(ctx)
	if err != nil {
		if !IsOffline(err) {
			return Session{}, err
		}

		if snapshot := m.cached(); snapshot != nil && snapshot.Session != nil {
			log.Debug().
				Err(err).
				Str("server", m.serverID).
				Msg("Serving session from offline cache")

			return Session{
				Session:   snapshot.Session.Session,
				Offline:   true,
				UpdatedAt: snapshot.Session.UpdatedAt,
			}, nil
		}

		return Session{}, err
	}

	out := Session{Session: session, UpdatedAt: m.now()}

	return out, cacheWrite(m.cache.Client(m.key()).UpdateSession(session))
}

func (m *Manager) fetchSession(ctx context.Context) (mapper.SessionState, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return mapper.SessionState{}, err
	}

	session, err := m.client.SessionGet(ctx)
	if err != nil {
		return mapper.SessionState{}, err
	}

	stats, err := m.client.SessionStats(ctx)
	if err != nil {
		return mapper.SessionState{}, err
	}
	session.Stats = &stats

	return session, nil
}

func cacheWrite(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrCacheWrite, err)
}

// Forget drops everything cached for this server.
func (m *Manager) Forget() error {
	return m.cache.Client(m.key()).Clear()
}
