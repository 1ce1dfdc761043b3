package profiles

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pojntfx/tremote/pkg/credentials"
	"github.com/pojntfx/tremote/pkg/trust"
)

const (
	DefaultPath    = "~/.config/tremote/profiles.toml"
	DefaultRPCPath = "/transmission/rpc"
	DefaultPort    = 9091

	lockTimeout       = 5 * time.Second
	lockRetryInterval = 10 * time.Millisecond
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrLockTimeout     = errors.New("timeout acquiring profiles lock")
)

// Profile is a saved daemon connection.
type Profile struct {
	Name     string `toml:"name"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Secure   bool   `toml:"secure"`
	Path     string `toml:"path,omitempty"`
	Username string `toml:"username,omitempty"`
	// RPCVersion is the protocol version negotiated on the last successful
	// handshake.
	RPCVersion int64 `toml:"rpc_version,omitempty"`
}

// FromURL builds a profile from a URL such as https://nas:9091/transmission/rpc.
func FromURL(name, raw string) (Profile, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Profile{}, fmt.Errorf("parse url %q: %w", raw, err)
	}

	p := Profile{
		Name:     name,
		Host:     u.Hostname(),
		Secure:   u.Scheme == "https",
		Path:     u.Path,
		Username: u.User.Username(),
	}

	if port := u.Port(); port != "" {
		if p.Port, err = strconv.Atoi(port); err != nil {
			return Profile{}, fmt.Errorf("parse port %q: %w", port, err)
		}
	}

	return p.normalize(), p.normalize().validate()
}

func (p Profile) normalize() Profile {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.Path == "" || p.Path == "/" {
		p.Path = DefaultRPCPath
	}

	return p
}

func (p Profile) validate() error {
	if p.Name == "" {
		return errors.New("profile name is empty")
	}
	if p.Host == "" {
		return fmt.Errorf("profile %q has no host", p.Name)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("profile %q has invalid port %d", p.Name, p.Port)
	}

	return nil
}

func (p Profile) Identity() trust.Identity {
	return trust.Identity{Host: p.Host, Port: p.Port, Secure: p.Secure}
}

// ServerID names the daemon for cache scoping.
func (p Profile) ServerID() string {
	return p.Identity().ID() + p.Path
}

func (p Profile) Endpoint() string {
	return p.Identity().Scheme() + "://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port)) + p.Path
}

func (p Profile) CredentialsKey() credentials.Key {
	return credentials.Key{Host: p.Host, Port: p.Port, Secure: p.Secure, Username: p.Username}
}

type document struct {
	Profiles []Profile `toml:"profile"`
}

// Store persists profiles in a TOML file.
type Store struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

func NewStore(path string) (*Store, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, err
	}

	return &Store{
		path: resolved,
		lock: flock.New(resolved + ".lock"),
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) List() ([]Profile, error) {
	var out []Profile
	err := s.with(false, func(doc *document) bool {
		out = append(out, doc.Profiles...)

		return false
	})

	return out, err
}

func (s *Store) Get(name string) (Profile, error) {
	profiles, err := s.List()
	if err != nil {
		return Profile{}, err
	}

	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}

	return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
}

// Upsert inserts p or replaces the profile with the same name.
func (s *Store) Upsert(p Profile) error {
	p = p.normalize()
	if err := p.validate(); err != nil {
		return err
	}

	return s.with(true, func(doc *document) bool {
		for i := range doc.Profiles {
			if doc.Profiles[i].Name == p.Name {
				doc.Profiles[i] = p

				return true
			}
		}

		doc.Profiles = append(doc.Profiles, p)
		sort.Slice(doc.Profiles, func(i, j int) bool {
			return doc.Profiles[i].Name < doc.Profiles[j].Name
		})

		return true
	})
}

func (s *Store) Delete(name string) error {
	found := false
	err := s.with(true, func(doc *document) bool {
		for i := range doc.Profiles {
			if doc.Profiles[i].Name == name {
				doc.Profiles = append(doc.Profiles[:i], doc.Profiles[i+1:]...)
				found = true

				return true
			}
		}

		return false
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}

	return nil
}

// with runs fn on the parsed document and writes it back when fn reports a
// change.
func (s *Store) with(exclusive bool, fn func(*document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create profiles directory: %w", err)
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

		return fmt.Errorf("lock profiles: %w", err)
	}
	if !locked {
		return ErrLockTimeout
	}
	defer s.lock.Unlock()

	var doc document
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read profiles: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse profiles: %w", err)
		}
	}

	if !fn(&doc) || !exclusive {
		return nil
	}

	out, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}

	return os.Rename(tmp, s.path)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(DefaultPath)
	}

	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}

	return filepath.Abs(trimmed)
}
