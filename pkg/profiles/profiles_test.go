package profiles

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestFromURLDefaultsAndParses(t *testing.T) {
	p, err := FromURL("nas", "https://admin@NAS.local:443/transmission/rpc")
	if err != nil {
		t.Fatalf("FromURL returned error: %v", err)
	}
	if p.Host != "NAS.local" || p.Port != 443 || !p.Secure || p.Username != "admin" {
		t.Fatalf("profile = %#v, want secure NAS.local:443 as admin", p)
	}
	if p.Endpoint() != "https://NAS.local:443/transmission/rpc" {
		t.Fatalf("Endpoint() = %q, want https://NAS.local:443/transmission/rpc", p.Endpoint())
	}
	if p.ServerID() != "https://nas.local:443/transmission/rpc" {
		t.Fatalf("ServerID() = %q, want lowercased identity", p.ServerID())
	}

	p, err = FromURL("local", "127.0.0.1")
	if err != nil {
		t.Fatalf("FromURL returned error: %v", err)
	}
	if p.Port != DefaultPort || p.Path != DefaultRPCPath || p.Secure {
		t.Fatalf("profile = %#v, want defaults", p)
	}

	if _, err := FromURL("", "127.0.0.1"); err == nil {
		t.Fatalf("FromURL without name returned nil error, want error")
	}
}

func TestStoreUpsertGetDelete(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	s, err := NewStore("~/tremote/profiles.toml")
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}
	if !strings.HasPrefix(s.Path(), home) {
		t.Fatalf("Path() = %q, want it under HOME %q", s.Path(), home)
	}

	if profiles, err := s.List(); err != nil || len(profiles) != 0 {
		t.Fatalf("List on missing file = %v, %v, want empty", profiles, err)
	}

	if err := s.Upsert(Profile{Name: "nas", Host: "nas"}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := s.Upsert(Profile{Name: "box", Host: "box", Port: 443, Secure: true}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if err := s.Upsert(Profile{Name: "nas", Host: "nas", RPCVersion: 17}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}

	reopened, err := NewStore(filepath.Join(home, "tremote", "profiles.toml"))
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	profiles, err := reopened.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(profiles) != 2 || profiles[0].Name != "box" || profiles[1].Name != "nas" {
		t.Fatalf("profiles = %#v, want box and nas", profiles)
	}

	nas, err := reopened.Get("nas")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if nas.RPCVersion != 17 || nas.Port != DefaultPort {
		t.Fatalf("nas = %#v, want updated rpc version and default port", nas)
	}

	if err := reopened.Delete("nas"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := reopened.Get("nas"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("Get after Delete error = %v, want ErrProfileNotFound", err)
	}
	if err := reopened.Delete("nas"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("second Delete error = %v, want ErrProfileNotFound", err)
	}
}

func TestUpsertRejectsInvalidProfiles(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "profiles.toml"))
	if err != nil {
		t.Fatalf("NewStore returned error: %v", err)
	}

	for _, p := range []Profile{{Host: "nas"}, {Name: "nas"}, {Name: "nas", Host: "nas", Port: 70000}} {
		if err := s.Upsert(p); err == nil {
			t.Fatalf("Upsert(%#v) returned nil error, want error", p)
		}
	}
}
