package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pojntfx/tremote/pkg/cache"
	"github.com/pojntfx/tremote/pkg/client"
	"github.com/pojntfx/tremote/pkg/trust"
	"github.com/rs/zerolog"
)

func TestParseDecision(t *testing.T) {
	for answer, want := range map[string]trust.Decision{
		"p\n":         trust.DecisionTrustPermanently,
		" Permanent ": trust.DecisionTrustPermanently,
		"o":           trust.DecisionTrustOnce,
		"d":           trust.DecisionDeny,
		"no":          trust.DecisionDeny,
	} {
		got, ok := parseDecision(answer)
		if !ok || got != want {
			t.Fatalf("parseDecision(%q) = %v, %v, want %v", answer, got, ok, want)
		}
	}

	if _, ok := parseDecision("maybe"); ok {
		t.Fatalf("parseDecision(maybe) ok = true, want false")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1,2", " 7 "})
	if err != nil {
		t.Fatalf("parseIDs returned error: %v", err)
	}
	if fmt.Sprint(ids) != "[1 2 7]" {
		t.Fatalf("ids = %v, want [1 2 7]", ids)
	}

	if _, err := parseIDs([]string{"x"}); err == nil {
		t.Fatalf("parseIDs(x) returned nil error, want error")
	}
	if _, err := parseIDs([]string{","}); !errors.Is(err, client.ErrMissingIDs) {
		t.Fatalf("parseIDs(,) error = %v, want ErrMissingIDs", err)
	}
}

func TestRenderPromptShowsPreviousFingerprint(t *testing.T) {
	p := &trust.Prompt{
		Identity:    trust.Identity{Host: "NAS", Port: 9091, Secure: true},
		Reason:      trust.ReasonFingerprintChanged,
		Certificate: trust.Certificate{CommonName: "nas", Fingerprint: "bbbb"},
		Previous:    &trust.Certificate{CommonName: "nas", Fingerprint: "aaaa"},
	}

	out := renderPrompt(p)
	for _, want := range []string{"https://nas:9091", "bbbb", "aaaa", "changed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("renderPrompt output does not contain %q:\n%s", want, out)
		}
	}
}

func TestCacheOnlyKeepsFreshResults(t *testing.T) {
	if err := cacheOnly(nil); err != nil {
		t.Fatalf("cacheOnly(nil) = %v, want nil", err)
	}

	cacheErr := fmt.Errorf("%w: %w", client.ErrCacheWrite, cache.ErrSizeLimitExceeded)
	if err := cacheOnly(cacheErr); err != nil {
		t.Fatalf("cacheOnly(%v) = %v, want nil", cacheErr, err)
	}

	if err := cacheOnly(cache.ErrSizeLimitExceeded); !errors.Is(err, cache.ErrSizeLimitExceeded) {
		t.Fatalf("cacheOnly(size limit without fresh result) = %v, want it returned", err)
	}

	rpcErr := fmt.Errorf("torrent-get: %w", client.ErrUnauthorized)
	if err := cacheOnly(rpcErr); !errors.Is(err, client.ErrUnauthorized) {
		t.Fatalf("cacheOnly(%v) = %v, want ErrUnauthorized", rpcErr, err)
	}
}

func TestLogLevel(t *testing.T) {
	for verbosity, want := range map[int]zerolog.Level{
		-1: zerolog.Disabled,
		0:  zerolog.Disabled,
		3:  zerolog.ErrorLevel,
		5:  zerolog.InfoLevel,
		6:  zerolog.DebugLevel,
		7:  zerolog.TraceLevel,
		42: zerolog.TraceLevel,
	} {
		if got := logLevel(verbosity); got != want {
			t.Fatalf("logLevel(%d) = %v, want %v", verbosity, got, want)
		}
	}
}
