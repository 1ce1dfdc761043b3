package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pojntfx/tremote/pkg/cache"
	"github.com/pojntfx/tremote/pkg/client"
	"github.com/pojntfx/tremote/pkg/credentials"
	"github.com/pojntfx/tremote/pkg/profiles"
	"github.com/pojntfx/tremote/pkg/trust"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var errMissingProfile = errors.New("no profile found; create one with `tremote profile set` or pass --url")

type remote struct {
	profile  profiles.Profile
	profiles *profiles.Store
	// persisted is false for ad-hoc --url connections.
	persisted bool

	evaluator *trust.Evaluator
	client    *client.Client
	manager   *client.Manager
}

func dataPath(name string) string {
	return filepath.Join(viper.GetString(dataDirFlag), name)
}

func trustStore() *trust.FileStore {
	return trust.NewFileStore(dataPath("trust.yaml"))
}

func credentialStore() *credentials.SecretStore {
	return credentials.NewFileStore(dataPath("credentials.yaml"))
}

func resolveProfile() (profiles.Profile, *profiles.Store, bool, error) {
	store, err := profiles.NewStore(viper.GetString(profilesFlag))
	if err != nil {
		return profiles.Profile{}, nil, false, err
	}

	var (
		p         profiles.Profile
		persisted bool
	)
	if raw := strings.TrimSpace(viper.GetString(urlFlag)); raw != "" {
		if p, err = profiles.FromURL(viper.GetString(profileFlag), raw); err != nil {
			return profiles.Profile{}, nil, false, err
		}
	} else {
		if p, err = store.Get(viper.GetString(profileFlag)); err != nil {
			if errors.Is(err, profiles.ErrProfileNotFound) {
				return profiles.Profile{}, nil, false, errMissingProfile
			}

			return profiles.Profile{}, nil, false, err
		}
		persisted = true
	}

	if username := strings.TrimSpace(viper.GetString(usernameFlag)); username != "" {
		p.Username = username
	}

	return p, store, persisted, nil
}

func password(p profiles.Profile) (string, error) {
	if pw := viper.GetString(passwordFlag); pw != "" {
		return pw, nil
	}
	if p.Username == "" {
		return "", nil
	}

	creds, ok, err := credentialStore().Load(p.CredentialsKey())
	if err != nil {
		return "", err
	}
	if !ok {
		log.Debug().
			Str("profile", p.Name).
			Str("username", p.Username).
			Msg("No stored password")

		return "", nil
	}

	return creds.Password, nil
}

func connect(ctx context.Context) (*remote, error) {
	p, store, persisted, err := resolveProfile()
	if err != nil {
		return nil, err
	}

	pw, err := password(p)
	if err != nil {
		return nil, err
	}

	evaluator := trust.NewEvaluator(trustStore(), trust.NewPromptCenter(), trust.EvaluatorOptions{
		VerifyWithSystemRoots: viper.GetBool(systemRootsFlag),
	})
	go answerPrompts(ctx, evaluator.Center(), os.Stdin, os.Stderr)

	c, err := client.NewClient(p.Endpoint(), client.Options{
		Username:    p.Username,
		Password:    pw,
		MaxAttempts: viper.GetInt(attemptsFlag),
		Evaluator:   evaluator,
	})
	if err != nil {
		return nil, err
	}

	policy := cache.DefaultPolicy
	if ttl := viper.GetDuration(cacheTTLFlag); ttl > 0 {
		policy.TTL = ttl
	}
	if maxBytes := viper.GetInt(cacheMaxBytesFlag); maxBytes > 0 {
		policy.MaxBytesPerServer = maxBytes
	}
	offline := cache.New(cache.NewDirStorage(dataPath("cache")), policy)

	return &remote{
		profile:   p,
		profiles:  store,
		persisted: persisted,

		evaluator: evaluator,
		client:    c,
		manager:   client.NewManager(c, offline, p.ServerID(), p.RPCVersion),
	}, nil
}

// remember records the negotiated protocol version on the profile so that
// offline reads in later runs hit the right cache entry.
func (r *remote) remember() {
	state, ok := r.client.LastHandshake()
	if !ok || !r.persisted || state.RPCVersion == r.profile.RPCVersion {
		return
	}

	r.profile.RPCVersion = state.RPCVersion
	if err := r.profiles.Upsert(r.profile); err != nil {
		log.Warn().
			Err(err).
			Str("profile", r.profile.Name).
			Msg("Could not record protocol version")
	}
}

func (r *remote) close() {
	r.remember()
	r.client.Close()
}

// run calls fn with a connected remote and a context cancelled on SIGINT or
// SIGTERM.
func run(fn func(ctx context.Context, r *remote) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := make(chan os.Signal, 1)
	signal.Notify(s, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(s)
	go func() {
		select {
		case <-s:
			log.Debug().Msg("Cancelling")

			cancel()
		case <-ctx.Done():
		}
	}()

	r, err := connect(ctx)
	if err != nil {
		return err
	}
	defer r.close()

	return fn(ctx, r)
}

// cacheOnly logs errors about caching a fresh result and drops them, so the
// result is still printed. Any other error is returned.
func cacheOnly(err error) error {
	if err == nil || !errors.Is(err, client.ErrCacheWrite) {
		return err
	}

	log.Warn().
		Err(err).
		Msg("Showing fresh result that could not be cached")

	return nil
}

func printYAML(v any) error {
	y, err := yaml.Marshal(v)
	if err != nil {
		return err
	}

	fmt.Printf("%s", y)

	return nil
}
