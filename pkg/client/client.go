package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
	"github.com/pojntfx/tremote/pkg/retry"
	"github.com/pojntfx/tremote/pkg/trust"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPath                  = "/transmission/rpc"
	DefaultMaxAttempts           = 3
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultDialTimeout           = 10 * time.Second

	// Oldest and newest protocol revisions this client speaks.
	DefaultMinRPCVersion = 14
	DefaultMaxRPCVersion = 17

	maxResponseBytes = 64 << 20
)

type Options struct {
	Username string
	Password string

	// MaxAttempts bounds the attempts per call, including the first one.
	MaxAttempts int
	// Delay maps consecutive failures to the wait before the next attempt.
	Delay func(consecutiveFailures int) time.Duration

	// Evaluator gates every TLS handshake. Without one, https endpoints are
	// verified against the system roots.
	Evaluator *trust.Evaluator

	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration

	// Proxy picks the proxy for a request; nil uses http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)

	MinRPCVersion int64
	MaxRPCVersion int64
}

// HandshakeState is what the daemon told us about itself on the last
// handshake.
type HandshakeState struct {
	SessionID         string
	RPCVersion        int64
	ServerRPCVersion  int64
	RPCVersionMinimum int64
	ServerVersion     string
	Compatible        bool
}

type Client struct {
	endpoint string
	identity trust.Identity
	opts     Options
	hc       *http.Client

	mu        sync.RWMutex
	sessionID string
	handshake *HandshakeState

	tags atomic.Int64
}

// NewClient builds a client for the daemon at rawURL. A URL without a path
// uses DefaultPath.
func NewClient(rawURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint %q has no host", rawURL)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}

	secure := u.Scheme == "https"
	port := u.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}
	identity, err := trust.IdentityFromAddr(net.JoinHostPort(u.Hostname(), port), secure)
	if err != nil {
		return nil, err
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Delay == nil {
		opts.Delay = retry.Delay
	}
	if opts.ResponseHeaderTimeout <= 0 {
		opts.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Proxy == nil {
		opts.Proxy = http.ProxyFromEnvironment
	}
	if opts.MinRPCVersion <= 0 {
		opts.MinRPCVersion = DefaultMinRPCVersion
	}
	if opts.MaxRPCVersion <= 0 {
		opts.MaxRPCVersion = DefaultMaxRPCVersion
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 opts.Proxy,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	if secure && opts.Evaluator != nil {
		// The transport would run proxied TLS itself and skip the evaluator.
		transport.Proxy = nil
		transport.DialTLSContext = opts.Evaluator.DialTLSContext(tunnel(dialer, opts.Proxy))
	}

	// No overall timeout: a handshake may wait on a human trust decision.
	return &Client{
		endpoint: u.String(),
		identity: identity,
		opts:     opts,
		hc:       &http.Client{Transport: transport},
	}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) Identity() trust.Identity {
	return c.identity
}

func (c *Client) Username() string {
	return c.opts.Username
}

func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.sessionID
}

// LastHandshake returns the state of the last successful handshake, if any.
func (c *Client) LastHandshake() (HandshakeState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.handshake == nil {
		return HandshakeState{}, false
	}

	return *c.handshake, true
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = id
	if c.handshake != nil {
		c.handshake.SessionID = id
	}
}

// Close drops idle connections.
func (c *Client) Close() {
	c.hc.CloseIdleConnections()
}

// Call sends method with args, re-handshaking once on a session conflict and
// retrying transient failures with backoff. The last concrete error is
// returned once attempts are exhausted.
func (c *Client) Call(ctx context.Context, method string, args map[string]v1.Value) (v1.Response, error) {
	tag := v1.IntTag(c.tags.Add(1))
	payload, err := v1.EncodeRequest(v1.NewRequest(method, args).WithTag(tag))
	if err != nil {
		return v1.Response{}, fmt.Errorf("encode %s request: %w", method, err)
	}

	var (
		res     v1.Response
		attempt int
	)
	strategy := backoff.WithContext(
		backoff.WithMaxRetries(retry.NewStrategy(c.opts.Delay), uint64(c.opts.MaxAttempts-1)),
		ctx,
	)

	err = backoff.RetryNotify(func() error {
		attempt++

		log.Trace().
			Str("method", method).
			Int("attempt", attempt).
			Str("endpoint", c.endpoint).
			Msg("Calling daemon")

		r, err := c.exchange(ctx, method, payload)
		if err != nil {
			if IsTransient(err) {
				return err
			}

			return backoff.Permanent(err)
		}

		if r.Tag != nil && *r.Tag != tag {
			return backoff.Permanent(fmt.Errorf("%w: sent %v, got %v", ErrTagMismatch, tag, *r.Tag))
		}

		res = r

		return nil
	}, strategy, func(err error, wait time.Duration) {
		log.Debug().
			Err(err).
			Str("method", method).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("Retrying call")
	})
	if err != nil {
		return v1.Response{}, err
	}

	return res, nil
}

// exchange performs one attempt. A 409 stores the fresh session id and
// repeats the request exactly once.
func (c *Client) exchange(ctx context.Context, method string, payload []byte) (v1.Response, error) {
	res, err := c.post(ctx, method, payload, c.SessionID())

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusConflict || httpErr.SessionID == "" {
		return res, err
	}

	log.Debug().
		Str("method", method).
		Msg("Session id rotated, repeating request")

	c.setSessionID(httpErr.SessionID)

	return c.post(ctx, method, payload, httpErr.SessionID)
}

func (c *Client) post(ctx context.Context, method string, payload []byte, sessionID string) (v1.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return v1.Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if sessionID != "" {
		req.Header.Set(v1.SessionIDHeader, sessionID)
	}
	if c.opts.Username != "" {
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return v1.Response{}, &TransportError{Method: method, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

		return v1.Response{}, &HTTPError{
			Method:     method,
			StatusCode: res.StatusCode,
			Status:     res.Status,
			SessionID:  res.Header.Get(v1.SessionIDHeader),
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return v1.Response{}, &TransportError{Method: method, Err: err}
	}

	decoded, err := v1.DecodeResponse(body)
	if err != nil {
		return v1.Response{}, fmt.Errorf("decode %s response: %w", method, err)
	}

	return decoded, nil
}

func (o Options) negotiate(serverRPCVersion, serverMinimum int64) (int64, bool) {
	negotiated := serverRPCVersion
	if negotiated > o.MaxRPCVersion {
		negotiated = o.MaxRPCVersion
	}

	return negotiated, o.MinRPCVersion <= negotiated && negotiated <= serverRPCVersion && negotiated >= serverMinimum
}

func formatIDs(ids []int64) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}

	return strings.Join(out, ",")
}
