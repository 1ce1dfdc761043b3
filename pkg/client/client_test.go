package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
	v1 "github.com/pojntfx/tremote/pkg/api/http/v1"
	"github.com/pojntfx/tremote/pkg/mapper"
	"github.com/pojntfx/tremote/pkg/trust"
)

func fastDelay(int) time.Duration { return time.Millisecond }

func newTestClient(t *testing.T, d *fakeDaemon, opts Options) *Client {
	t.Helper()

	server := httptest.NewServer(d)
	t.Cleanup(server.Close)

	if opts.Delay == nil {
		opts.Delay = fastDelay
	}

	c, err := NewClient(server.URL+DefaultPath, opts)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(c.Close)

	return c
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("http://NAS.local:9091", Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if c.Endpoint() != "http://NAS.local:9091/transmission/rpc" {
		t.Fatalf("Endpoint() = %q, want default path", c.Endpoint())
	}
	if c.Identity().ID() != "http://nas.local:9091" {
		t.Fatalf("Identity().ID() = %q, want http://nas.local:9091", c.Identity().ID())
	}

	c, err = NewClient("https://nas.local", Options{})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if c.Identity().Port != 443 || !c.Identity().Secure {
		t.Fatalf("Identity() = %#v, want secure port 443", c.Identity())
	}

	if _, err := NewClient("ftp://nas.local", Options{}); err == nil {
		t.Fatalf("NewClient with ftp scheme returned nil error, want error")
	}
}

func TestCallHandshakesOnConflictAndRetriesOnce(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	c := newTestClient(t, d, Options{Username: "admin", Password: "secret"})

	res, err := c.Call(context.Background(), "session-set", map[string]v1.Value{"alt-speed-enabled": v1.Bool(true)})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if !res.IsSuccess() {
		t.Fatalf("result = %q, want success", res.Result)
	}

	calls := d.calls()
	if len(calls) != 2 {
		t.Fatalf("requests = %d, want 2 (conflict + retry)", len(calls))
	}
	if c.SessionID() != "session-1" {
		t.Fatalf("SessionID() = %q, want session-1", c.SessionID())
	}
	if d.headers[1].Get(v1.SessionIDHeader) != "session-1" {
		t.Fatalf("retry header = %q, want session-1", d.headers[1].Get(v1.SessionIDHeader))
	}
	if u, p, ok := (&http.Request{Header: d.headers[1]}).BasicAuth(); !ok || u != "admin" || p != "secret" {
		t.Fatalf("basic auth = %q/%q/%v, want admin/secret", u, p, ok)
	}
	if calls[1].Tag == nil || !calls[1].Tag.IsInt() {
		t.Fatalf("tag = %v, want an integer tag", calls[1].Tag)
	}

	// Rotated tokens are picked up the same way.
	d.rotate("session-2")
	if _, err := c.Call(context.Background(), "session-set", map[string]v1.Value{}); err != nil {
		t.Fatalf("Call after rotation returned error: %v", err)
	}
	if c.SessionID() != "session-2" {
		t.Fatalf("SessionID() = %q, want session-2", c.SessionID())
	}
	if got := len(d.calls()); got != 4 {
		t.Fatalf("requests = %d, want 4", got)
	}
}

func TestConcurrentCallsShareRotatedSession(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	c := newTestClient(t, d, Options{})

	if _, err := c.Handshake(context.Background()); err != nil {
		t.Fatalf("Handshake returned error: %v", err)
	}
	handshakeRequests := len(d.calls())

	d.mu.Lock()
	d.onServe = func(n int) {
		if n == handshakeRequests+4 {
			d.rotate("session-2")
		}
	}
	d.mu.Unlock()

	const calls = 16

	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			res, err := c.Call(context.Background(), MethodSessionStats, nil)
			if err == nil && !res.IsSuccess() {
				err = fmt.Errorf("result = %q, want success", res.Result)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Call returned error: %v", err)
		}
	}

	ids := d.sessionHeaders()
	if len(ids) < handshakeRequests+calls {
		t.Fatalf("requests = %d, want at least %d", len(ids), handshakeRequests+calls)
	}
	for i, id := range ids[handshakeRequests:] {
		if id != "session-1" && id != "session-2" {
			t.Fatalf("request %d session header = %q, want session-1 or session-2", handshakeRequests+i+1, id)
		}
	}
	if c.SessionID() != "session-2" {
		t.Fatalf("SessionID() = %q, want session-2", c.SessionID())
	}
}

func TestCallRetriesTransientFailuresWithBackoff(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	d.sessionID = ""

	var (
		mu     sync.Mutex
		counts []int
	)
	c := newTestClient(t, d, Options{
		MaxAttempts: 3,
		Delay: func(n int) time.Duration {
			mu.Lock()
			defer mu.Unlock()

			counts = append(counts, n)

			return time.Millisecond
		},
	})

	d.failNext(http.StatusInternalServerError, http.StatusServiceUnavailable)

	if _, err := c.Call(context.Background(), MethodSessionStats, nil); err != nil {
		t.Fatalf("Call returned error: %v", err)
	}

	if got := len(d.calls()); got != 3 {
		t.Fatalf("requests = %d, want 3", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(counts) != "[1 2]" {
		t.Fatalf("delay calls = %v, want [1 2]", counts)
	}
}

func TestCallSurfacesLastErrorWhenAttemptsAreExhausted(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	d.sessionID = ""
	c := newTestClient(t, d, Options{MaxAttempts: 2})

	d.failNext(http.StatusInternalServerError, http.StatusBadGateway)

	_, err := c.Call(context.Background(), MethodSessionStats, nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want the last one (%d)", httpErr.StatusCode, http.StatusBadGateway)
	}
	if !errors.Is(err, ErrServerUnavailable) {
		t.Fatalf("error = %v, want ErrServerUnavailable", err)
	}
	if got := len(d.calls()); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestCallDoesNotRetryPermanentFailures(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrMalformedRequest},
	} {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			d := newFakeDaemon(t, transmission(17))
			d.sessionID = ""
			c := newTestClient(t, d, Options{MaxAttempts: 5})

			d.failNext(tc.status)

			_, err := c.Call(context.Background(), MethodSessionGet, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
			if IsTransient(err) {
				t.Fatalf("IsTransient(%v) = true, want false", err)
			}
			if got := len(d.calls()); got != 1 {
				t.Fatalf("requests = %d, want 1", got)
			}
		})
	}
}

func TestCallRepeatedConflictIsRetriedNotLooped(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	c := newTestClient(t, d, Options{MaxAttempts: 2})

	d.failNext(http.StatusConflict, http.StatusConflict, http.StatusConflict, http.StatusConflict)

	_, err := c.Call(context.Background(), MethodSessionGet, nil)
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("error = %v, want ErrSessionConflict", err)
	}
	if got := len(d.calls()); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestCallCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		served = make(chan struct{})
		once   sync.Once
	)
	d := newFakeDaemon(t, transmission(17))
	d.sessionID = ""
	d.onServe = func(int) { once.Do(func() { close(served) }) }
	c := newTestClient(t, d, Options{
		MaxAttempts: 5,
		Delay:       func(int) time.Duration { return time.Hour },
	})

	d.failNext(http.StatusServiceUnavailable)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, MethodSessionGet, nil)
		done <- err
	}()

	<-served
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Call did not return after cancellation")
	}

	if got := len(d.calls()); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
}

func TestCallNetworkUnavailableIsTransient(t *testing.T) {
	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("GetFreePort returned error: %v", err)
	}

	attempts := 0
	c, err := NewClient(fmt.Sprintf("http://127.0.0.1:%d", port), Options{
		MaxAttempts: 2,
		Delay: func(int) time.Duration {
			attempts++

			return time.Millisecond
		},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = c.Call(context.Background(), MethodSessionGet, nil)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	if !IsTransient(err) || !IsOffline(err) {
		t.Fatalf("IsTransient/IsOffline(%v) = false, want true", err)
	}
	if attempts != 1 {
		t.Fatalf("backoff waits = %d, want 1", attempts)
	}
}

func TestHandshakeNegotiatesVersion(t *testing.T) {
	for _, tc := range []struct {
		server     int64
		negotiated int64
		compatible bool
	}{
		{17, 17, true},
		{18, 17, true},
		{15, 15, true},
		{13, 13, false},
	} {
		t.Run(fmt.Sprint(tc.server), func(t *testing.T) {
			d := newFakeDaemon(t, func(req v1.Request) v1.Response {
				return success(map[string]v1.Value{
					"version":             v1.String("4.0.5"),
					"rpc-version":         v1.Int(tc.server),
					"rpc-version-minimum": v1.Int(1),
				})
			})
			c := newTestClient(t, d, Options{})

			state, err := c.Handshake(context.Background())
			if err != nil {
				t.Fatalf("Handshake returned error: %v", err)
			}
			if state.RPCVersion != tc.negotiated || state.Compatible != tc.compatible {
				t.Fatalf("state = %+v, want negotiated %d compatible %v", state, tc.negotiated, tc.compatible)
			}
			if state.SessionID != "session-1" || state.ServerVersion != "4.0.5" {
				t.Fatalf("state = %+v, want session-1 and server 4.0.5", state)
			}

			if last, ok := c.LastHandshake(); !ok || last != state {
				t.Fatalf("LastHandshake() = %+v, %v, want %+v", last, ok, state)
			}
		})
	}
}

func TestHandshakeRejectsServerAboveItsOwnCeiling(t *testing.T) {
	d := newFakeDaemon(t, func(req v1.Request) v1.Response {
		return success(map[string]v1.Value{
			"version":             v1.String("4.0.5"),
			"rpc-version":         v1.Int(17),
			"rpc-version-minimum": v1.Int(18),
		})
	})
	c := newTestClient(t, d, Options{MaxAttempts: 3})

	_, err := c.Handshake(context.Background())
	if !errors.Is(err, mapper.ErrInvalidValue) {
		t.Fatalf("error = %v, want ErrInvalidValue", err)
	}
	if got := len(d.calls()); got != 2 {
		t.Fatalf("requests = %d, want 2 (mapping errors are not retried)", got)
	}
}

func TestOperationsSendExpectedArguments(t *testing.T) {
	d := newFakeDaemon(t, func(req v1.Request) v1.Response {
		if req.Method == MethodTorrentAdd {
			return success(map[string]v1.Value{
				"torrent-duplicate": v1.Object(map[string]v1.Value{
					"id":         v1.Int(3),
					"name":       v1.String("debian.iso"),
					"hashString": v1.String("abc"),
				}),
			})
		}

		return transmission(17)(req)
	})
	c := newTestClient(t, d, Options{})
	ctx := context.Background()

	added, err := c.TorrentAdd(ctx, AddRequest{Filename: "magnet:?xt=urn:btih:abc", DownloadDir: "/tmp", Paused: true})
	if err != nil {
		t.Fatalf("TorrentAdd returned error: %v", err)
	}
	if added.Status != mapper.AddStatusDuplicate || added.ID != 3 {
		t.Fatalf("TorrentAdd = %+v, want duplicate id 3", added)
	}

	if _, err := c.TorrentAdd(ctx, AddRequest{}); !errors.Is(err, ErrInvalidAddRequest) {
		t.Fatalf("empty TorrentAdd error = %v, want ErrInvalidAddRequest", err)
	}

	if err := c.TorrentAction(ctx, ActionVerify, 1, 2); err != nil {
		t.Fatalf("TorrentAction returned error: %v", err)
	}
	if err := c.TorrentAction(ctx, Action("torrent-explode"), 1); !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("unsupported TorrentAction error = %v, want ErrUnsupportedAction", err)
	}
	if err := c.TorrentRemove(ctx, true, 2); err != nil {
		t.Fatalf("TorrentRemove returned error: %v", err)
	}
	if err := c.TorrentRemove(ctx, true); !errors.Is(err, ErrMissingIDs) {
		t.Fatalf("TorrentRemove without ids error = %v, want ErrMissingIDs", err)
	}

	limit := int64(200)
	if err := c.SessionSet(ctx, SessionUpdate{SpeedLimitDown: &limit}); err != nil {
		t.Fatalf("SessionSet returned error: %v", err)
	}
	if err := c.SessionSet(ctx, SessionUpdate{}); !errors.Is(err, ErrEmptyUpdate) {
		t.Fatalf("empty SessionSet error = %v, want ErrEmptyUpdate", err)
	}

	byMethod := map[string]v1.Request{}
	for _, req := range d.calls() {
		byMethod[req.Method] = req
	}

	want := map[string]string{
		MethodTorrentAdd:    `{"download-dir":"/tmp","filename":"magnet:?xt=urn:btih:abc","paused":true}`,
		MethodTorrentVerify: `{"ids":[1,2]}`,
		MethodTorrentRemove: `{"delete-local-data":true,"ids":[2]}`,
		MethodSessionSet:    `{"speed-limit-down":200}`,
	}
	for method, args := range want {
		req, ok := byMethod[method]
		if !ok || req.Arguments == nil {
			t.Fatalf("%s was not sent with arguments", method)
		}
		if got := req.Arguments.String(); got != args {
			t.Fatalf("%s arguments = %s, want %s", method, got, args)
		}
	}
}

func TestTorrentQueries(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	c := newTestClient(t, d, Options{})
	ctx := context.Background()

	torrents, err := c.TorrentSummaries(ctx)
	if err != nil {
		t.Fatalf("TorrentSummaries returned error: %v", err)
	}
	if len(torrents) != 2 || torrents[0].PercentDone != 0.76 || torrents[1].PercentDone != 0.5 {
		t.Fatalf("torrents = %+v, want normalised progress 0.76 and 0.5", torrents)
	}

	if _, err := c.TorrentDetails(ctx, 9); !errors.Is(err, mapper.ErrEmptyCollection) {
		t.Fatalf("TorrentDetails error = %v, want ErrEmptyCollection", err)
	}

	session, err := c.SessionGet(ctx)
	if err != nil {
		t.Fatalf("SessionGet returned error: %v", err)
	}
	if session.DownloadDir != "/downloads" || session.SpeedLimitDown.KBps != 100 {
		t.Fatalf("session = %+v, want /downloads at 100 KB/s", session)
	}
}

func TestMappingRPCErrorIsNotRetried(t *testing.T) {
	d := newFakeDaemon(t, func(req v1.Request) v1.Response {
		return v1.Response{Result: "permission denied"}
	})
	c := newTestClient(t, d, Options{MaxAttempts: 3})

	_, err := c.SessionStats(context.Background())

	var rpcErr *mapper.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Result != "permission denied" {
		t.Fatalf("error = %v, want RPC error permission denied", err)
	}
	if got := len(d.calls()); got != 2 {
		t.Fatalf("requests = %d, want 2", got)
	}
}

func TestTLSCallIsGatedByTrustDecision(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	server := httptest.NewTLSServer(d)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := trust.NewMemoryStore()
	evaluator := trust.NewEvaluator(store, trust.NewPromptCenter(), trust.EvaluatorOptions{})

	prompts := evaluator.Center().Observe(ctx)

	c, err := NewClient(server.URL, Options{Evaluator: evaluator, Delay: fastDelay})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(c.Close)

	done := make(chan error, 1)
	go func() {
		_, err := c.Handshake(ctx)
		done <- err
	}()

	var prompt *trust.Prompt
	select {
	case prompt = <-prompts:
	case <-time.After(5 * time.Second):
		t.Fatalf("no trust prompt was published")
	}

	if got := len(d.calls()); got != 0 {
		t.Fatalf("requests before decision = %d, want 0", got)
	}
	if prompt.Reason != trust.ReasonUntrustedCertificate {
		t.Fatalf("prompt reason = %v, want untrusted certificate", prompt.Reason)
	}

	prompt.Resolve(trust.DecisionTrustPermanently)

	if err := <-done; err != nil {
		t.Fatalf("Handshake returned error: %v", err)
	}

	// A fresh client for the same identity connects without prompting.
	again, err := NewClient(server.URL, Options{Evaluator: evaluator, Delay: fastDelay})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(again.Close)

	if _, err := again.Handshake(ctx); err != nil {
		t.Fatalf("second Handshake returned error: %v", err)
	}
	if pending := evaluator.Center().Pending(); len(pending) != 0 {
		t.Fatalf("pending prompts = %d, want 0", len(pending))
	}
	if state := evaluator.State(c.Identity()); state != trust.StateTrustedPermanently {
		t.Fatalf("State() = %v, want trusted permanently", state)
	}
}

func TestTLSThroughProxyIsGatedByTrustDecision(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	server := httptest.NewTLSServer(d)
	t.Cleanup(server.Close)

	proxy := &connectProxy{upstream: server.Listener.Addr().String()}
	proxyServer := httptest.NewServer(proxy)
	t.Cleanup(proxyServer.Close)

	proxyURL, err := url.Parse(proxyServer.URL)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	_, port, err := net.SplitHostPort(server.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort returned error: %v", err)
	}
	target := net.JoinHostPort("daemon.example", port)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	evaluator := trust.NewEvaluator(trust.NewMemoryStore(), trust.NewPromptCenter(), trust.EvaluatorOptions{})
	prompts := evaluator.Center().Observe(ctx)

	c, err := NewClient("https://"+target, Options{
		Evaluator:   evaluator,
		MaxAttempts: 1,
		Delay:       fastDelay,
		Proxy:       http.ProxyURL(proxyURL),
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(c.Close)

	done := make(chan error, 1)
	go func() {
		_, err := c.Handshake(ctx)
		done <- err
	}()

	var prompt *trust.Prompt
	select {
	case prompt = <-prompts:
	case err := <-done:
		t.Fatalf("Handshake finished without a trust prompt: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("no trust prompt was published")
	}

	if prompt.Identity.ID() != c.Identity().ID() {
		t.Fatalf("prompt identity = %v, want %v", prompt.Identity, c.Identity())
	}
	if want := trust.Fingerprint(server.Certificate().Raw); prompt.Certificate.Fingerprint != want {
		t.Fatalf("prompt fingerprint = %s, want %s", prompt.Certificate.Fingerprint, want)
	}
	if got := len(d.calls()); got != 0 {
		t.Fatalf("requests before decision = %d, want 0", got)
	}

	prompt.Resolve(trust.DecisionTrustOnce)

	if err := <-done; err != nil {
		t.Fatalf("Handshake returned error: %v", err)
	}

	if targets := proxy.connects(); len(targets) == 0 || targets[0] != target {
		t.Fatalf("proxy targets = %v, want %s", targets, target)
	}
	if state := evaluator.State(c.Identity()); state != trust.StateTrustedOnce {
		t.Fatalf("State() = %v, want trusted once", state)
	}
}

func TestTLSDenialIsSecurityErrorAndNotRetried(t *testing.T) {
	d := newFakeDaemon(t, transmission(17))
	server := httptest.NewTLSServer(d)
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	evaluator := trust.NewEvaluator(trust.NewMemoryStore(), trust.NewPromptCenter(), trust.EvaluatorOptions{})

	var (
		mu      sync.Mutex
		prompts int
	)
	go func() {
		for p := range evaluator.Center().Observe(ctx) {
			mu.Lock()
			prompts++
			mu.Unlock()

			p.Resolve(trust.DecisionDeny)
		}
	}()

	c, err := NewClient(server.URL, Options{Evaluator: evaluator, MaxAttempts: 3, Delay: fastDelay})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(c.Close)

	_, err = c.Handshake(ctx)

	var security *trust.SecurityError
	if !errors.As(err, &security) || !errors.Is(err, trust.ErrCertificateDenied) {
		t.Fatalf("error = %v, want denied SecurityError", err)
	}
	if IsTransient(err) {
		t.Fatalf("IsTransient(%v) = true, want false", err)
	}
	if got := len(d.calls()); got != 0 {
		t.Fatalf("requests = %d, want 0", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if prompts != 1 {
		t.Fatalf("prompts = %d, want 1", prompts)
	}
}
