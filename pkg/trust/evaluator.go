package trust

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog/log"
)

type EvaluatorOptions struct {
	// VerifyWithSystemRoots accepts chains valid under Roots without a prompt
	// when no pin exists. A pin always takes precedence.
	VerifyWithSystemRoots bool
	// Roots overrides the system pool; nil uses the system pool.
	Roots *x509.CertPool
}

// Evaluator decides whether a presented certificate may be used for an
// identity, asking observers of its PromptCenter when the store can't.
type Evaluator struct {
	store  Store
	center *PromptCenter
	opts   EvaluatorOptions

	mu      sync.Mutex
	states  map[string]State
	pending map[string]*pendingDecision
}

// pendingDecision is shared by concurrent handshakes presenting the same
// certificate for the same identity.
type pendingDecision struct {
	prompt  *Prompt
	waiters int

	once   sync.Once
	result error
}

func NewEvaluator(store Store, center *PromptCenter, opts EvaluatorOptions) *Evaluator {
	return &Evaluator{
		store:   store,
		center:  center,
		opts:    opts,
		states:  map[string]State{},
		pending: map[string]*pendingDecision{},
	}
}

func (e *Evaluator) Center() *PromptCenter {
	return e.center
}

// State returns the outcome of the latest evaluation for id.
func (e *Evaluator) State(id Identity) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.states[id.ID()]
}

func (e *Evaluator) setState(id Identity, state State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.setStateLocked(id, state)
}

func (e *Evaluator) setStateLocked(id Identity, state State) {
	log.Trace().
		Str("identity", id.ID()).
		Stringer("state", state).
		Msg("Trust state changed")

	e.states[id.ID()] = state
}

// Evaluate blocks until chain is trusted for id or rejected. It waits for a
// prompt decision without a timeout; only ctx bounds the wait.
func (e *Evaluator) Evaluate(ctx context.Context, id Identity, chain []*x509.Certificate, serverName string) error {
	if len(chain) == 0 {
		e.setState(id, StateDenied)

		return &SecurityError{Identity: id, Reason: ReasonUntrustedCertificate, Err: ErrNoCertificate}
	}

	cert := NewCertificate(chain[0])

	pinned, ok, err := e.store.Load(id)
	if err != nil {
		return fmt.Errorf("could not load pinned certificate: %w", err)
	}

	if ok && pinned.Fingerprint == cert.Fingerprint {
		e.setState(id, StateTrustedPermanently)

		return nil
	}

	reason := ReasonUntrustedCertificate
	var previous *Certificate
	if ok {
		reason = ReasonFingerprintChanged
		previous = &pinned
	} else if e.verifiesWithRoots(chain, serverName) {
		e.setState(id, StateTrustedOnce)

		return nil
	}

	pd := e.join(id, reason, cert, previous)

	select {
	case <-pd.prompt.Done():
	case <-ctx.Done():
		e.leave(id, cert, pd)

		return ctx.Err()
	}

	pd.once.Do(func() {
		pd.result = e.apply(id, cert, pd.prompt)
	})

	return pd.result
}

func pendingKey(id Identity, cert Certificate) string {
	return id.ID() + "|" + cert.Fingerprint
}

func (e *Evaluator) join(id Identity, reason Reason, cert Certificate, previous *Certificate) *pendingDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := pendingKey(id, cert)
	if pd, ok := e.pending[key]; ok {
		pd.waiters++

		return pd
	}

	pd := &pendingDecision{
		prompt:  newPrompt(id, reason, cert, previous),
		waiters: 1,
	}
	e.pending[key] = pd
	e.setStateLocked(id, StateEvaluating)

	log.Debug().
		Str("identity", id.ID()).
		Str("fingerprint", cert.Fingerprint).
		Stringer("reason", reason).
		Msg("Requesting certificate decision")

	e.center.publish(pd.prompt)

	return pd
}

// leave withdraws the prompt once its last waiter gave up. A decision that
// already arrived is still applied.
func (e *Evaluator) leave(id Identity, cert Certificate, pd *pendingDecision) {
	e.mu.Lock()
	pd.waiters--
	last := pd.waiters == 0
	if last {
		key := pendingKey(id, cert)
		if e.pending[key] == pd {
			delete(e.pending, key)
		}
	}
	e.mu.Unlock()

	if !last {
		return
	}

	if pd.prompt.settle(DecisionDeny, true) {
		e.center.remove(pd.prompt)
		e.setState(id, StateUnknown)

		return
	}

	pd.once.Do(func() {
		pd.result = e.apply(id, cert, pd.prompt)
	})
}

func (e *Evaluator) apply(id Identity, cert Certificate, prompt *Prompt) error {
	e.mu.Lock()
	key := pendingKey(id, cert)
	if e.pending[key] != nil && e.pending[key].prompt == prompt {
		delete(e.pending, key)
	}
	e.mu.Unlock()

	e.center.remove(prompt)

	decision, ok := prompt.Decision()
	if !ok {
		decision = DecisionDeny
	}

	log.Debug().
		Str("identity", id.ID()).
		Stringer("decision", decision).
		Msg("Certificate decision delivered")

	switch decision {
	case DecisionTrustPermanently:
		if err := e.store.Save(id, cert); err != nil {
			e.setState(id, StateUnknown)

			return fmt.Errorf("could not pin certificate: %w", err)
		}

		e.setState(id, StateTrustedPermanently)

		return nil
	case DecisionTrustOnce:
		e.setState(id, StateTrustedOnce)

		return nil
	default:
		e.setState(id, StateDenied)

		return &SecurityError{Identity: id, Reason: prompt.Reason, Fingerprint: cert.Fingerprint, Err: ErrCertificateDenied}
	}
}

func (e *Evaluator) verifiesWithRoots(chain []*x509.Certificate, serverName string) bool {
	if !e.opts.VerifyWithSystemRoots {
		return false
	}

	opts := x509.VerifyOptions{
		DNSName:       serverName,
		Roots:         e.opts.Roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range chain[1:] {
		opts.Intermediates.AddCert(cert)
	}

	_, err := chain[0].Verify(opts)

	return err == nil
}

// DialTLSContext returns a dial function for http.Transport that only hands
// out connections whose certificate passed Evaluate. dial opens the raw
// connection to addr, possibly through a proxy tunnel.
func (e *Evaluator) DialTLSContext(dial func(ctx context.Context, network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		id, err := IdentityFromAddr(addr, true)
		if err != nil {
			return nil, err
		}

		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		conn := tls.Client(raw, &tls.Config{
			ServerName:         id.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // Evaluate is the verifier
			VerifyConnection: func(cs tls.ConnectionState) error {
				return e.Evaluate(ctx, id, cs.PeerCertificates, id.Host)
			},
		})

		if err := conn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()

			return nil, err
		}

		return conn, nil
	}
}
