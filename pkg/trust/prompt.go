package trust

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Prompt is a pending trust decision. The first Resolve wins; later calls
// are no-ops.
type Prompt struct {
	ID          string
	Identity    Identity
	Reason      Reason
	Certificate Certificate
	// Previous is the pinned certificate when Reason is ReasonFingerprintChanged.
	Previous  *Certificate
	CreatedAt time.Time

	once      sync.Once
	done      chan struct{}
	decision  Decision
	withdrawn bool
}

func newPrompt(id Identity, reason Reason, cert Certificate, previous *Certificate) *Prompt {
	return &Prompt{
		ID:          uuid.NewString(),
		Identity:    id,
		Reason:      reason,
		Certificate: cert,
		Previous:    previous,
		CreatedAt:   time.Now(),
		done:        make(chan struct{}),
	}
}

// Resolve delivers a decision and reports whether it was the one applied.
func (p *Prompt) Resolve(decision Decision) bool {
	if decision == DecisionNone {
		return false
	}

	return p.settle(decision, false)
}

func (p *Prompt) settle(decision Decision, withdrawn bool) bool {
	applied := false
	p.once.Do(func() {
		p.decision = decision
		p.withdrawn = withdrawn
		applied = true
		close(p.done)
	})

	return applied
}

// Done is closed once the prompt is resolved or withdrawn.
func (p *Prompt) Done() <-chan struct{} {
	return p.done
}

// Decision returns the delivered decision; ok is false while pending or
// after the prompt was withdrawn.
func (p *Prompt) Decision() (Decision, bool) {
	select {
	case <-p.done:
		return p.decision, !p.withdrawn
	default:
		return DecisionNone, false
	}
}

// PromptCenter broadcasts prompts: every observer receives every prompt.
type PromptCenter struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	pending     []*Prompt
}

func NewPromptCenter() *PromptCenter {
	return &PromptCenter{subscribers: map[*subscriber]struct{}{}}
}

// Observe streams prompts until ctx is done, starting with those still
// pending. The channel is closed when ctx is done.
func (c *PromptCenter) Observe(ctx context.Context) <-chan *Prompt {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan *Prompt),
	}

	c.mu.Lock()
	for _, p := range c.pending {
		s.push(p)
	}
	c.subscribers[s] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.subscribers, s)
			c.mu.Unlock()
		}()

		s.run(ctx)
	}()

	return s.out
}

// Pending lists unresolved prompts in publication order.
func (c *PromptCenter) Pending() []*Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*Prompt{}, c.pending...)
}

func (c *PromptCenter) publish(p *Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, p)

	if len(c.subscribers) == 0 {
		log.Warn().
			Str("identity", p.Identity.ID()).
			Msg("No observers for certificate prompt, waiting")
	}

	for s := range c.subscribers {
		s.push(p)
	}
}

func (c *PromptCenter) remove(p *Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, candidate := range c.pending {
		if candidate == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)

			return
		}
	}
}

// subscriber buffers prompts without bound so a slow observer never blocks
// publication or other observers.
type subscriber struct {
	mu    sync.Mutex
	queue []*Prompt
	wake  chan struct{}
	out   chan *Prompt
}

func (s *subscriber) push(p *Prompt) {
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		p := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case <-p.Done():
			continue
		default:
		}

		select {
		case s.out <- p:
		case <-ctx.Done():
			return
		}
	}
}
