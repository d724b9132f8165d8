// Package pool implements the per-backend Connection Pool of
// spec.md section 4.C: at most one live connection per backend, with
// retry/backoff on reconnect.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/pgstatsmon/internal/pgclient"
)

// State is one of the pool's lifecycle states.
type State int

const (
	Idle State = iota
	Claimed
	Broken
	Connecting
	Failed
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Claimed:
		return "claimed"
	case Broken:
		return "broken"
	case Connecting:
		return "connecting"
	case Failed:
		return "failed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrKind tags why a claim failed, per spec.md section 4.C / 7.
type ErrKind int

const (
	ErrPoolFailed ErrKind = iota
	ErrClaimTimeout
	ErrPoolStopping
)

// ClaimError is returned by Claim on failure.
type ClaimError struct {
	Kind ErrKind
	Err  error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s", e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Second
)

// Dialer constructs a new Backend Client. Supplied by the caller so the
// pool need not know connection-string assembly details.
type Dialer func(ctx context.Context) (*pgclient.Client, error)

// Pool holds at most one live connection for a single backend.
type Pool struct {
	dial           Dialer
	connectRetries int
	log            zerolog.Logger

	mu     sync.Mutex
	state  State
	client *pgclient.Client
}

// New creates a Pool that dials backends with dial, making at most
// connectRetries dial attempts per Claim (at least one).
func New(dial Dialer, connectRetries int, log zerolog.Logger) *Pool {
	return &Pool{dial: dial, connectRetries: connectRetries, log: log, state: Idle}
}

// Handle is a claimed connection. The caller must call exactly one of
// Release (healthy, return to the pool) or Close (unhealthy, discard).
type Handle struct {
	pool   *Pool
	Client *pgclient.Client
}

// Release returns a healthy connection to the pool.
func (h *Handle) Release() {
	h.pool.release(h.Client)
}

// Close discards an unhealthy connection; the pool will reconnect on
// the next Claim.
func (h *Handle) Close() {
	h.pool.discard(h.Client)
}

// Claim returns a handle on a healthy connection, established fresh if
// necessary, bounded by ctx's deadline across all retry attempts.
func (p *Pool) Claim(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.state == Stopped {
		p.mu.Unlock()
		return nil, &ClaimError{Kind: ErrPoolStopping, Err: errors.New("pool is stopping")}
	}
	if p.state == Idle && p.client != nil && !p.client.IsDestroyed() {
		p.state = Claimed
		c := p.client
		p.mu.Unlock()
		return &Handle{pool: p, Client: c}, nil
	}
	p.state = Connecting
	p.mu.Unlock()

	backoff := initialBackoff
	var lastErr error
	attempts := p.connectRetries
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			p.setState(Failed)
			return nil, &ClaimError{Kind: ErrClaimTimeout, Err: err}
		}

		client, err := p.dial(ctx)
		if err == nil {
			p.mu.Lock()
			p.client = client
			p.state = Claimed
			p.mu.Unlock()
			return &Handle{pool: p, Client: client}, nil
		}

		lastErr = err
		p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("connect attempt failed")

		if attempt == attempts-1 {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			p.setState(Failed)
			return nil, &ClaimError{Kind: ErrClaimTimeout, Err: ctx.Err()}
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	p.setState(Failed)
	return nil, &ClaimError{Kind: ErrPoolFailed, Err: lastErr}
}

func (p *Pool) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pool) release(c *pgclient.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Stopped {
		c.Destroy()
		return
	}
	if c.HadError() || c.IsDestroyed() {
		p.state = Broken
		p.client = nil
		c.Destroy()
		return
	}
	p.state = Idle
}

func (p *Pool) discard(c *pgclient.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Broken
	p.client = nil
	c.Destroy()
}

// State reports the pool's current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stop marks the pool as stopping and forcibly closes any live
// connection; in-flight claims fail with ErrPoolStopping.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Stopped
	if p.client != nil {
		p.client.Destroy()
		p.client = nil
	}
}
