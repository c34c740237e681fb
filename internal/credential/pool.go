// Package credential manages a rotating pool of API credentials for
// generative-model providers.
//
// Free-tier and rate-limited API keys exhaust quickly under embedding load.
// [Pool] keeps a set of keys and hands them out round-robin, skipping keys
// that are currently exhausted (until their cooldown elapses) or permanently
// invalid. Callers report outcomes back via [Pool.MarkExhausted] and
// [Pool.MarkInvalid].
//
// All types are safe for concurrent use.
package credential

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoneAvailable is returned by [Pool.Acquire] when every credential in the
// pool is either invalid or still cooling down after exhaustion.
var ErrNoneAvailable = errors.New("credential pool: no usable credential available")

// DefaultCooldown is how long an exhausted credential stays out of rotation
// before it becomes eligible again.
const DefaultCooldown = 60 * time.Second

// Status represents the current usability of a single credential.
type Status int

const (
	// StatusActive means the credential is usable.
	StatusActive Status = iota

	// StatusExhausted means the credential hit a quota or rate limit. It
	// returns to rotation automatically once its cooldown elapses.
	StatusExhausted

	// StatusInvalid means the credential was rejected by the provider
	// (revoked or malformed key). It never returns to rotation.
	StatusInvalid
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExhausted:
		return "exhausted"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Credential is a single pooled API key as handed out by [Pool.Acquire].
type Credential struct {
	// ID identifies the credential within the pool (its position at
	// construction time). Pass it back to MarkExhausted / MarkInvalid.
	ID int

	// Secret is the API key value.
	Secret string
}

// entry is the pool-internal record for one credential.
type entry struct {
	secret      string
	status      Status
	exhaustedAt time.Time
}

// Pool is a round-robin credential rotation pool.
// It is safe for concurrent use from multiple goroutines.
type Pool struct {
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []entry
	next    int
}

// Option is a functional option for [NewPool].
type Option func(*Pool)

// WithCooldown overrides the exhaustion cooldown. Zero or negative values are
// ignored and the default (60s) applies.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.cooldown = d
		}
	}
}

// WithClock injects the time source used for cooldown accounting. Tests use
// this to advance time without sleeping.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPool creates a [Pool] over the given secrets. Empty secrets are skipped.
// Returns an error when no non-empty secret remains.
func NewPool(secrets []string, opts ...Option) (*Pool, error) {
	p := &Pool{
		cooldown: DefaultCooldown,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}

	for _, s := range secrets {
		if s == "" {
			continue
		}
		p.entries = append(p.entries, entry{secret: s, status: StatusActive})
	}
	if len(p.entries) == 0 {
		return nil, errors.New("credential pool: at least one non-empty secret is required")
	}
	return p, nil
}

// Acquire returns the next usable credential in round-robin order.
//
// Invalid credentials are skipped permanently. Exhausted credentials are
// skipped until their cooldown elapses, at which point they transition back
// to active and rejoin the rotation. When a full cycle finds nothing usable,
// [ErrNoneAvailable] is returned.
func (p *Pool) Acquire() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	for i := 0; i < n; i++ {
		idx := (p.next + i) % n
		e := &p.entries[idx]

		if e.status == StatusExhausted && p.now().Sub(e.exhaustedAt) >= p.cooldown {
			e.status = StatusActive
			slog.Debug("credential cooled down, back in rotation", "credential", idx)
		}
		if e.status != StatusActive {
			continue
		}

		p.next = (idx + 1) % n
		return Credential{ID: idx, Secret: e.secret}, nil
	}

	return Credential{}, ErrNoneAvailable
}

// MarkExhausted flags the credential as quota- or rate-limited. It rejoins
// the rotation after the pool cooldown. Unknown IDs are ignored.
func (p *Pool) MarkExhausted(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.entries) {
		return
	}
	e := &p.entries[id]
	if e.status == StatusInvalid {
		return
	}
	e.status = StatusExhausted
	e.exhaustedAt = p.now()
	slog.Warn("credential exhausted", "credential", id, "cooldown", p.cooldown)
}

// MarkInvalid permanently removes the credential from rotation. Unknown IDs
// are ignored.
func (p *Pool) MarkInvalid(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.entries) {
		return
	}
	p.entries[id].status = StatusInvalid
	slog.Warn("credential marked invalid", "credential", id)
}

// StatusOf returns the current status of the credential with the given ID,
// accounting for elapsed cooldowns. Unknown IDs report StatusInvalid.
func (p *Pool) StatusOf(id int) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || id >= len(p.entries) {
		return StatusInvalid
	}
	e := p.entries[id]
	if e.status == StatusExhausted && p.now().Sub(e.exhaustedAt) >= p.cooldown {
		return StatusActive
	}
	return e.status
}

// Usable returns how many credentials would currently be handed out by
// Acquire (active, or exhausted with an elapsed cooldown).
func (p *Pool) Usable() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, e := range p.entries {
		switch e.status {
		case StatusActive:
			count++
		case StatusExhausted:
			if p.now().Sub(e.exhaustedAt) >= p.cooldown {
				count++
			}
		}
	}
	return count
}

// Len returns the total number of credentials in the pool, regardless of status.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Replace swaps the pool's credentials for the given secrets. All status
// tracking is reset and the rotation cursor restarts at the first entry.
// Used when the key set changes via config reload. Empty secrets are skipped;
// returns an error when no non-empty secret remains, leaving the pool as-is.
func (p *Pool) Replace(secrets []string) error {
	var entries []entry
	for _, s := range secrets {
		if s == "" {
			continue
		}
		entries = append(entries, entry{secret: s, status: StatusActive})
	}
	if len(entries) == 0 {
		return errors.New("credential pool: at least one non-empty secret is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = entries
	p.next = 0
	slog.Info("credential pool replaced", "credentials", len(entries))
	return nil
}
