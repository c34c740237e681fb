// Package index manages the remote vector index lifecycle.
//
// Managed vector services provision indexes asynchronously: a create call
// returns immediately and the index spends a while in an initializing state
// before it accepts traffic. [Manager.EnsureReady] drives the whole sequence
// — check, create if missing, poll until ready — exactly once, no matter how
// many goroutines ask, and remembers the outcome.
//
// All types are safe for concurrent use.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mnemora-ai/mnemora/pkg/vector"
)

// ErrProvisionTimeout is returned when the index does not become ready
// within the poll budget. The condition is terminal: the manager refuses all
// further traffic and the application should treat it as fatal.
var ErrProvisionTimeout = errors.New("index: provisioning did not become ready within the poll budget")

// Defaults for the readiness poll loop.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 30
)

// State is the lifecycle position of the managed index.
type State int

const (
	// StateUnknown means EnsureReady has not run yet.
	StateUnknown State = iota

	// StateChecking means the index list is being fetched.
	StateChecking

	// StateExisting means the index was found already provisioned.
	StateExisting

	// StateCreating means a create request is in flight.
	StateCreating

	// StatePolling means the manager is waiting for the index to report
	// ready.
	StatePolling

	// StateReady means the index accepts traffic. Terminal success.
	StateReady

	// StateFailed means provisioning failed for good. Terminal failure.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateChecking:
		return "checking"
	case StateExisting:
		return "existing"
	case StateCreating:
		return "creating"
	case StatePolling:
		return "polling"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Manager drives a [vector.ControlPlane] to guarantee the configured index
// exists and is ready before data-plane traffic starts.
type Manager struct {
	cp           vector.ControlPlane
	spec         vector.IndexSpec
	pollInterval time.Duration
	pollAttempts int

	group singleflight.Group

	mu       sync.Mutex
	state    State
	fatalErr error
}

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithPollInterval overrides the delay between readiness polls.
// Defaults to 2s. Tests shrink this to keep the suite fast.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithPollAttempts overrides the number of readiness polls before giving up.
// Defaults to 30.
func WithPollAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.pollAttempts = n
		}
	}
}

// NewManager creates a [Manager] for the index described by spec.
func NewManager(cp vector.ControlPlane, spec vector.IndexSpec, opts ...Option) (*Manager, error) {
	if cp == nil {
		return nil, errors.New("index: control plane is required")
	}
	if spec.Name == "" {
		return nil, errors.New("index: spec.Name must not be empty")
	}

	m := &Manager{
		cp:           cp,
		spec:         spec,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
		state:        StateUnknown,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the index is known to accept traffic, without any
// network I/O. Health checks use this.
func (m *Manager) Ready() bool {
	return m.State() == StateReady
}

// EnsureReady guarantees the index exists and is ready, provisioning it if
// necessary.
//
// Once the manager has reached the ready state, EnsureReady returns nil
// immediately with no network I/O. While a check is in flight, concurrent
// callers coalesce onto it instead of issuing duplicate control-plane
// requests. A poll-budget overrun is terminal: every subsequent call
// returns [ErrProvisionTimeout] without retrying.
func (m *Manager) EnsureReady(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateFailed:
		err := m.fatalErr
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do("ensure", func() (any, error) {
		return nil, m.ensure(ctx)
	})
	return err
}

// ensure runs the check → create → poll sequence. Only one instance runs at
// a time (guarded by the singleflight group).
func (m *Manager) ensure(ctx context.Context) error {
	// A coalesced waiter may arrive right after a previous flight finished.
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateFailed:
		err := m.fatalErr
		m.mu.Unlock()
		return err
	}
	m.state = StateChecking
	m.mu.Unlock()

	names, err := m.cp.ListIndexes(ctx)
	if err != nil {
		m.setState(StateUnknown)
		return fmt.Errorf("index: list indexes: %w", err)
	}

	if slices.Contains(names, m.spec.Name) {
		m.setState(StateExisting)
		slog.Info("vector index already exists", "index", m.spec.Name)
	} else {
		m.setState(StateCreating)
		slog.Info("creating vector index",
			"index", m.spec.Name,
			"dimension", m.spec.Dimension,
			"metric", m.spec.Metric)
		if err := m.cp.CreateIndex(ctx, m.spec); err != nil {
			m.setState(StateUnknown)
			return fmt.Errorf("index: create %q: %w", m.spec.Name, err)
		}
	}

	return m.poll(ctx)
}

// poll waits for the index to report ready, up to the poll budget.
func (m *Manager) poll(ctx context.Context) error {
	m.setState(StatePolling)
	start := time.Now()

	for attempt := 1; attempt <= m.pollAttempts; attempt++ {
		status, err := m.cp.DescribeIndex(ctx, m.spec.Name)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(StateUnknown)
				return fmt.Errorf("index: poll: %w", ctx.Err())
			}
			// Transient describe failures burn an attempt but keep polling.
			slog.Warn("describe index failed while polling",
				"index", m.spec.Name, "attempt", attempt, "err", err)
		} else if status.Ready {
			if status.Dimension != 0 && m.spec.Dimension != 0 && status.Dimension != m.spec.Dimension {
				err := fmt.Errorf("index: %q has dimension %d, want %d",
					m.spec.Name, status.Dimension, m.spec.Dimension)
				m.mu.Lock()
				m.state = StateFailed
				m.fatalErr = err
				m.mu.Unlock()
				return err
			}
			m.setState(StateReady)
			slog.Info("vector index ready",
				"index", m.spec.Name,
				"waited", time.Since(start).Round(time.Millisecond))
			return nil
		}

		if attempt == m.pollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			m.setState(StateUnknown)
			return fmt.Errorf("index: poll: %w", ctx.Err())
		case <-time.After(m.pollInterval):
		}
	}

	err := fmt.Errorf("%w (index %q, %d attempts over %s)",
		ErrProvisionTimeout, m.spec.Name, m.pollAttempts, time.Since(start).Round(time.Second))
	m.mu.Lock()
	m.state = StateFailed
	m.fatalErr = err
	m.mu.Unlock()
	slog.Error("vector index provisioning timed out", "index", m.spec.Name, "err", err)
	return err
}

// setState updates the lifecycle state under the lock.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
