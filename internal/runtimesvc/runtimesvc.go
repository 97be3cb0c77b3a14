// Package runtimesvc implements the RuntimeService (spec §4.5): the
// mutex-guarded shared state between the RPC handler goroutines (T1)
// and the single sampling/control loop goroutine (T2), plus the loop
// itself. It is the only place `policy`, `is_updated`, and `stats`
// are touched, matching spec §5's "critical sections kept to O(copy)".
package runtimesvc

import (
	"context"
	"sync"
	"time"

	"github.com/hpcgov/rtd/internal/agent"
	"github.com/hpcgov/rtd/internal/hwio"
	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rtlog"
	"github.com/hpcgov/rtd/internal/stats"
	"github.com/hpcgov/rtd/internal/waiter"
)

// ChildHostTimestamp is the server-side timestamp returned by
// AddChildHost/RemoveChildHost (spec §6).
type ChildHostTimestamp struct {
	URL string
	At  time.Time
}

// Report is the snapshot GetReport returns: the per-metric stats view
// plus the loop's last recorded error, if any (spec §5 "Error surfacing").
type Report struct {
	Metrics  []stats.Snapshot
	LastErr  error
	Policy   policy.Policy
}

// SharedState is the mutex-guarded state shared between RPC handlers and
// the loop, exactly per spec §4.5: `{ lock, policy, is_updated, stats,
// lastErr }`. All three reads/writes — policy, is_updated, stats — must
// hold mu.
type SharedState struct {
	mu        sync.Mutex
	policy    policy.Policy
	isUpdated bool
	stats     *stats.Stats
	lastErr   error

	// updated is closed and replaced every time SetPolicy runs, so the
	// loop can block waiting for the first real policy instead of
	// busy-spinning on an agent.none/period-0 bootstrap state.
	updated chan struct{}

	childHosts map[string]time.Time
}

// NewSharedState constructs a SharedState with an empty initial policy
// (agent.none, period 0 — the loop blocks until a real policy is
// published rather than ticking against this placeholder).
func NewSharedState() *SharedState {
	return &SharedState{
		policy:     policy.Policy{Agent: policy.AgentNone},
		updated:    make(chan struct{}),
		childHosts: make(map[string]time.Time),
	}
}

// SetPolicy atomically replaces the active policy and returns the
// previous one (spec §4.5/§6: "acquire lock, replace S.policy, set
// S.is_updated = true, release, return previous policy").
func (s *SharedState) SetPolicy(p policy.Policy) (policy.Policy, error) {
	if err := policy.Validate(p); err != nil {
		return policy.Policy{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.policy
	s.policy = p
	s.isUpdated = true
	close(s.updated)
	s.updated = make(chan struct{})
	return prev, nil
}

// GetReport acquires the lock, snapshots stats and the last error, and
// releases (spec §4.5: "a single consistent view of all per-metric
// moments").
func (s *SharedState) GetReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Report{Policy: s.policy, LastErr: s.lastErr}
	if s.stats != nil {
		r.Metrics = s.stats.Snapshot()
	}
	return r
}

// AddChildHost registers a child node's base URL in the tree membership
// set, returning a server-side timestamp (spec §6).
func (s *SharedState) AddChildHost(url string) ChildHostTimestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.childHosts[url] = now
	return ChildHostTimestamp{URL: url, At: now}
}

// RemoveChildHost deregisters a child node's base URL, returning a
// server-side timestamp (spec §6).
func (s *SharedState) RemoveChildHost(url string) ChildHostTimestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.childHosts, url)
	return ChildHostTimestamp{URL: url, At: time.Now()}
}

// ChildHosts returns a snapshot of the currently registered child URLs.
func (s *SharedState) ChildHosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.childHosts))
	for url := range s.childHosts {
		out = append(out, url)
	}
	return out
}

func (s *SharedState) takeUpdatedPolicy() (policy.Policy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isUpdated {
		return policy.Policy{}, false
	}
	p := s.policy
	s.isUpdated = false
	return p, true
}

// awaitFirstPolicy blocks until a policy has been published via
// SetPolicy (taking it, as takeUpdatedPolicy does) or ctx is cancelled.
// It is the bootstrap counterpart to takeUpdatedPolicy's steady-state
// polling: a freshly constructed SharedState's implicit agent.none/
// period-0 policy must hold the loop open (per the noop agent's own
// contract), not trip the period-0 shutdown rule.
func (s *SharedState) awaitFirstPolicy(ctx context.Context) (policy.Policy, bool) {
	for {
		if p, ok := s.takeUpdatedPolicy(); ok {
			return p, true
		}
		s.mu.Lock()
		ch := s.updated
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return policy.Policy{}, false
		}
	}
}

func (s *SharedState) recordSample(sample []float64) {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	if st == nil || sample == nil {
		return
	}
	if err := st.Update(sample); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

func (s *SharedState) recordFatal(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *SharedState) setStats(st *stats.Stats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

// Alive reports whether the loop has not yet recorded a fatal error.
func (s *SharedState) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr == nil
}

// Loop is the single dedicated sampling/control-loop goroutine (T2),
// built on internal/waiter, grounded on spec §4.5's four-step loop body.
type Loop struct {
	state *SharedState
	hw    *hwio.HardwareIO
	log   *rtlog.Logger
}

// NewLoop constructs a Loop bound to the given shared state and
// HardwareIO facade.
func NewLoop(state *SharedState, hw *hwio.HardwareIO) *Loop {
	return &Loop{state: state, hw: hw, log: rtlog.Default("loop")}
}

// Run drives the loop until ctx is cancelled, the active agent's period
// reaches zero (spec §5: "setting the policy period to 0 is the
// documented way to stop the loop cleanly"), or an unrecoverable error
// occurs (recorded as lastErr; the loop then exits, the RPC server
// keeps serving per spec §5 "Error surfacing").
func (l *Loop) Run(ctx context.Context) error {
	firstPolicy, ok := l.state.awaitFirstPolicy(ctx)
	if !ok {
		return nil
	}

	a, err := agent.New(firstPolicy, l.hw)
	if err != nil {
		l.state.recordFatal(err)
		return err
	}
	if a.Period() == 0 {
		return nil
	}
	l.state.setStats(stats.New(a.MetricNames()))
	w := waiter.New(a.Period())

	tick := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if p, ok := l.state.takeUpdatedPolicy(); ok {
			a, err = agent.New(p, l.hw)
			if err != nil {
				l.state.recordFatal(err)
				return err
			}
			if a.Period() == 0 {
				return nil
			}
			l.state.setStats(stats.New(a.MetricNames()))
			w.SetPeriod(a.Period())
		}

		sample, err := a.Update(ctx)
		if err != nil {
			l.state.recordFatal(err)
			return err
		}
		l.state.recordSample(sample)
		tick++
		l.log.Debug("tick complete", "agent", string(a.Name()), "tick", tick)

		if err := w.Wait(ctx); err != nil {
			return nil
		}
	}
}
