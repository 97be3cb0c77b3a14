// Package tree implements the child-host forwarding/aggregation layer
// (spec §6.1, [EXPANSION]): a parent node registers children by base
// URL, forwards policy changes down to them, and folds their reported
// stats into a parent-side aggregate view. Grounded on the teacher's
// pkg/proc/broker.go process-registry shape (a mutex-guarded
// map[string]*entry plus one background goroutine per entry, reaped on
// removal), generalized from subprocess bookkeeping to HTTP child hosts.
package tree

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hpcgov/rtd/internal/policy"
	"github.com/hpcgov/rtd/internal/rtlog"
)

// ChildReport is the wire shape of a child's GetReport response this
// package understands well enough to aggregate (spec §6.1 point 2):
// one entry per metric, matching internal/stats.Snapshot's fields.
type ChildReport struct {
	Metrics []ChildMetric `json:"metrics"`
}

// ChildMetric mirrors stats.Snapshot for JSON decoding.
type ChildMetric struct {
	Name  string  `json:"name"`
	Count uint64  `json:"count"`
	Mean  float64 `json:"mean"`
}

// AggregateMetric is the parent-side folded view of one metric name
// across every registered child (spec.md §4.4 "Aggregation up the
// tree": average for power-like metrics, logical-AND for
// convergence-flag metrics).
type AggregateMetric struct {
	Name         string
	Average      float64
	AllConverged bool
	ChildCount   int
}

// isConvergenceMetric reports whether name should be folded with
// logical AND instead of averaging (spec.md §4.4's "is_converged").
func isConvergenceMetric(name string) bool {
	return strings.Contains(strings.ToLower(name), "converged")
}

type child struct {
	url    string
	client *resty.Client
	cancel context.CancelFunc
}

// Tree is the mutex-guarded child-host registry plus its background
// forwarder goroutines, grounded on pkg/proc/broker.go's Broker.
type Tree struct {
	mu       sync.RWMutex
	children map[string]*child
	wg       sync.WaitGroup

	aggMu     sync.Mutex
	aggregate map[string]AggregateMetric

	policyFn func() policy.Policy
	period   time.Duration
	log      *rtlog.Logger
}

// New constructs a Tree. policyFn supplies the current local policy to
// forward to every child; period is the aggregation poll interval
// (spec §6.1: "at a configurable aggregation period").
func New(policyFn func() policy.Policy, period time.Duration) *Tree {
	return &Tree{
		children:  make(map[string]*child),
		aggregate: make(map[string]AggregateMetric),
		policyFn:  policyFn,
		period:    period,
		log:       rtlog.Default("tree"),
	}
}

// AddChildHost registers url, starting its background forwarder
// goroutine. Re-registering an already-known url is a no-op.
func (t *Tree) AddChildHost(ctx context.Context, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.children[url]; exists {
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	c := &child{
		url:    url,
		client: resty.New().SetBaseURL(url).SetTimeout(5 * time.Second).SetRetryCount(3),
		cancel: cancel,
	}
	t.children[url] = c

	t.wg.Add(1)
	go t.forwardLoop(childCtx, c)
}

// RemoveChildHost deregisters url and stops its forwarder goroutine.
func (t *Tree) RemoveChildHost(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, exists := t.children[url]; exists {
		c.cancel()
		delete(t.children, url)
	}
}

// ChildURLs returns a snapshot of currently registered child base URLs.
func (t *Tree) ChildURLs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.children))
	for url := range t.children {
		out = append(out, url)
	}
	return out
}

// Aggregate returns the current parent-side aggregate view, folded
// from the most recent poll of every registered child.
func (t *Tree) Aggregate() []AggregateMetric {
	t.aggMu.Lock()
	defer t.aggMu.Unlock()
	out := make([]AggregateMetric, 0, len(t.aggregate))
	for _, m := range t.aggregate {
		out = append(out, m)
	}
	return out
}

func (t *Tree) forwardLoop(ctx context.Context, c *child) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	t.forwardOnce(c)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.forwardOnce(c)
		}
	}
}

func (t *Tree) forwardOnce(c *child) {
	p := t.policyFn()
	if _, err := c.client.R().SetBody(p).Post("/v1/policy"); err != nil {
		t.log.Warn("failed to forward policy to child", "child", c.url, "error", err.Error())
		return
	}

	var report ChildReport
	if _, err := c.client.R().SetResult(&report).Get("/v1/report"); err != nil {
		t.log.Warn("failed to pull report from child", "child", c.url, "error", err.Error())
		return
	}
	t.foldReport(c.url, report)
}

func (t *Tree) foldReport(childURL string, report ChildReport) {
	t.aggMu.Lock()
	defer t.aggMu.Unlock()
	for _, m := range report.Metrics {
		prev, exists := t.aggregate[m.Name]
		if isConvergenceMetric(m.Name) {
			converged := m.Mean != 0
			if !exists {
				t.aggregate[m.Name] = AggregateMetric{Name: m.Name, AllConverged: converged, ChildCount: 1}
			} else {
				prev.AllConverged = prev.AllConverged && converged
				prev.ChildCount++
				t.aggregate[m.Name] = prev
			}
			continue
		}
		if !exists {
			t.aggregate[m.Name] = AggregateMetric{Name: m.Name, Average: m.Mean, ChildCount: 1}
		} else {
			total := prev.Average*float64(prev.ChildCount) + m.Mean
			prev.ChildCount++
			prev.Average = total / float64(prev.ChildCount)
			t.aggregate[m.Name] = prev
		}
	}
}

// Close stops every forwarder goroutine and waits for them to exit.
func (t *Tree) Close() {
	t.mu.Lock()
	for url, c := range t.children {
		c.cancel()
		delete(t.children, url)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
