// Package exporter serves collection snapshots as Prometheus metrics. Scrapes trigger
// collection cycles; concurrent scrapes share one cycle and recent snapshots are reused.
package exporter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/racknerd-exporter/model"
	"github.com/and161185/racknerd-exporter/storage"
)

// Defaults used when Config leaves a bound unset.
const (
	DefaultCollectTimeout = 2 * time.Minute
	DefaultScrapeTimeout  = 10 * time.Second
)

type builder interface {
	Collect(ctx context.Context) (model.Snapshot, error)
}

// Config controls when cycles run.
type Config struct {
	CacheTTL       time.Duration // snapshots younger than this are served without a new cycle
	CollectTimeout time.Duration // bound of one shared cycle
	ScrapeTimeout  time.Duration // how long a scrape waits for a running cycle
	Logins         func() int64  // optional source of the login counter
}

type cycle struct {
	done     bool
	success  bool
	duration time.Duration
	at       time.Time
}

// Exporter owns the collection schedule and implements prometheus.Collector.
type Exporter struct {
	builder builder
	store   storage.Storage
	cfg     Config
	logger  *zap.SugaredLogger
	now     func() time.Time

	sf singleflight.Group

	mu   sync.Mutex
	last cycle
}

var _ prometheus.Collector = (*Exporter)(nil)

// New creates an exporter that collects through b and keeps snapshots in store.
func New(b builder, store storage.Storage, cfg Config, logger *zap.SugaredLogger) *Exporter {
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = DefaultCollectTimeout
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = DefaultScrapeTimeout
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Exporter{builder: b, store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Current returns the snapshot a scrape should see. It reuses a snapshot younger than the
// cache TTL, otherwise joins or starts a cycle. When ctx ends first the latest stored
// snapshot is returned while the cycle keeps running for the other waiters.
func (e *Exporter) Current(ctx context.Context) model.Snapshot {
	if snap, err := e.store.Latest(ctx); err == nil && e.cfg.CacheTTL > 0 && e.now().Sub(snap.StartedAt) < e.cfg.CacheTTL {
		return snap
	}

	ch := e.sf.DoChan("collect", func() (interface{}, error) {
		return e.refresh(), nil
	})
	select {
	case res := <-ch:
		snap, _ := res.Val.(model.Snapshot)
		return snap
	case <-ctx.Done():
		e.logger.Warnw("scrape gave up waiting for collection", "error", ctx.Err())
		snap, _ := e.store.Latest(context.Background())
		return snap
	}
}

// refresh runs one cycle and decides what is served afterwards. A failed cycle keeps the
// previous snapshot; without one its own result is stored.
func (e *Exporter) refresh() model.Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CollectTimeout)
	defer cancel()

	snap, err := e.builder.Collect(ctx)

	e.mu.Lock()
	e.last = cycle{done: true, success: err == nil, duration: snap.Duration, at: snap.StartedAt}
	e.mu.Unlock()

	if err == nil {
		e.save(snap)
		e.logger.Infow("collection cycle finished", "vms", len(snap.Entries), "duration", snap.Duration)
		return snap
	}

	prior, perr := e.store.Latest(context.Background())
	if errors.Is(perr, storage.ErrNoSnapshot) {
		e.logger.Warnw("collection cycle failed, no previous snapshot", "error", err)
		e.save(snap)
		return snap
	}
	e.logger.Warnw("collection cycle failed, serving previous snapshot",
		"error", err, "previous", prior.StartedAt)
	return prior
}

func (e *Exporter) save(snap model.Snapshot) {
	if err := e.store.Save(context.Background(), snap); err != nil {
		e.logger.Errorw("failed to store snapshot", "error", err)
	}
}

func (e *Exporter) lastCycle() cycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	describe(ch)
	ch <- loginsDesc
}

// Collect implements prometheus.Collector. A scrape waits at most ScrapeTimeout for a
// running cycle, then reports the latest stored snapshot.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ScrapeTimeout)
	defer cancel()
	snap := e.Current(ctx)

	status := e.lastCycle()
	if !status.done {
		status = cycleOf(snap)
	}
	collectSnapshot(ch, snap, status, e.logger)

	if e.cfg.Logins != nil {
		ch <- prometheus.MustNewConstMetric(loginsDesc, prometheus.CounterValue, float64(e.cfg.Logins()))
	}
}

func cycleOf(snap model.Snapshot) cycle {
	return cycle{done: !snap.IsZero(), success: snap.Success, duration: snap.Duration, at: snap.StartedAt}
}
