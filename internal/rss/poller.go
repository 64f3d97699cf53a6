package rss

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bryan-buckman/statuspulse/internal/history"
	"github.com/bryan-buckman/statuspulse/internal/model"
	"github.com/bryan-buckman/statuspulse/internal/notify"
	"github.com/bryan-buckman/statuspulse/internal/sanitize"
	"github.com/bryan-buckman/statuspulse/internal/severity"
)

// DefaultInterval is the pause between polling cycles.
const DefaultInterval = 60 * time.Second

// FeedFetcher is satisfied by *Fetcher.
type FeedFetcher interface {
	Fetch(ctx context.Context, cache *model.FeedCacheEntry) Result
}

// State of the polling loop.
type State int32

// Poller states.
const (
	Idle State = iota
	Fetching
)

func (s State) String() string {
	if s == Fetching {
		return "fetching"
	}
	return "idle"
}

// EndpointReport summarizes one endpoint within a cycle.
type EndpointReport struct {
	Endpoint string
	Kind     ResultKind
	Err      error
	Entries  int // entries in the feed
	New      int // records appended and announced
	Seen     int // entries already in the history
	Rejected int // entries without an id
	Failed   int // entries that could not be persisted
}

// CycleReport summarizes one pass over all endpoints.
type CycleReport struct {
	Endpoints []EndpointReport
	New       []model.IncidentRecord
	Failed    int
}

// PollerOptions configures a Poller. Zero values select defaults.
type PollerOptions struct {
	Interval    time.Duration
	Concurrency int // parallel fetches per cycle; 1 fetches sequentially

	// Now and Sleep replace the wall clock, mainly for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *log.Logger
}

// Poller runs the fetch, dedup, classify, persist, notify loop.
type Poller struct {
	fetcher     FeedFetcher
	history     *history.History
	notifier    notify.Notifier
	interval    time.Duration
	concurrency int
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *log.Logger

	cycleMu sync.Mutex
	state   atomic.Int32

	// epMu guards caches only, so snapshots never wait for a cycle.
	epMu   sync.Mutex
	caches []model.FeedCacheEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a poller over endpoints in the given order.
// Each endpoint starts without a revalidation token.
func NewPoller(fetcher FeedFetcher, hist *history.History, notifier notify.Notifier, endpoints []string, opts PollerOptions) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		history:     hist,
		notifier:    notifier,
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = sleepContext
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	for _, e := range endpoints {
		p.caches = append(p.caches, model.FeedCacheEntry{Endpoint: e})
	}
	return p
}

// State reports whether a cycle is in progress.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Endpoints returns a snapshot of the per-endpoint cache state.
func (p *Poller) Endpoints() []model.FeedCacheEntry {
	p.epMu.Lock()
	defer p.epMu.Unlock()
	return append([]model.FeedCacheEntry(nil), p.caches...)
}

func (p *Poller) cache(i int) model.FeedCacheEntry {
	p.epMu.Lock()
	defer p.epMu.Unlock()
	return p.caches[i]
}

func (p *Poller) setCache(i int, c model.FeedCacheEntry) {
	p.epMu.Lock()
	p.caches[i] = c
	p.epMu.Unlock()
}

// Run polls until ctx is cancelled, sleeping the interval between cycles.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Pulse monitor active", "feeds", len(p.Endpoints()), "interval", p.interval)
	for {
		report := p.RunCycle(ctx)
		p.logger.Debug("Cycle finished", "new", len(report.New), "failed", report.Failed)
		if err := p.sleep(ctx, p.interval); err != nil {
			return err
		}
	}
}

// Start runs the loop in the background until Stop is called.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("Poller stopped", "err", err)
		}
	}()
}

// Stop cancels a loop started with Start and waits for it to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// RunCycle processes every endpoint once, in configured order.
func (p *Poller) RunCycle(ctx context.Context) CycleReport {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	p.state.Store(int32(Fetching))
	defer p.state.Store(int32(Idle))

	var report CycleReport
	n := len(p.Endpoints())
	if p.concurrency <= 1 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			cache := p.cache(i)
			res := p.fetcher.Fetch(ctx, &cache)
			p.process(ctx, &cache, res, &report)
			p.setCache(i, cache)
		}
		return report
	}

	caches, results := p.fetchParallel(ctx, n)
	for i := range caches {
		p.process(ctx, &caches[i], results[i], &report)
		p.setCache(i, caches[i])
	}
	return report
}

// fetchParallel fetches n endpoints with a bounded worker pool. It returns
// the updated cache entries and results, both indexed like the endpoints.
func (p *Poller) fetchParallel(ctx context.Context, n int) ([]model.FeedCacheEntry, []Result) {
	caches := p.Endpoints()
	results := make([]Result, n)
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := p.concurrency
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.fetcher.Fetch(ctx, &caches[i])
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return caches, results
}

func (p *Poller) process(ctx context.Context, cache *model.FeedCacheEntry, res Result, report *CycleReport) {
	er := EndpointReport{Endpoint: cache.Endpoint, Kind: res.Kind, Err: res.Err, Rejected: res.Rejected}
	defer func() { report.Endpoints = append(report.Endpoints, er) }()

	switch res.Kind {
	case NotModified:
		p.logger.Debug("Feed not modified", "endpoint", cache.Endpoint)
		return
	case Failed:
		p.logger.Error("Fetch error", "endpoint", cache.Endpoint, "err", res.Err)
		return
	}

	er.Entries = len(res.Entries)
	for _, entry := range res.Entries {
		if p.history.Contains(entry.ID) {
			er.Seen++
			continue
		}
		rec := p.buildRecord(entry)
		added, err := p.history.AppendIfAbsent(rec)
		if err != nil {
			er.Failed++
			report.Failed++
			// Forget the validator so the next cycle refetches and retries.
			cache.ETag = ""
			p.logger.Error("Failed to persist incident", "id", entry.ID, "endpoint", cache.Endpoint, "err", err)
			continue
		}
		if !added {
			er.Seen++
			continue
		}
		er.New++
		report.New = append(report.New, rec)
		p.logger.Debug("Recorded incident", "id", rec.ID, "color", rec.Color)
		if p.notifier != nil {
			if err := p.notifier.Notify(ctx, rec); err != nil {
				p.logger.Warn("Notification failed", "id", rec.ID, "err", err)
			}
		}
	}
}

func (p *Poller) buildRecord(entry model.FeedEntry) model.IncidentRecord {
	rec := model.IncidentRecord{
		ID:     entry.ID,
		Title:  entry.Title,
		Status: sanitize.Status(entry.Summary),
		Color:  severity.Classify(entry.Title),
	}
	rec.Stamp(p.now())
	return rec
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
