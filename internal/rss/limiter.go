package rss

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Per-host limits applied when endpoints are fetched in parallel.
const (
	MaxConcurrencyPerHost   = 2
	DelayBetweenHostFetches = 500 * time.Millisecond
)

// hostLimiter caps in-flight requests per status host and spaces request
// starts to the same host by at least delay. Each acquire reserves the next
// start slot, so waiting callers are released in arrival order.
type hostLimiter struct {
	perHost int
	delay   time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	hosts map[string]*hostSlot
}

type hostSlot struct {
	inFlight chan struct{}
	next     time.Time // earliest start for the next request
}

func newHostLimiter(perHost int, delay time.Duration, now func() time.Time, sleep func(context.Context, time.Duration) error) *hostLimiter {
	if perHost < 1 {
		perHost = 1
	}
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &hostLimiter{
		perHost: perHost,
		delay:   delay,
		now:     now,
		sleep:   sleep,
		hosts:   make(map[string]*hostSlot),
	}
}

func (hl *hostLimiter) slot(host string) *hostSlot {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	s, ok := hl.hosts[host]
	if !ok {
		s = &hostSlot{inFlight: make(chan struct{}, hl.perHost)}
		hl.hosts[host] = s
	}
	return s
}

// wait blocks until host has a free slot and its start time has come.
// Every successful wait must be paired with done.
func (hl *hostLimiter) wait(ctx context.Context, host string) error {
	s := hl.slot(host)
	select {
	case s.inFlight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	hl.mu.Lock()
	now := hl.now()
	start := s.next
	if start.Before(now) {
		start = now
	}
	s.next = start.Add(hl.delay)
	hl.mu.Unlock()

	if d := start.Sub(now); d > 0 {
		if err := hl.sleep(ctx, d); err != nil {
			<-s.inFlight
			return err
		}
	}
	return nil
}

// done frees the slot taken by wait.
func (hl *hostLimiter) done(host string) {
	<-hl.slot(host).inFlight
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
