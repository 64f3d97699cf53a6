// Package rss fetches status feeds and runs the polling loop that ingests
// new incidents into the history.
package rss

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/statuspulse/internal/model"
)

// Defaults for a Fetcher.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "statuspulse/1.0"

	// NoDetails replaces a missing entry summary.
	NoDetails = "No details"

	maxBodyBytes = 10 << 20
)

// Failure kinds carried by a Failed result.
var (
	ErrTransport = errors.New("feed transport failure")
	ErrStatus    = errors.New("unexpected feed status")
	ErrParse     = errors.New("feed parse failure")
)

// ResultKind classifies the outcome of a single fetch.
type ResultKind int

// Fetch outcomes.
const (
	Updated ResultKind = iota
	NotModified
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case Updated:
		return "updated"
	case NotModified:
		return "not-modified"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Result is the typed outcome of Fetch.
type Result struct {
	Endpoint string
	Kind     ResultKind
	Entries  []model.FeedEntry // set for Updated, in feed order
	Rejected int               // entries dropped for lack of an id
	Err      error             // set for Failed
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Timeout   time.Duration // per request; DefaultTimeout if zero
	UserAgent string
	Client    *http.Client // overrides Timeout when set

	// HostConcurrency > 0 limits in-flight requests per host and spaces
	// consecutive requests to the same host by HostDelay.
	HostConcurrency int
	HostDelay       time.Duration

	// Now and Sleep drive host spacing; the wall clock when nil.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *log.Logger
}

// Fetcher performs conditional GETs against feed endpoints.
type Fetcher struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
	limiter   *hostLimiter
	logger    *log.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	f := &Fetcher{
		client:    client,
		parser:    gofeed.NewParser(),
		userAgent: ua,
		logger:    logger,
	}
	if opts.HostConcurrency > 0 {
		f.limiter = newHostLimiter(opts.HostConcurrency, opts.HostDelay, opts.Now, opts.Sleep)
	}
	return f
}

// Fetch issues a GET for cache.Endpoint, revalidating with cache.ETag when
// one is known. On a 200 response that parses, cache.ETag is replaced by the
// response validator; an unparsable body clears it. A 304 leaves cache
// untouched.
func (f *Fetcher) Fetch(ctx context.Context, cache *model.FeedCacheEntry) Result {
	res := Result{Endpoint: cache.Endpoint}

	if f.limiter != nil {
		host := hostOf(cache.Endpoint)
		if err := f.limiter.wait(ctx, host); err != nil {
			return failed(res, errors.Mark(errors.Wrapf(err, "wait for %s", host), ErrTransport))
		}
		defer f.limiter.done(host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cache.Endpoint, nil)
	if err != nil {
		return failed(res, errors.Mark(errors.Wrapf(err, "build request for %s", cache.Endpoint), ErrTransport))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	if cache.ETag != "" {
		req.Header.Set("If-None-Match", cache.ETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return failed(res, errors.Mark(errors.Wrapf(err, "get %s", cache.Endpoint), ErrTransport))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		res.Kind = NotModified
		return res
	case http.StatusOK:
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return failed(res, errors.Wrapf(ErrStatus, "get %s: %s", cache.Endpoint, resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return failed(res, errors.Mark(errors.Wrapf(err, "read %s", cache.Endpoint), ErrTransport))
	}

	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		// Drop the validator so the next cycle refetches the body.
		cache.ETag = ""
		return failed(res, errors.Mark(errors.Wrapf(err, "parse feed %s", cache.Endpoint), ErrParse))
	}
	cache.ETag = resp.Header.Get("ETag")

	res.Kind = Updated
	res.Entries = make([]model.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entry, ok := entryFromItem(item)
		if !ok {
			res.Rejected++
			f.logger.Warn("Skipping feed entry without id", "endpoint", cache.Endpoint, "title", item.Title)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}
	return res
}

func failed(res Result, err error) Result {
	res.Kind = Failed
	res.Err = err
	return res
}

// entryFromItem maps a parsed item. The id is the item GUID (Atom <id>),
// falling back to its link; items with neither are rejected.
func entryFromItem(item *gofeed.Item) (model.FeedEntry, bool) {
	if item == nil {
		return model.FeedEntry{}, false
	}
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return model.FeedEntry{}, false
	}
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	if summary == "" {
		summary = NoDetails
	}
	return model.FeedEntry{
		ID:      id,
		Title:   item.Title,
		Summary: summary,
	}, true
}
