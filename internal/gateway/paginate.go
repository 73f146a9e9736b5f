package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNotFound reports that a whole resource does not exist. It is a soft failure.
	ErrNotFound = errors.New("resource not found")
	// ErrTransient marks failures worth retrying, such as 5xx responses.
	ErrTransient = errors.New("transient failure")
	// ErrQuotaTimeout reports that waiting for the quota reset would exceed the allowed wait.
	ErrQuotaTimeout = errors.New("timed out waiting for rate limit reset")
)

// Quota is the provider's remaining request budget.
type Quota struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// Known reports whether the quota was actually observed.
func (q Quota) Known() bool {
	return q.Limit > 0
}

// QuotaExceededError is returned when the provider rejected a request because
// the budget is exhausted.
type QuotaExceededError struct {
	Quota Quota
	Err   error
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("rate limit exhausted until %s: %v", e.Quota.Reset.Format(time.RFC3339), e.Err)
}

func (e *QuotaExceededError) Unwrap() error {
	return e.Err
}

// Page is one page of items returned by a PageFunc.
type Page[T any] struct {
	Items []T
	Quota Quota
	// Last stops pagination even if the page is full.
	Last bool
}

// PageFunc fetches the 1-based page of a resource.
type PageFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// PagerOptions configures a Pager. Zero values select the defaults.
type PagerOptions struct {
	PageSize       int
	QuotaThreshold int
	QuotaMargin    time.Duration
	MaxQuotaWait   time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
}

// Default pager settings.
const (
	DefaultPageSize       = 100
	DefaultQuotaThreshold = 50
	DefaultQuotaMargin    = 5 * time.Second
	DefaultMaxQuotaWait   = time.Hour
	DefaultMaxRetries     = 3
	DefaultRetryInterval  = time.Second
)

// Pager drives paginated requests against a rate-limited provider. It keeps
// the last observed quota and blocks before a request when the remaining
// budget is below the threshold. It is safe for concurrent use.
type Pager struct {
	opts   PagerOptions
	logger *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	quota Quota
}

// NewPager creates a Pager. A nil logger discards output.
func NewPager(opts PagerOptions, logger *log.Logger) *Pager {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.QuotaThreshold <= 0 {
		opts.QuotaThreshold = DefaultQuotaThreshold
	}
	if opts.QuotaMargin <= 0 {
		opts.QuotaMargin = DefaultQuotaMargin
	}
	if opts.MaxQuotaWait <= 0 {
		opts.MaxQuotaWait = DefaultMaxQuotaWait
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Pager{
		opts:   opts,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// PageSize returns the number of items requested per page.
func (p *Pager) PageSize() int {
	return p.opts.PageSize
}

// Quota returns the last observed quota.
func (p *Pager) Quota() Quota {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quota
}

// Observe records a quota signal. Unknown quotas are ignored.
func (p *Pager) Observe(q Quota) {
	if !q.Known() {
		return
	}
	p.mu.Lock()
	p.quota = q
	p.mu.Unlock()
}

func (p *Pager) forget() {
	p.mu.Lock()
	p.quota = Quota{}
	p.mu.Unlock()
}

// Do performs a single request: it waits for quota if needed, retries
// transient failures with exponential backoff and records the returned quota.
// A request rejected for an exhausted quota is repeated after the reset for as
// long as the total wait stays within MaxQuotaWait.
func (p *Pager) Do(ctx context.Context, resource string, call func(ctx context.Context) (Quota, error)) error {
	var waited time.Duration
	for {
		w, err := p.awaitQuota(ctx, resource, p.opts.MaxQuotaWait-waited)
		if err != nil {
			return err
		}
		waited += w

		var q Quota
		op := func() error {
			var err error
			q, err = call(ctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrTransient):
				p.logger.Printf("  Retrying %s after error: %v", resource, err)
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.opts.RetryInterval
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.opts.MaxRetries)), ctx))

		var qe *QuotaExceededError
		if errors.As(err, &qe) {
			exhausted := qe.Quota
			exhausted.Remaining = 0
			if exhausted.Limit <= 0 {
				exhausted.Limit = 1
			}
			if now := p.now(); exhausted.Reset.Before(now) {
				exhausted.Reset = now
			}
			p.logger.Printf("  Rate limit exhausted during %s: %v", resource, err)
			p.Observe(exhausted)
			continue
		}
		if err != nil {
			return err
		}
		p.Observe(q)
		return nil
	}
}

// FetchAll requests pages of a resource until a page holds fewer items than
// the page size or is marked last. On ErrNotFound the items gathered so far
// are returned together with the error.
func FetchAll[T any](ctx context.Context, p *Pager, resource string, fetch PageFunc[T]) ([]T, error) {
	var items []T
	for page := 1; ; page++ {
		var res Page[T]
		err := p.Do(ctx, fmt.Sprintf("%s (page %d)", resource, page), func(ctx context.Context) (Quota, error) {
			var err error
			res, err = fetch(ctx, page)
			return res.Quota, err
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				p.logger.Printf("  %s not found, keeping %d items already fetched", resource, len(items))
			}
			return items, fmt.Errorf("failed to fetch %s: %w", resource, err)
		}
		items = append(items, res.Items...)
		if res.Last || len(res.Items) < p.opts.PageSize {
			return items, nil
		}
		p.logger.Printf("  Fetching next page of %s...", resource)
	}
}

// awaitQuota blocks until the quota resets when the remaining budget is low
// and returns how long it waited. A wait longer than budget fails.
func (p *Pager) awaitQuota(ctx context.Context, resource string, budget time.Duration) (time.Duration, error) {
	q := p.Quota()
	if !q.Known() || (q.Remaining >= p.opts.QuotaThreshold && q.Remaining > 0) {
		return 0, nil
	}
	wait := q.Reset.Sub(p.now()) + p.opts.QuotaMargin
	if wait <= 0 {
		return 0, nil
	}
	if wait > budget {
		return 0, fmt.Errorf("%w: %s needs %s, %s left of %s", ErrQuotaTimeout, resource,
			wait.Round(time.Second), max(budget, 0).Round(time.Second), p.opts.MaxQuotaWait)
	}
	p.logger.Printf("Rate limit low (%d/%d remaining), waiting %s before %s...", q.Remaining, q.Limit, wait.Round(time.Second), resource)
	if err := p.sleep(ctx, wait); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrQuotaTimeout, resource, err)
	}
	p.forget()
	return wait, nil
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
