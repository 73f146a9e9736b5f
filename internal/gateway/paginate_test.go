package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 24, 12, 0, 0, 0, time.UTC)

// newTestPager returns a pager with a frozen clock that records requested sleeps.
func newTestPager(opts PagerOptions) (*Pager, *[]time.Duration) {
	if opts.RetryInterval == 0 {
		opts.RetryInterval = time.Millisecond
	}
	p := NewPager(opts, nil)
	p.now = func() time.Time { return testNow }
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func numberedPages(total, pageSize int) PageFunc[int] {
	return func(_ context.Context, page int) (Page[int], error) {
		var items []int
		for i := (page - 1) * pageSize; i < total && i < page*pageSize; i++ {
			items = append(items, i)
		}
		return Page[int]{Items: items}, nil
	}
}

func TestFetchAll_StopsOnShortPage(t *testing.T) {
	testCases := []struct {
		name      string
		total     int
		wantCalls int
	}{
		{name: "single short page", total: 3, wantCalls: 1},
		{name: "two full pages then empty", total: 10, wantCalls: 3},
		{name: "partial last page", total: 12, wantCalls: 3},
		{name: "empty resource", total: 0, wantCalls: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newTestPager(PagerOptions{PageSize: 5})
			calls := 0
			inner := numberedPages(tc.total, 5)
			items, err := FetchAll(context.Background(), p, "numbers", func(ctx context.Context, page int) (Page[int], error) {
				calls++
				return inner(ctx, page)
			})
			require.NoError(t, err)
			assert.Len(t, items, tc.total)
			assert.Equal(t, tc.wantCalls, calls)
		})
	}
}

func TestFetchAll_LastPageFlag(t *testing.T) {
	p, _ := newTestPager(PagerOptions{PageSize: 2})
	calls := 0
	items, err := FetchAll(context.Background(), p, "flagged", func(_ context.Context, page int) (Page[string], error) {
		calls++
		return Page[string]{Items: []string{"a", "b"}, Last: page == 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, items, 4)
}

func TestFetchAll_NotFoundKeepsCollectedItems(t *testing.T) {
	p, _ := newTestPager(PagerOptions{PageSize: 2})
	items, err := FetchAll(context.Background(), p, "vanishing", func(_ context.Context, page int) (Page[int], error) {
		if page == 2 {
			return Page[int]{}, fmt.Errorf("gone: %w", ErrNotFound)
		}
		return Page[int]{Items: []int{1, 2}}, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []int{1, 2}, items)
}

func TestFetchAll_RetriesTransientErrors(t *testing.T) {
	p, _ := newTestPager(PagerOptions{PageSize: 10, MaxRetries: 3})
	attempts := 0
	items, err := FetchAll(context.Background(), p, "flaky", func(_ context.Context, _ int) (Page[int], error) {
		attempts++
		if attempts < 3 {
			return Page[int]{}, fmt.Errorf("502: %w", ErrTransient)
		}
		return Page[int]{Items: []int{7}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{7}, items)
	assert.Equal(t, 3, attempts)
}

func TestFetchAll_GivesUpAfterMaxRetries(t *testing.T) {
	p, _ := newTestPager(PagerOptions{PageSize: 10, MaxRetries: 2})
	attempts := 0
	_, err := FetchAll(context.Background(), p, "down", func(_ context.Context, _ int) (Page[int], error) {
		attempts++
		return Page[int]{}, fmt.Errorf("503: %w", ErrTransient)
	})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, attempts)
}

func TestFetchAll_OtherErrorsPropagateWithoutRetry(t *testing.T) {
	p, _ := newTestPager(PagerOptions{PageSize: 10, MaxRetries: 3})
	boom := errors.New("401 bad credentials")
	attempts := 0
	_, err := FetchAll(context.Background(), p, "private", func(_ context.Context, _ int) (Page[int], error) {
		attempts++
		return Page[int]{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "private")
	assert.Equal(t, 1, attempts)
}

func TestFetchAll_WaitsForQuotaReset(t *testing.T) {
	p, slept := newTestPager(PagerOptions{PageSize: 1, QuotaThreshold: 10, QuotaMargin: 5 * time.Second})
	reset := testNow.Add(2 * time.Minute)

	items, err := FetchAll(context.Background(), p, "budgeted", func(_ context.Context, page int) (Page[int], error) {
		if page == 1 {
			return Page[int]{Items: []int{1}, Quota: Quota{Remaining: 3, Limit: 5000, Reset: reset}}, nil
		}
		return Page[int]{Quota: Quota{Remaining: 4999, Limit: 5000, Reset: reset}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, items)
	assert.Equal(t, []time.Duration{2*time.Minute + 5*time.Second}, *slept)
	assert.Equal(t, 4999, p.Quota().Remaining)
}

func TestFetchAll_QuotaWaitBeyondLimitFails(t *testing.T) {
	p, slept := newTestPager(PagerOptions{PageSize: 1, QuotaThreshold: 10, MaxQuotaWait: time.Minute})
	p.Observe(Quota{Remaining: 0, Limit: 5000, Reset: testNow.Add(time.Hour)})

	calls := 0
	_, err := FetchAll(context.Background(), p, "starved", func(_ context.Context, _ int) (Page[int], error) {
		calls++
		return Page[int]{}, nil
	})
	assert.ErrorIs(t, err, ErrQuotaTimeout)
	assert.Zero(t, calls)
	assert.Empty(t, *slept)
}

func TestFetchAll_QuotaWaitInterruptedByDeadline(t *testing.T) {
	p := NewPager(PagerOptions{PageSize: 1, QuotaThreshold: 10, MaxQuotaWait: time.Hour}, nil)
	p.Observe(Quota{Remaining: 1, Limit: 5000, Reset: time.Now().Add(30 * time.Minute)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := FetchAll(ctx, p, "deadline", func(_ context.Context, _ int) (Page[int], error) {
		return Page[int]{}, nil
	})
	assert.ErrorIs(t, err, ErrQuotaTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchAll_RetriesAfterQuotaExceeded(t *testing.T) {
	exceeded := func() error {
		return &QuotaExceededError{
			Quota: Quota{Remaining: 0, Limit: 5000, Reset: testNow.Add(time.Minute)},
			Err:   errors.New("API rate limit exceeded"),
		}
	}
	testCases := []struct {
		name         string
		opts         PagerOptions
		rejections   int
		wantErr      error
		wantAttempts int
		wantSleeps   int
	}{
		{
			name:         "single rejection",
			opts:         PagerOptions{PageSize: 10, MaxRetries: 2},
			rejections:   1,
			wantAttempts: 2,
			wantSleeps:   1,
		},
		{
			name:         "no transient retries still waits for quota",
			opts:         PagerOptions{PageSize: 10, MaxRetries: 0},
			rejections:   1,
			wantAttempts: 2,
			wantSleeps:   1,
		},
		{
			name:         "more rejections than transient retries",
			opts:         PagerOptions{PageSize: 10, MaxRetries: 1, MaxQuotaWait: time.Hour},
			rejections:   5,
			wantAttempts: 6,
			wantSleeps:   5,
		},
		{
			name:         "total wait bounded by max quota wait",
			opts:         PagerOptions{PageSize: 10, MaxRetries: 0, MaxQuotaWait: 3 * time.Minute},
			rejections:   10,
			wantErr:      ErrQuotaTimeout,
			wantAttempts: 3,
			wantSleeps:   2,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, slept := newTestPager(tc.opts)
			attempts := 0
			items, err := FetchAll(context.Background(), p, "limited", func(_ context.Context, _ int) (Page[int], error) {
				attempts++
				if attempts <= tc.rejections {
					return Page[int]{}, exceeded()
				}
				return Page[int]{Items: []int{1}}, nil
			})
			assert.Equal(t, tc.wantAttempts, attempts)
			require.Len(t, *slept, tc.wantSleeps)
			for _, d := range *slept {
				assert.Equal(t, time.Minute+DefaultQuotaMargin, d)
			}
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{1}, items)
		})
	}
}

func TestFetchAll_QuotaExceededWithStaleReset(t *testing.T) {
	p, slept := newTestPager(PagerOptions{PageSize: 10, MaxRetries: 0})
	attempts := 0
	items, err := FetchAll(context.Background(), p, "stale", func(_ context.Context, _ int) (Page[int], error) {
		attempts++
		if attempts == 1 {
			return Page[int]{}, &QuotaExceededError{
				Quota: Quota{Remaining: 0, Limit: 5000, Reset: testNow.Add(-time.Hour)},
				Err:   errors.New("API rate limit exceeded"),
			}
		}
		return Page[int]{Items: []int{1}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, items)
	assert.Equal(t, []time.Duration{DefaultQuotaMargin}, *slept)
}
