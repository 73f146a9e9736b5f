// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/naka-gawa/github-weekly/internal/calendar"
)

// ErrInvariant marks a snapshot that breaks one of its structural invariants.
// It signals a programming error, never a condition to be repaired silently.
var ErrInvariant = errors.New("snapshot invariant violated")

// DailyMetrics holds the activity counters for one contributor on one day.
// Counters only ever grow.
type DailyMetrics struct {
	Commits                 int `json:"commits"`
	PRs                     int `json:"prs"`
	LinesAdded              int `json:"linesAdded"`
	LinesDeleted            int `json:"linesDeleted"`
	ReviewsGiven            int `json:"reviewsGiven"`
	ReviewCommentsGiven     int `json:"reviewCommentsGiven"`
	DiscussionCommentsGiven int `json:"discussionCommentsGiven"`
}

// RepositoryMetrics is the aggregate activity of one repository within a week.
type RepositoryMetrics = DailyMetrics

// Add returns the field-wise sum of m and o.
func (m DailyMetrics) Add(o DailyMetrics) DailyMetrics {
	return DailyMetrics{
		Commits:                 m.Commits + o.Commits,
		PRs:                     m.PRs + o.PRs,
		LinesAdded:              m.LinesAdded + o.LinesAdded,
		LinesDeleted:            m.LinesDeleted + o.LinesDeleted,
		ReviewsGiven:            m.ReviewsGiven + o.ReviewsGiven,
		ReviewCommentsGiven:     m.ReviewCommentsGiven + o.ReviewCommentsGiven,
		DiscussionCommentsGiven: m.DiscussionCommentsGiven + o.DiscussionCommentsGiven,
	}
}

// IsZero reports whether every counter is zero.
func (m DailyMetrics) IsZero() bool {
	return m == DailyMetrics{}
}

// HasActivity reports whether the record carries evidence of fetched code activity:
// commits, pull requests or line changes.
func (m DailyMetrics) HasActivity() bool {
	return m.Commits > 0 || m.PRs > 0 || m.LinesAdded > 0 || m.LinesDeleted > 0
}

func (m DailyMetrics) negative() bool {
	return m.Commits < 0 || m.PRs < 0 || m.LinesAdded < 0 || m.LinesDeleted < 0 ||
		m.ReviewsGiven < 0 || m.ReviewCommentsGiven < 0 || m.DiscussionCommentsGiven < 0
}

// UserWeekRecord is one contributor's activity for a week.
type UserWeekRecord struct {
	Daily  map[string]DailyMetrics `json:"daily"`
	Weekly DailyMetrics            `json:"weekly"`
	// ReviewedPRs is the sorted set of "owner/name#number" keys the user reviewed.
	ReviewedPRs []string `json:"reviewedPRs,omitempty"`
	// ReviewedPRsByDate holds the same keys by the date of the review, so they
	// follow the append-only day rule when merged.
	ReviewedPRsByDate map[string][]string `json:"reviewedPRsByDate,omitempty"`
}

// NewUserWeekRecord returns an empty record.
func NewUserWeekRecord() *UserWeekRecord {
	return &UserWeekRecord{Daily: make(map[string]DailyMetrics)}
}

// SumDaily returns the field-wise sum of every daily entry.
func (r *UserWeekRecord) SumDaily() DailyMetrics {
	var total DailyMetrics
	for _, d := range r.Daily {
		total = total.Add(d)
	}
	return total
}

// Clone returns a deep copy of r.
func (r *UserWeekRecord) Clone() *UserWeekRecord {
	c := &UserWeekRecord{
		Daily:  make(map[string]DailyMetrics, len(r.Daily)),
		Weekly: r.Weekly,
	}
	maps.Copy(c.Daily, r.Daily)
	if len(r.ReviewedPRs) > 0 {
		c.ReviewedPRs = slices.Clone(r.ReviewedPRs)
	}
	c.ReviewedPRsByDate = cloneDateSets(r.ReviewedPRsByDate)
	return c
}

func cloneDateSets(m map[string][]string) map[string][]string {
	if m == nil {
		return nil
	}
	c := make(map[string][]string, len(m))
	for k, v := range m {
		c[k] = slices.Clone(v)
	}
	return c
}

// WeekSnapshot is the persisted aggregate of one ISO week.
type WeekSnapshot struct {
	Week              string                       `json:"week"`
	WeekStart         string                       `json:"weekStart"`
	WeekEnd           string                       `json:"weekEnd"`
	GeneratedAt       time.Time                    `json:"generatedAt"`
	Repositories      []string                     `json:"repositories"`
	RepositoryMetrics map[string]RepositoryMetrics `json:"repositoryMetrics"`
	// RepositoryDaily breaks repository activity down by day so it can be merged
	// with the same append-only rule as user activity.
	RepositoryDaily map[string]map[string]DailyMetrics `json:"repositoryDaily,omitempty"`
	Users           map[string]*UserWeekRecord         `json:"users"`
	// FetchedDates lists the dates whose ingestion completed for every repository.
	FetchedDates []string `json:"fetchedDates,omitempty"`
	// FetchedRepositoryDates lists, per repository, the dates whose ingestion completed.
	FetchedRepositoryDates map[string][]string `json:"fetchedRepositoryDates,omitempty"`
}

// Coordinate parses the snapshot's week key.
func (s *WeekSnapshot) Coordinate() (calendar.Week, error) {
	return calendar.ParseWeek(s.Week)
}

// Usernames returns the snapshot's users in sorted order.
func (s *WeekSnapshot) Usernames() []string {
	return slices.Sorted(maps.Keys(s.Users))
}

// TeamTotals returns the sum of every user's weekly roll-up.
func (s *WeekSnapshot) TeamTotals() DailyMetrics {
	var total DailyMetrics
	for _, u := range s.Users {
		total = total.Add(u.Weekly)
	}
	return total
}

// IsFetched reports whether date carries the fetch-completion marker.
func (s *WeekSnapshot) IsFetched(date string) bool {
	return slices.Contains(s.FetchedDates, date)
}

// HasFetchMarkers reports whether the snapshot records fetch completion at all.
// Snapshots without markers can only be judged by their activity.
func (s *WeekSnapshot) HasFetchMarkers() bool {
	return len(s.FetchedDates) > 0 || len(s.FetchedRepositoryDates) > 0
}

// IsFetchedFor reports whether date was fully ingested for repository. Without
// per-repository markers the week-wide marker applies to every repository.
func (s *WeekSnapshot) IsFetchedFor(repository, date string) bool {
	if len(s.FetchedRepositoryDates) == 0 {
		return s.IsFetched(date)
	}
	return slices.Contains(s.FetchedRepositoryDates[repository], date)
}

// Clone returns a deep copy of s. No map or slice is shared with the original.
func (s *WeekSnapshot) Clone() *WeekSnapshot {
	c := &WeekSnapshot{
		Week:                   s.Week,
		WeekStart:              s.WeekStart,
		WeekEnd:                s.WeekEnd,
		GeneratedAt:            s.GeneratedAt,
		Repositories:           slices.Clone(s.Repositories),
		RepositoryMetrics:      make(map[string]RepositoryMetrics, len(s.RepositoryMetrics)),
		Users:                  make(map[string]*UserWeekRecord, len(s.Users)),
		FetchedDates:           slices.Clone(s.FetchedDates),
		FetchedRepositoryDates: cloneDateSets(s.FetchedRepositoryDates),
	}
	if c.Repositories == nil {
		c.Repositories = []string{}
	}
	maps.Copy(c.RepositoryMetrics, s.RepositoryMetrics)
	if s.RepositoryDaily != nil {
		c.RepositoryDaily = make(map[string]map[string]DailyMetrics, len(s.RepositoryDaily))
		for repo, days := range s.RepositoryDaily {
			c.RepositoryDaily[repo] = maps.Clone(days)
		}
	}
	for name, rec := range s.Users {
		c.Users[name] = rec.Clone()
	}
	return c
}

// Validate checks the structural invariants of the snapshot: a well-formed week
// key matching its date range, daily entries inside the week, non-negative
// counters, and weekly roll-ups equal to the sum of their daily entries.
func (s *WeekSnapshot) Validate() error {
	w, err := s.Coordinate()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	dates := calendar.AllDates(w)
	if s.WeekStart != dates[0] || s.WeekEnd != dates[6] {
		return fmt.Errorf("%w: week %s spans %s..%s, snapshot says %s..%s",
			ErrInvariant, s.Week, dates[0], dates[6], s.WeekStart, s.WeekEnd)
	}
	for _, name := range s.Usernames() {
		rec := s.Users[name]
		if rec == nil {
			return fmt.Errorf("%w: user %q has no record", ErrInvariant, name)
		}
		for date, m := range rec.Daily {
			if !slices.Contains(dates, date) {
				return fmt.Errorf("%w: user %q has entry for %s outside week %s", ErrInvariant, name, date, s.Week)
			}
			if m.negative() {
				return fmt.Errorf("%w: user %q has negative counters on %s", ErrInvariant, name, date)
			}
		}
		for date := range rec.ReviewedPRsByDate {
			if !slices.Contains(dates, date) {
				return fmt.Errorf("%w: user %q has reviewed pull requests on %s outside week %s", ErrInvariant, name, date, s.Week)
			}
		}
		if sum := rec.SumDaily(); sum != rec.Weekly {
			return fmt.Errorf("%w: user %q weekly %+v does not match daily sum %+v", ErrInvariant, name, rec.Weekly, sum)
		}
	}
	for repo, m := range s.RepositoryMetrics {
		if m.negative() {
			return fmt.Errorf("%w: repository %q has negative counters", ErrInvariant, repo)
		}
	}
	for _, date := range s.FetchedDates {
		if !slices.Contains(dates, date) {
			return fmt.Errorf("%w: fetch marker %s outside week %s", ErrInvariant, date, s.Week)
		}
	}
	for repo, fetched := range s.FetchedRepositoryDates {
		for _, date := range fetched {
			if !slices.Contains(dates, date) {
				return fmt.Errorf("%w: repository %q has fetch marker %s outside week %s", ErrInvariant, repo, date, s.Week)
			}
		}
	}
	return nil
}
