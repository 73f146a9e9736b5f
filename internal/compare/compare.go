// Package compare computes week-over-week changes and multi-week trend series
// from persisted weekly snapshots.
package compare

import (
	"math"

	"github.com/naka-gawa/github-weekly/internal/domain"
)

// Status classifies a comparison. Exactly one status applies to any pair of counters.
type Status string

const (
	// NoDataStatus means both weeks are zero.
	NoDataStatus Status = "no_data"
	// NewStatus means activity appeared from a zero baseline.
	NewStatus Status = "new"
	// InactiveStatus means activity dropped to zero.
	InactiveStatus Status = "inactive"
	// NormalStatus means both weeks are non-zero.
	NormalStatus Status = "normal"
)

// ComparisonResult describes how one counter changed between two weeks.
type ComparisonResult struct {
	Current  int `json:"current"`
	Previous int `json:"previous"`
	// Change is the percentage change rounded to one decimal. It is nil when
	// the increase is unbounded (IsNew).
	Change     *float64 `json:"change"`
	Delta      int      `json:"delta"`
	IsNew      bool     `json:"isNew"`
	IsInactive bool     `json:"isInactive"`
	IsNoData   bool     `json:"isNoData"`
}

// Status returns the classification of r.
func (r ComparisonResult) Status() Status {
	switch {
	case r.IsNoData:
		return NoDataStatus
	case r.IsNew:
		return NewStatus
	case r.IsInactive:
		return InactiveStatus
	default:
		return NormalStatus
	}
}

// PercentageChange compares a current counter with its previous value.
func PercentageChange(current, previous int) ComparisonResult {
	r := ComparisonResult{Current: current, Previous: previous, Delta: current - previous}
	switch {
	case current == 0 && previous == 0:
		r.IsNoData = true
		r.Change = ptr(0)
	case previous == 0:
		r.IsNew = true
	case current == 0:
		r.IsInactive = true
		r.Change = ptr(-100)
	default:
		r.Change = ptr(round1(float64(current-previous) / float64(previous) * 100))
	}
	return r
}

// MetricComparison holds the compared counters reported week over week.
type MetricComparison struct {
	Commits      ComparisonResult `json:"commits"`
	PRs          ComparisonResult `json:"prs"`
	LinesAdded   ComparisonResult `json:"linesAdded"`
	LinesDeleted ComparisonResult `json:"linesDeleted"`
}

func compareMetrics(current, previous domain.DailyMetrics) MetricComparison {
	return MetricComparison{
		Commits:      PercentageChange(current.Commits, previous.Commits),
		PRs:          PercentageChange(current.PRs, previous.PRs),
		LinesAdded:   PercentageChange(current.LinesAdded, previous.LinesAdded),
		LinesDeleted: PercentageChange(current.LinesDeleted, previous.LinesDeleted),
	}
}

// WeekComparison is the team-level and per-user comparison of two weeks.
type WeekComparison struct {
	Week         string                      `json:"week"`
	PreviousWeek string                      `json:"previousWeek,omitempty"`
	Team         MetricComparison            `json:"team"`
	Users        map[string]MetricComparison `json:"users"`
}

// CompareWeeks compares current with previous. A nil previous is treated as an
// all-zero baseline. Users are the union of both weeks, so someone only active
// in the previous week is reported as inactive.
func CompareWeeks(current, previous *domain.WeekSnapshot) WeekComparison {
	cmp := WeekComparison{
		Week:  current.Week,
		Users: make(map[string]MetricComparison),
	}
	var prevUsers map[string]*domain.UserWeekRecord
	var prevTeam domain.DailyMetrics
	if previous != nil {
		cmp.PreviousWeek = previous.Week
		prevUsers = previous.Users
		prevTeam = previous.TeamTotals()
	}
	cmp.Team = compareMetrics(current.TeamTotals(), prevTeam)

	names := make(map[string]struct{}, len(current.Users)+len(prevUsers))
	for name := range current.Users {
		names[name] = struct{}{}
	}
	for name := range prevUsers {
		names[name] = struct{}{}
	}
	for name := range names {
		cmp.Users[name] = compareMetrics(weekly(current.Users[name]), weekly(prevUsers[name]))
	}
	return cmp
}

func weekly(rec *domain.UserWeekRecord) domain.DailyMetrics {
	if rec == nil {
		return domain.DailyMetrics{}
	}
	return rec.Weekly
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func ptr(v float64) *float64 {
	return &v
}
