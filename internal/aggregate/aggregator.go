// Package aggregate folds activity events into weekly snapshots and merges
// freshly aggregated snapshots into previously persisted ones.
package aggregate

import (
	"slices"

	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
)

// CreateEmpty returns a snapshot for the week with zeroed counters and no users.
func CreateEmpty(week calendar.Week, repositories []string) *domain.WeekSnapshot {
	start, end := calendar.DateRange(week)
	s := &domain.WeekSnapshot{
		Week:              week.String(),
		WeekStart:         calendar.FormatDate(start),
		WeekEnd:           calendar.FormatDate(end),
		Repositories:      make([]string, 0, len(repositories)),
		RepositoryMetrics: make(map[string]domain.RepositoryMetrics, len(repositories)),
		RepositoryDaily:   make(map[string]map[string]domain.DailyMetrics, len(repositories)),
		Users:             make(map[string]*domain.UserWeekRecord),
	}
	for _, repo := range repositories {
		if !slices.Contains(s.Repositories, repo) {
			s.Repositories = append(s.Repositories, repo)
		}
		s.RepositoryMetrics[repo] = domain.RepositoryMetrics{}
	}
	return s
}

// RecordCommit counts one commit and its line changes for the user on date.
// Merge commits must be filtered out by the caller.
func RecordCommit(s *domain.WeekSnapshot, username, date string, linesAdded, linesDeleted int, repository string) {
	apply(s, username, date, repository, func(m *domain.DailyMetrics) {
		m.Commits++
		m.LinesAdded += linesAdded
		m.LinesDeleted += linesDeleted
	})
}

// RecordPR counts one opened pull request.
func RecordPR(s *domain.WeekSnapshot, username, date, repository string) {
	apply(s, username, date, repository, func(m *domain.DailyMetrics) {
		m.PRs++
	})
}

// RecordReview counts submitted reviews. A count below 1 records a single review.
func RecordReview(s *domain.WeekSnapshot, username, date string, count int, repository string) {
	n := normalizeCount(count)
	apply(s, username, date, repository, func(m *domain.DailyMetrics) {
		m.ReviewsGiven += n
	})
}

// RecordReviewComment counts inline review comments. A count below 1 records one.
func RecordReviewComment(s *domain.WeekSnapshot, username, date string, count int, repository string) {
	n := normalizeCount(count)
	apply(s, username, date, repository, func(m *domain.DailyMetrics) {
		m.ReviewCommentsGiven += n
	})
}

// RecordDiscussionComment counts conversation comments. A count below 1 records one.
func RecordDiscussionComment(s *domain.WeekSnapshot, username, date string, count int, repository string) {
	n := normalizeCount(count)
	apply(s, username, date, repository, func(m *domain.DailyMetrics) {
		m.DiscussionCommentsGiven += n
	})
}

// RecordReviewedPR adds a pull request key reviewed on date to the user's set
// of reviewed PRs.
func RecordReviewedPR(s *domain.WeekSnapshot, username, date, prKey string) {
	rec := ensureUser(s, username)
	rec.ReviewedPRs = insertSorted(rec.ReviewedPRs, prKey)
	if rec.ReviewedPRsByDate == nil {
		rec.ReviewedPRsByDate = make(map[string][]string)
	}
	rec.ReviewedPRsByDate[date] = insertSorted(rec.ReviewedPRsByDate[date], prKey)
}

func insertSorted(set []string, v string) []string {
	if i, found := slices.BinarySearch(set, v); !found {
		return slices.Insert(set, i, v)
	}
	return set
}

// RecomputeWeeklyTotals resets every weekly roll-up and sums the daily entries
// again. Repository aggregates with a daily breakdown are recomputed the same
// way; those without one are left as stored. Running it twice is a no-op.
func RecomputeWeeklyTotals(s *domain.WeekSnapshot) {
	for _, rec := range s.Users {
		rec.Weekly = rec.SumDaily()
	}
	if s.RepositoryMetrics == nil {
		s.RepositoryMetrics = make(map[string]domain.RepositoryMetrics)
	}
	for repo, days := range s.RepositoryDaily {
		var total domain.RepositoryMetrics
		for _, m := range days {
			total = total.Add(m)
		}
		s.RepositoryMetrics[repo] = total
	}
}

func apply(s *domain.WeekSnapshot, username, date, repository string, inc func(m *domain.DailyMetrics)) {
	rec := ensureUser(s, username)
	m := rec.Daily[date]
	inc(&m)
	rec.Daily[date] = m

	if repository == "" {
		return
	}
	if !slices.Contains(s.Repositories, repository) {
		s.Repositories = append(s.Repositories, repository)
	}
	if s.RepositoryDaily == nil {
		s.RepositoryDaily = make(map[string]map[string]domain.DailyMetrics)
	}
	days, ok := s.RepositoryDaily[repository]
	if !ok {
		days = make(map[string]domain.DailyMetrics)
		s.RepositoryDaily[repository] = days
	}
	rm := days[date]
	inc(&rm)
	days[date] = rm

	if s.RepositoryMetrics == nil {
		s.RepositoryMetrics = make(map[string]domain.RepositoryMetrics)
	}
	agg := s.RepositoryMetrics[repository]
	inc(&agg)
	s.RepositoryMetrics[repository] = agg
}

func ensureUser(s *domain.WeekSnapshot, username string) *domain.UserWeekRecord {
	if s.Users == nil {
		s.Users = make(map[string]*domain.UserWeekRecord)
	}
	rec, ok := s.Users[username]
	if !ok || rec == nil {
		rec = domain.NewUserWeekRecord()
		s.Users[username] = rec
	}
	if rec.Daily == nil {
		rec.Daily = make(map[string]domain.DailyMetrics)
	}
	return rec
}

func normalizeCount(count int) int {
	if count < 1 {
		return 1
	}
	return count
}
