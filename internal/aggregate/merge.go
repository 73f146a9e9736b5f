package aggregate

import (
	"slices"
	"time"

	"github.com/naka-gawa/github-weekly/internal/domain"
)

// Merge combines a freshly aggregated snapshot into a persisted one for the same week.
//
// The result starts as a deep copy of existing. Days are append-only: a date
// already recorded for a user (or repository) is never replaced, whatever fresh
// says about it; only dates absent from existing are copied over, together with
// the pull requests reviewed on them. The one exception is a date whose fresh
// activity comes only from repositories existing has not covered on that date:
// both sides then count different repositories and a user's day is summed.
// Repository lists and fetch markers are unioned. Neither input is modified and
// the result shares no maps with them.
func Merge(existing, fresh *domain.WeekSnapshot, now time.Time) *domain.WeekSnapshot {
	if existing == nil {
		result := fresh.Clone()
		result.GeneratedAt = now.UTC()
		RecomputeWeeklyTotals(result)
		return result
	}
	result := existing.Clone()
	if fresh == nil {
		RecomputeWeeklyTotals(result)
		return result
	}

	disjoint := disjointDates(existing, fresh)
	for name, freshRec := range fresh.Users {
		if freshRec == nil {
			continue
		}
		rec := ensureUser(result, name)
		for date, m := range freshRec.Daily {
			if recorded, ok := rec.Daily[date]; ok {
				if !disjoint[date] {
					continue
				}
				m = recorded.Add(m)
			}
			rec.Daily[date] = m
			if keys := freshRec.ReviewedPRsByDate[date]; len(keys) > 0 {
				if rec.ReviewedPRsByDate == nil {
					rec.ReviewedPRsByDate = make(map[string][]string)
				}
				rec.ReviewedPRsByDate[date] = union(rec.ReviewedPRsByDate[date], keys)
				rec.ReviewedPRs = union(rec.ReviewedPRs, keys)
			}
		}
	}

	mergeRepositories(result, existing, fresh)
	result.Repositories = unionUnsorted(result.Repositories, fresh.Repositories)
	result.FetchedDates = union(result.FetchedDates, fresh.FetchedDates)
	for repo, dates := range fresh.FetchedRepositoryDates {
		MarkRepositoryFetched(result, repo, dates)
	}
	result.GeneratedAt = now.UTC()

	RecomputeWeeklyTotals(result)
	return result
}

// disjointDates returns the dates fresh marks as fetched only for repositories
// that existing, which must record per-repository markers, has not covered.
func disjointDates(existing, fresh *domain.WeekSnapshot) map[string]bool {
	if len(existing.FetchedRepositoryDates) == 0 {
		return nil
	}
	disjoint := make(map[string]bool)
	overlap := make(map[string]bool)
	for repo, dates := range fresh.FetchedRepositoryDates {
		for _, date := range dates {
			if existing.IsFetchedFor(repo, date) {
				overlap[date] = true
			} else {
				disjoint[date] = true
			}
		}
	}
	for date := range overlap {
		delete(disjoint, date)
	}
	return disjoint
}

// mergeRepositories applies the append-only day rule to repository activity.
// Repositories persisted with only an aggregate (no daily breakdown) get the
// fresh activity added to that aggregate instead.
func mergeRepositories(result, existing, fresh *domain.WeekSnapshot) {
	if result.RepositoryMetrics == nil {
		result.RepositoryMetrics = make(map[string]domain.RepositoryMetrics)
	}
	for repo, freshDays := range fresh.RepositoryDaily {
		_, hasDaily := existing.RepositoryDaily[repo]
		if !hasDaily && !existing.RepositoryMetrics[repo].IsZero() {
			agg := result.RepositoryMetrics[repo]
			for _, m := range freshDays {
				agg = agg.Add(m)
			}
			result.RepositoryMetrics[repo] = agg
			continue
		}
		if result.RepositoryDaily == nil {
			result.RepositoryDaily = make(map[string]map[string]domain.DailyMetrics)
		}
		days, ok := result.RepositoryDaily[repo]
		if !ok {
			days = make(map[string]domain.DailyMetrics, len(freshDays))
			result.RepositoryDaily[repo] = days
		}
		for date, m := range freshDays {
			if _, recorded := days[date]; !recorded {
				days[date] = m
			}
		}
	}
	for repo := range fresh.RepositoryMetrics {
		if _, ok := result.RepositoryMetrics[repo]; !ok {
			result.RepositoryMetrics[repo] = domain.RepositoryMetrics{}
		}
	}
}

// MissingDates returns the dates for which no user has any commit, pull request
// or line-change activity. It infers coverage from activity, so a date where
// nobody did anything is indistinguishable from one that was never fetched.
func MissingDates(s *domain.WeekSnapshot, dates []string) []string {
	missing := make([]string, 0, len(dates))
	for _, date := range dates {
		if !hasEvidence(s, date) {
			missing = append(missing, date)
		}
	}
	return missing
}

// UncoveredDates returns the dates of repository that still need ingestion.
// Only complete days are eligible: today and later dates are never returned.
// A snapshot that records fetch markers is judged by them alone; one without
// markers counts every date with activity evidence as covered.
// Dates are compared as "YYYY-MM-DD" strings.
func UncoveredDates(s *domain.WeekSnapshot, repository string, dates []string, today string) []string {
	uncovered := make([]string, 0, len(dates))
	for _, date := range dates {
		if date >= today {
			continue
		}
		if s != nil {
			if s.HasFetchMarkers() {
				if s.IsFetchedFor(repository, date) {
					continue
				}
			} else if hasEvidence(s, date) {
				continue
			}
		}
		uncovered = append(uncovered, date)
	}
	return uncovered
}

// MarkFetched records the fetch-completion marker for dates.
func MarkFetched(s *domain.WeekSnapshot, dates []string) {
	s.FetchedDates = union(s.FetchedDates, dates)
}

// MarkRepositoryFetched records that dates were fully ingested for repository.
func MarkRepositoryFetched(s *domain.WeekSnapshot, repository string, dates []string) {
	if len(dates) == 0 {
		return
	}
	if s.FetchedRepositoryDates == nil {
		s.FetchedRepositoryDates = make(map[string][]string)
	}
	s.FetchedRepositoryDates[repository] = union(s.FetchedRepositoryDates[repository], dates)
}

// CompletedDates returns the dates fully ingested for every one of repositories.
func CompletedDates(s *domain.WeekSnapshot, repositories, dates []string) []string {
	var done []string
	for _, date := range dates {
		complete := len(repositories) > 0
		for _, repo := range repositories {
			if !s.IsFetchedFor(repo, date) {
				complete = false
				break
			}
		}
		if complete {
			done = append(done, date)
		}
	}
	return done
}

func hasEvidence(s *domain.WeekSnapshot, date string) bool {
	if s == nil {
		return false
	}
	for _, rec := range s.Users {
		if rec == nil {
			continue
		}
		if m, ok := rec.Daily[date]; ok && m.HasActivity() {
			return true
		}
	}
	return false
}

// union returns the sorted, de-duplicated union of a and b.
func union(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

// unionUnsorted appends the elements of b missing from a, keeping a's order.
func unionUnsorted(a, b []string) []string {
	out := slices.Clone(a)
	if out == nil {
		out = []string{}
	}
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
