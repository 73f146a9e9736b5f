package compare

import (
	"slices"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/naka-gawa/github-weekly/internal/domain"
)

// Series is one chronologically ordered sequence of weekly roll-ups.
type Series struct {
	Weeks   []domain.DailyMetrics `json:"weeks"`
	Summary Summary               `json:"summary"`
}

// Summary describes the distribution of weekly commits across a series.
type Summary struct {
	MeanCommits   float64 `json:"meanCommits"`
	MedianCommits float64 `json:"medianCommits"`
	StdDevCommits float64 `json:"stdDevCommits"`
	ActiveWeeks   int     `json:"activeWeeks"`
}

// Trend holds the per-user, per-repository and team series over several weeks.
// Every series has one entry per week in Weeks, zero-filled where absent.
type Trend struct {
	Weeks        []string          `json:"weeks"`
	Team         Series            `json:"team"`
	Users        map[string]Series `json:"users"`
	Repositories map[string]Series `json:"repositories"`
}

// CompareMultipleWeeks builds trend series from snapshots. Snapshots are put in
// chronological order by week key; nil entries are skipped.
func CompareMultipleWeeks(snapshots []*domain.WeekSnapshot) Trend {
	ordered := make([]*domain.WeekSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s != nil {
			ordered = append(ordered, s)
		}
	}
	slices.SortStableFunc(ordered, func(a, b *domain.WeekSnapshot) int {
		return strings.Compare(a.Week, b.Week)
	})

	trend := Trend{
		Weeks:        make([]string, len(ordered)),
		Users:        make(map[string]Series),
		Repositories: make(map[string]Series),
	}

	users := make(map[string]struct{})
	repos := make(map[string]struct{})
	for _, s := range ordered {
		for name := range s.Users {
			users[name] = struct{}{}
		}
		for repo := range s.RepositoryMetrics {
			repos[repo] = struct{}{}
		}
	}

	team := make([]domain.DailyMetrics, len(ordered))
	for i, s := range ordered {
		trend.Weeks[i] = s.Week
		team[i] = s.TeamTotals()
	}
	trend.Team = newSeries(team)

	for name := range users {
		weeks := make([]domain.DailyMetrics, len(ordered))
		for i, s := range ordered {
			weeks[i] = weekly(s.Users[name])
		}
		trend.Users[name] = newSeries(weeks)
	}
	for repo := range repos {
		weeks := make([]domain.DailyMetrics, len(ordered))
		for i, s := range ordered {
			weeks[i] = s.RepositoryMetrics[repo]
		}
		trend.Repositories[repo] = newSeries(weeks)
	}
	return trend
}

func newSeries(weeks []domain.DailyMetrics) Series {
	return Series{Weeks: weeks, Summary: summarize(weeks)}
}

func summarize(weeks []domain.DailyMetrics) Summary {
	var sum Summary
	if len(weeks) == 0 {
		return sum
	}
	commits := make(stats.Float64Data, len(weeks))
	for i, w := range weeks {
		commits[i] = float64(w.Commits)
		if !w.IsZero() {
			sum.ActiveWeeks++
		}
	}
	// Errors only occur for empty input, which is excluded above.
	mean, _ := commits.Mean()
	median, _ := commits.Median()
	stddev, _ := commits.StandardDeviation()
	sum.MeanCommits = round2(mean)
	sum.MedianCommits = round2(median)
	sum.StdDevCommits = round2(stddev)
	return sum
}

func round2(v float64) float64 {
	r, err := stats.Round(v, 2)
	if err != nil {
		return v
	}
	return r
}
