package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSnapshot() *WeekSnapshot {
	return &WeekSnapshot{
		Week:              "2025-52",
		WeekStart:         "2025-12-22",
		WeekEnd:           "2025-12-28",
		Repositories:      []string{"org/repo"},
		RepositoryMetrics: map[string]RepositoryMetrics{"org/repo": {Commits: 3}},
		Users: map[string]*UserWeekRecord{
			"alice": {
				Daily: map[string]DailyMetrics{
					"2025-12-22": {Commits: 2, LinesAdded: 10},
					"2025-12-23": {Commits: 1, ReviewsGiven: 1},
				},
				Weekly: DailyMetrics{Commits: 3, LinesAdded: 10, ReviewsGiven: 1},
			},
		},
	}
}

func TestWeekSnapshot_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(s *WeekSnapshot)
		wantErr bool
	}{
		{name: "valid snapshot", mutate: func(*WeekSnapshot) {}},
		{
			name:    "weekly does not match daily",
			mutate:  func(s *WeekSnapshot) { s.Users["alice"].Weekly.Commits = 4 },
			wantErr: true,
		},
		{
			name:    "malformed week key",
			mutate:  func(s *WeekSnapshot) { s.Week = "2025-60" },
			wantErr: true,
		},
		{
			name:    "week range mismatch",
			mutate:  func(s *WeekSnapshot) { s.WeekStart = "2025-12-21" },
			wantErr: true,
		},
		{
			name: "date outside week",
			mutate: func(s *WeekSnapshot) {
				s.Users["alice"].Daily["2025-12-29"] = DailyMetrics{}
			},
			wantErr: true,
		},
		{
			name: "negative counter",
			mutate: func(s *WeekSnapshot) {
				s.Users["alice"].Daily["2025-12-24"] = DailyMetrics{Commits: -1}
				s.Users["alice"].Weekly.Commits = 2
			},
			wantErr: true,
		},
		{
			name:    "fetch marker outside week",
			mutate:  func(s *WeekSnapshot) { s.FetchedDates = []string{"2025-12-29"} },
			wantErr: true,
		},
		{
			name: "repository fetch marker outside week",
			mutate: func(s *WeekSnapshot) {
				s.FetchedRepositoryDates = map[string][]string{"org/repo": {"2025-12-22", "2025-12-21"}}
			},
			wantErr: true,
		},
		{
			name: "reviewed pull requests outside week",
			mutate: func(s *WeekSnapshot) {
				s.Users["alice"].ReviewedPRsByDate = map[string][]string{"2026-01-01": {"org/repo#1"}}
			},
			wantErr: true,
		},
		{
			name:    "nil user record",
			mutate:  func(s *WeekSnapshot) { s.Users["bob"] = nil },
			wantErr: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := validSnapshot()
			tc.mutate(s)
			err := s.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvariant)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWeekSnapshot_CloneIsDeep(t *testing.T) {
	orig := validSnapshot()
	orig.RepositoryDaily = map[string]map[string]DailyMetrics{"org/repo": {"2025-12-22": {Commits: 3}}}
	orig.Users["alice"].ReviewedPRs = []string{"org/repo#1"}
	orig.Users["alice"].ReviewedPRsByDate = map[string][]string{"2025-12-23": {"org/repo#1"}}
	orig.FetchedDates = []string{"2025-12-22"}
	orig.FetchedRepositoryDates = map[string][]string{"org/repo": {"2025-12-22"}}

	c := orig.Clone()
	require.Equal(t, orig, c)

	c.Users["alice"].Daily["2025-12-22"] = DailyMetrics{Commits: 99}
	c.Users["alice"].ReviewedPRs[0] = "changed"
	c.Repositories[0] = "changed"
	c.RepositoryDaily["org/repo"]["2025-12-22"] = DailyMetrics{}
	c.RepositoryMetrics["org/repo"] = DailyMetrics{}
	c.FetchedDates[0] = "changed"
	c.FetchedRepositoryDates["org/repo"][0] = "changed"
	c.Users["alice"].ReviewedPRsByDate["2025-12-23"][0] = "changed"
	c.Users["bob"] = NewUserWeekRecord()

	assert.Equal(t, validSnapshot().Users["alice"].Daily, orig.Users["alice"].Daily)
	assert.Equal(t, []string{"org/repo#1"}, orig.Users["alice"].ReviewedPRs)
	assert.Equal(t, []string{"org/repo"}, orig.Repositories)
	assert.Equal(t, 3, orig.RepositoryDaily["org/repo"]["2025-12-22"].Commits)
	assert.Equal(t, 3, orig.RepositoryMetrics["org/repo"].Commits)
	assert.Equal(t, []string{"2025-12-22"}, orig.FetchedDates)
	assert.Equal(t, []string{"2025-12-22"}, orig.FetchedRepositoryDates["org/repo"])
	assert.Equal(t, []string{"org/repo#1"}, orig.Users["alice"].ReviewedPRsByDate["2025-12-23"])
	assert.NotContains(t, orig.Users, "bob")
}

func TestWeekSnapshot_FetchMarkers(t *testing.T) {
	s := validSnapshot()
	assert.False(t, s.HasFetchMarkers())
	assert.False(t, s.IsFetchedFor("org/repo", "2025-12-22"))

	s.FetchedDates = []string{"2025-12-22"}
	assert.True(t, s.HasFetchMarkers())
	assert.True(t, s.IsFetchedFor("org/repo", "2025-12-22"))
	assert.True(t, s.IsFetchedFor("org/other", "2025-12-22"))

	s.FetchedRepositoryDates = map[string][]string{"org/repo": {"2025-12-22", "2025-12-23"}}
	assert.True(t, s.IsFetchedFor("org/repo", "2025-12-23"))
	assert.False(t, s.IsFetchedFor("org/other", "2025-12-22"))
}

func TestDailyMetrics_HasActivity(t *testing.T) {
	assert.False(t, DailyMetrics{}.HasActivity())
	assert.False(t, DailyMetrics{ReviewsGiven: 3, DiscussionCommentsGiven: 1}.HasActivity())
	assert.True(t, DailyMetrics{LinesDeleted: 1}.HasActivity())
	assert.True(t, DailyMetrics{PRs: 1}.HasActivity())
}

func TestWeekSnapshot_TeamTotals(t *testing.T) {
	s := validSnapshot()
	s.Users["bob"] = &UserWeekRecord{
		Daily:  map[string]DailyMetrics{"2025-12-24": {Commits: 4, PRs: 1}},
		Weekly: DailyMetrics{Commits: 4, PRs: 1},
	}
	assert.Equal(t, DailyMetrics{Commits: 7, PRs: 1, LinesAdded: 10, ReviewsGiven: 1}, s.TeamTotals())
	assert.Equal(t, []string{"alice", "bob"}, s.Usernames())
}
