package compare

import (
	"encoding/json"
	"testing"

	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentageChange(t *testing.T) {
	testCases := []struct {
		name       string
		current    int
		previous   int
		wantStatus Status
		wantChange *float64
		wantDelta  int
	}{
		{name: "zero to zero", current: 0, previous: 0, wantStatus: NoDataStatus, wantChange: ptr(0), wantDelta: 0},
		{name: "new activity", current: 5, previous: 0, wantStatus: NewStatus, wantChange: nil, wantDelta: 5},
		{name: "ceased activity", current: 0, previous: 5, wantStatus: InactiveStatus, wantChange: ptr(-100), wantDelta: -5},
		{name: "increase", current: 150, previous: 100, wantStatus: NormalStatus, wantChange: ptr(50), wantDelta: 50},
		{name: "decrease rounded", current: 2, previous: 3, wantStatus: NormalStatus, wantChange: ptr(-33.3), wantDelta: -1},
		{name: "unchanged", current: 7, previous: 7, wantStatus: NormalStatus, wantChange: ptr(0), wantDelta: 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := PercentageChange(tc.current, tc.previous)
			assert.Equal(t, tc.wantStatus, r.Status())
			assert.Equal(t, tc.wantChange, r.Change)
			assert.Equal(t, tc.wantDelta, r.Delta)
			assert.Equal(t, tc.current, r.Current)
			assert.Equal(t, tc.previous, r.Previous)
		})
	}
}

func TestPercentageChange_ClassificationIsExclusive(t *testing.T) {
	for current := 0; current <= 30; current++ {
		for previous := 0; previous <= 30; previous++ {
			r := PercentageChange(current, previous)
			flags := 0
			for _, f := range []bool{r.IsNew, r.IsInactive, r.IsNoData} {
				if f {
					flags++
				}
			}
			require.LessOrEqual(t, flags, 1, "current=%d previous=%d", current, previous)
			if flags == 0 {
				require.True(t, current > 0 && previous > 0, "current=%d previous=%d", current, previous)
				require.NotNil(t, r.Change)
			}
		}
	}
}

func TestPercentageChange_NewEncodesNullChange(t *testing.T) {
	data, err := json.Marshal(PercentageChange(3, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"current":3,"previous":0,"change":null,"delta":3,"isNew":true,"isInactive":false,"isNoData":false}`, string(data))
}

func snapshot(week string, users map[string]domain.DailyMetrics) *domain.WeekSnapshot {
	s := &domain.WeekSnapshot{
		Week:              week,
		Users:             make(map[string]*domain.UserWeekRecord),
		RepositoryMetrics: map[string]domain.RepositoryMetrics{},
	}
	for name, m := range users {
		s.Users[name] = &domain.UserWeekRecord{
			Daily:  map[string]domain.DailyMetrics{"any": m},
			Weekly: m,
		}
	}
	return s
}

func TestCompareWeeks(t *testing.T) {
	previous := snapshot("2025-51", map[string]domain.DailyMetrics{
		"alice": {Commits: 10, PRs: 2, LinesAdded: 100, LinesDeleted: 10},
		"carol": {Commits: 4},
	})
	current := snapshot("2025-52", map[string]domain.DailyMetrics{
		"alice": {Commits: 15, PRs: 2, LinesAdded: 50},
		"bob":   {Commits: 3, PRs: 1},
	})

	cmp := CompareWeeks(current, previous)

	assert.Equal(t, "2025-52", cmp.Week)
	assert.Equal(t, "2025-51", cmp.PreviousWeek)
	require.Len(t, cmp.Users, 3)

	assert.Equal(t, ptr(50), cmp.Users["alice"].Commits.Change)
	assert.Equal(t, NormalStatus, cmp.Users["alice"].PRs.Status())
	assert.Equal(t, InactiveStatus, cmp.Users["alice"].LinesDeleted.Status())
	assert.Equal(t, NewStatus, cmp.Users["bob"].Commits.Status())
	assert.Equal(t, InactiveStatus, cmp.Users["carol"].Commits.Status())
	assert.Equal(t, NoDataStatus, cmp.Users["carol"].PRs.Status())

	assert.Equal(t, 18, cmp.Team.Commits.Current)
	assert.Equal(t, 14, cmp.Team.Commits.Previous)
	assert.Equal(t, ptr(28.6), cmp.Team.Commits.Change)
	assert.Equal(t, ptr(50), cmp.Team.PRs.Change)
}

func TestCompareWeeks_NoPrevious(t *testing.T) {
	current := snapshot("2025-52", map[string]domain.DailyMetrics{
		"alice": {Commits: 1},
	})

	cmp := CompareWeeks(current, nil)

	assert.Empty(t, cmp.PreviousWeek)
	assert.Equal(t, NewStatus, cmp.Team.Commits.Status())
	assert.Equal(t, NoDataStatus, cmp.Team.PRs.Status())
	assert.Equal(t, NewStatus, cmp.Users["alice"].Commits.Status())
}
