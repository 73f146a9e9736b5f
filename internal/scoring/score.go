// Package scoring turns raw activity counters into a weighted, capped composite
// score used to rank contributors. Scores are relative and carry no absolute meaning.
package scoring

import (
	"math"
	"sort"

	"github.com/naka-gawa/github-weekly/internal/domain"
)

// Weights applied to each counter.
const (
	CommitWeight         = 2.0
	PRWeight             = 5.0
	ReviewWeight         = 5.0
	UniquePRReviewWeight = 4.0
	ReviewCommentWeight  = 1.0
	LineWeight           = 0.01

	// CodeCap is the ceiling of the code component.
	CodeCap = 300.0
)

// Input is the set of counters a score is computed from.
type Input struct {
	domain.DailyMetrics
	UniquePRsReviewed int
}

// Breakdown is a score split into its components, each rounded to 2 decimals.
type Breakdown struct {
	Commits float64 `json:"commits"`
	PRs     float64 `json:"prs"`
	Reviews float64 `json:"reviews"`
	Code    float64 `json:"code"`
	Total   float64 `json:"total"`
}

// Score computes the composite score of in.
func Score(in Input) Breakdown {
	commits := float64(in.Commits) * CommitWeight
	prs := float64(in.PRs) * PRWeight
	reviews := float64(in.ReviewsGiven)*ReviewWeight +
		float64(in.UniquePRsReviewed)*UniquePRReviewWeight +
		float64(in.ReviewCommentsGiven)*ReviewCommentWeight
	code := math.Min(float64(in.LinesAdded+in.LinesDeleted)*LineWeight, CodeCap)

	return Breakdown{
		Commits: round2(commits),
		PRs:     round2(prs),
		Reviews: round2(reviews),
		Code:    round2(code),
		Total:   round2(commits + prs + reviews + code),
	}
}

// Ranked is one contributor's position in a ranking.
type Ranked struct {
	Username string    `json:"username"`
	Score    Breakdown `json:"score"`
}

// Rank scores every user of the snapshot by their weekly roll-up and returns
// them by descending total, ties broken by username.
func Rank(s *domain.WeekSnapshot) []Ranked {
	ranking := make([]Ranked, 0, len(s.Users))
	for name, rec := range s.Users {
		if rec == nil {
			continue
		}
		ranking = append(ranking, Ranked{
			Username: name,
			Score:    Score(Input{DailyMetrics: rec.Weekly, UniquePRsReviewed: len(rec.ReviewedPRs)}),
		})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Score.Total != ranking[j].Score.Total {
			return ranking[i].Score.Total > ranking[j].Score.Total
		}
		return ranking[i].Username < ranking[j].Username
	})
	return ranking
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
