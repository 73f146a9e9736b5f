// Package export flattens week snapshots into per-day rows and writes them to
// Parquet files using github.com/parquet-go/parquet-go.
package export

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/parquet-go/parquet-go"
)

// UserDay is the activity of one contributor on one day.
type UserDay struct {
	Week                    string `parquet:"week,snappy"`
	Date                    string `parquet:"date,snappy"`
	Username                string `parquet:"username,snappy"`
	Commits                 int64  `parquet:"commits,snappy"`
	PRs                     int64  `parquet:"prs,snappy"`
	LinesAdded              int64  `parquet:"lines_added,snappy"`
	LinesDeleted            int64  `parquet:"lines_deleted,snappy"`
	ReviewsGiven            int64  `parquet:"reviews_given,snappy"`
	ReviewCommentsGiven     int64  `parquet:"review_comments_given,snappy"`
	DiscussionCommentsGiven int64  `parquet:"discussion_comments_given,snappy"`
}

// RepositoryDay is the activity of one repository on one day.
type RepositoryDay struct {
	Week                    string `parquet:"week,snappy"`
	Date                    string `parquet:"date,snappy"`
	Repository              string `parquet:"repository,snappy"`
	Commits                 int64  `parquet:"commits,snappy"`
	PRs                     int64  `parquet:"prs,snappy"`
	LinesAdded              int64  `parquet:"lines_added,snappy"`
	LinesDeleted            int64  `parquet:"lines_deleted,snappy"`
	ReviewsGiven            int64  `parquet:"reviews_given,snappy"`
	ReviewCommentsGiven     int64  `parquet:"review_comments_given,snappy"`
	DiscussionCommentsGiven int64  `parquet:"discussion_comments_given,snappy"`
}

// UserDays returns one row per user and day, ordered by date then username.
func UserDays(snapshots []*domain.WeekSnapshot) []UserDay {
	var rows []UserDay
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		for name, rec := range s.Users {
			if rec == nil {
				continue
			}
			for date, m := range rec.Daily {
				rows = append(rows, UserDay{
					Week:                    s.Week,
					Date:                    date,
					Username:                name,
					Commits:                 int64(m.Commits),
					PRs:                     int64(m.PRs),
					LinesAdded:              int64(m.LinesAdded),
					LinesDeleted:            int64(m.LinesDeleted),
					ReviewsGiven:            int64(m.ReviewsGiven),
					ReviewCommentsGiven:     int64(m.ReviewCommentsGiven),
					DiscussionCommentsGiven: int64(m.DiscussionCommentsGiven),
				})
			}
		}
	}
	slices.SortFunc(rows, func(a, b UserDay) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})
	return rows
}

// RepositoryDays returns one row per repository and day, ordered by date then
// repository. Snapshots without a per-day breakdown contribute nothing.
func RepositoryDays(snapshots []*domain.WeekSnapshot) []RepositoryDay {
	var rows []RepositoryDay
	for _, s := range snapshots {
		if s == nil {
			continue
		}
		for repo, days := range s.RepositoryDaily {
			for date, m := range days {
				rows = append(rows, RepositoryDay{
					Week:                    s.Week,
					Date:                    date,
					Repository:              repo,
					Commits:                 int64(m.Commits),
					PRs:                     int64(m.PRs),
					LinesAdded:              int64(m.LinesAdded),
					LinesDeleted:            int64(m.LinesDeleted),
					ReviewsGiven:            int64(m.ReviewsGiven),
					ReviewCommentsGiven:     int64(m.ReviewCommentsGiven),
					DiscussionCommentsGiven: int64(m.DiscussionCommentsGiven),
				})
			}
		}
	}
	slices.SortFunc(rows, func(a, b RepositoryDay) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.Repository, b.Repository)
	})
	return rows
}

// WriteParquet writes rows to a Parquet file at outputPath, replacing it.
// The schema is derived from the struct tags of T.
func WriteParquet[T any](rows []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return file.Close()
}
