// Package render writes command results as JSON documents or human-readable tables.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/fatih/color"
	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/compare"
	"github.com/naka-gawa/github-weekly/internal/scoring"
	"github.com/naka-gawa/github-weekly/internal/usecase"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// Format selects how results are written.
type Format string

const (
	JSONFormat  Format = "json"
	TableFormat Format = "table"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case JSONFormat, TableFormat:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q: must be json or table", s)
	}
}

// JSON writes v as indented JSON followed by a newline.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// palette colours deltas; without colours every function is fmt.Sprint.
type palette struct {
	up, down, flat func(...any) string
}

func newPalette(useColors bool) palette {
	if !useColors {
		return palette{up: fmt.Sprint, down: fmt.Sprint, flat: fmt.Sprint}
	}
	return palette{
		up:   color.New(color.FgGreen).SprintFunc(),
		down: color.New(color.FgRed).SprintFunc(),
		flat: color.New(color.FgYellow).SprintFunc(),
	}
}

// change renders a comparison as "current (change)".
func (p palette) change(r compare.ComparisonResult) string {
	var change string
	switch r.Status() {
	case compare.NoDataStatus:
		return p.flat("-")
	case compare.NewStatus:
		change = p.up("new ▲")
	case compare.InactiveStatus:
		change = p.down("inactive ▼")
	default:
		switch v := *r.Change; {
		case v > 0:
			change = p.up(fmt.Sprintf("+%.1f%% ▲", v))
		case v < 0:
			change = p.down(fmt.Sprintf("%.1f%% ▼", v))
		default:
			change = p.flat("0.0%")
		}
	}
	return fmt.Sprintf("%d (%s)", r.Current, change)
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	return table
}

func renderTable(table *tablewriter.Table, data [][]string) error {
	defer func() { _ = table.Close() }()
	if err := table.Bulk(data); err != nil {
		return err
	}
	return table.Render()
}

// Comparison writes a week-over-week comparison: the team first, then every user.
func Comparison(w io.Writer, cmp compare.WeekComparison, useColors bool) error {
	previous := cmp.PreviousWeek
	if previous == "" {
		previous = "none"
	}
	if _, err := fmt.Fprintf(w, "Week %s compared with %s\n", cmp.Week, previous); err != nil {
		return err
	}

	p := newPalette(useColors)
	row := func(name string, m compare.MetricComparison) []string {
		return []string{name, p.change(m.Commits), p.change(m.PRs), p.change(m.LinesAdded), p.change(m.LinesDeleted)}
	}
	data := [][]string{row("(team)", cmp.Team)}
	for _, name := range sortedKeys(cmp.Users) {
		data = append(data, row(name, cmp.Users[name]))
	}
	return renderTable(newTable(w, []string{"User", "Commits", "PRs", "Lines Added", "Lines Deleted"}), data)
}

// Trend writes the weekly commit series of the team and every user with its summary.
func Trend(w io.Writer, tr compare.Trend) error {
	headers := []string{"Series"}
	headers = append(headers, tr.Weeks...)
	headers = append(headers, "Mean", "Median", "StdDev", "Active")

	row := func(name string, s compare.Series) []string {
		r := []string{name}
		for _, m := range s.Weeks {
			r = append(r, strconv.Itoa(m.Commits))
		}
		return append(r,
			strconv.FormatFloat(s.Summary.MeanCommits, 'f', 2, 64),
			strconv.FormatFloat(s.Summary.MedianCommits, 'f', 2, 64),
			strconv.FormatFloat(s.Summary.StdDevCommits, 'f', 2, 64),
			strconv.Itoa(s.Summary.ActiveWeeks),
		)
	}
	data := [][]string{row("(team)", tr.Team)}
	for _, name := range sortedKeys(tr.Users) {
		data = append(data, row(name, tr.Users[name]))
	}
	for _, name := range sortedKeys(tr.Repositories) {
		data = append(data, row(name, tr.Repositories[name]))
	}
	if _, err := fmt.Fprintln(w, "Weekly commits"); err != nil {
		return err
	}
	return renderTable(newTable(w, headers), data)
}

// Ranking writes the scored contributors in ranking order.
func Ranking(w io.Writer, week string, ranking []scoring.Ranked) error {
	if _, err := fmt.Fprintf(w, "Contribution scores for week %s\n", week); err != nil {
		return err
	}
	fixed := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	data := make([][]string, 0, len(ranking))
	for i, r := range ranking {
		data = append(data, []string{
			strconv.Itoa(i + 1),
			r.Username,
			fixed(r.Score.Commits),
			fixed(r.Score.PRs),
			fixed(r.Score.Reviews),
			fixed(r.Score.Code),
			fixed(r.Score.Total),
		})
	}
	return renderTable(newTable(w, []string{"Rank", "User", "Commits", "PRs", "Reviews", "Code", "Total"}), data)
}

// Reports writes one line per repository of every collected week.
func Reports(w io.Writer, reports []*usecase.Report, useColors bool) error {
	p := newPalette(useColors)
	var data [][]string
	for _, r := range reports {
		if r.UpToDate {
			data = append(data, []string{r.Week, "-", p.flat("up to date"), "", "", ""})
			continue
		}
		for _, o := range r.Outcomes {
			status := string(o.Status)
			switch o.Status {
			case usecase.RepoOK:
				status = p.up(status)
			case usecase.RepoSoft:
				status = p.flat(status)
			case usecase.RepoFatal:
				status = p.down(status)
			}
			data = append(data, []string{r.Week, o.Repository, status, strconv.Itoa(o.Commits), strconv.Itoa(o.PullRequests), o.Error})
		}
		if r.Cancelled {
			data = append(data, []string{r.Week, "-", p.down("cancelled"), "", "", ""})
		}
	}
	return renderTable(newTable(w, []string{"Week", "Repository", "Status", "Commits", "PRs", "Error"}), data)
}

// WeekRange is an ISO week with its Monday-to-Sunday date range.
type WeekRange struct {
	Week    string `json:"week"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Backups int    `json:"backups,omitempty"`
}

// WeekRanges describes weeks in the given order.
func WeekRanges(weeks []calendar.Week) []WeekRange {
	ranges := make([]WeekRange, 0, len(weeks))
	for _, w := range weeks {
		start, end := calendar.DateRange(w)
		ranges = append(ranges, WeekRange{Week: w.String(), Start: calendar.FormatDate(start), End: calendar.FormatDate(end)})
	}
	return ranges
}

// Weeks writes one row per week range.
func Weeks(w io.Writer, ranges []WeekRange) error {
	data := make([][]string, 0, len(ranges))
	for _, r := range ranges {
		data = append(data, []string{r.Week, r.Start, r.End, strconv.Itoa(r.Backups)})
	}
	return renderTable(newTable(w, []string{"Week", "Start", "End", "Backups"}), data)
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
