// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/naka-gawa/github-weekly/internal/aggregate"
	"github.com/naka-gawa/github-weekly/internal/calendar"
	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/naka-gawa/github-weekly/internal/gateway"
	"github.com/naka-gawa/github-weekly/internal/store"
	"golang.org/x/sync/errgroup"
)

// RepoStatus is the result of ingesting one repository.
type RepoStatus string

const (
	// RepoOK means every resource of the repository was fetched.
	RepoOK RepoStatus = "ok"
	// RepoSoft means part of the repository was missing; what was gathered is kept.
	RepoSoft RepoStatus = "soft"
	// RepoFatal means the repository failed and contributed nothing.
	RepoFatal RepoStatus = "fatal"
)

// RepoOutcome reports what happened to one repository during a collection.
type RepoOutcome struct {
	Repository   string     `json:"repository"`
	Status       RepoStatus `json:"status"`
	Commits      int        `json:"commits"`
	PullRequests int        `json:"pullRequests"`
	Error        string     `json:"error,omitempty"`
}

// Report summarises a collection of one week.
type Report struct {
	Week      string        `json:"week"`
	Dates     []string      `json:"dates"`
	UpToDate  bool          `json:"upToDate"`
	Cancelled bool          `json:"cancelled"`
	Partial   bool          `json:"partial"`
	Outcomes  []RepoOutcome `json:"outcomes"`
}

// Collector is the use case for ingesting GitHub activity into week snapshots.
type Collector struct {
	fetcher      gateway.Fetcher
	store        store.Store
	repositories []string
	workers      int
	logger       *log.Logger
	now          func() time.Time
}

// DefaultWorkers bounds the concurrent per-pull-request fetches.
const DefaultWorkers = 4

// NewCollector creates a new Collector instance for the "owner/name" repositories.
func NewCollector(fetcher gateway.Fetcher, st store.Store, repositories []string, workers int, logger *log.Logger) *Collector {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Collector{
		fetcher:      fetcher,
		store:        st,
		repositories: repositories,
		workers:      workers,
		logger:       logger,
		now:          time.Now,
	}
}

// CollectWeek fetches, for every repository, the complete days of week it has
// not covered yet, merges them into the stored snapshot and saves the result.
// Today is left for a later run. Repository failures do not abort the run; they
// are reported in the returned Report, whose Partial flag is then set, and the
// failed repository's days stay uncovered.
func (c *Collector) CollectWeek(ctx context.Context, week calendar.Week) (*Report, error) {
	c.logger.Printf("Usecase: Collecting week %s...", week)

	unlock, err := c.store.Lock(ctx, week)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			c.logger.Printf("Usecase: failed to release lock of week %s: %v", week, err)
		}
	}()

	existing, err := c.store.Load(ctx, week)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		existing = nil
	} else if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	today := calendar.FormatDate(now)
	allDates := calendar.AllDates(week)
	pending := make(map[string][]string, len(c.repositories))
	var dates []string
	for _, repo := range c.repositories {
		if d := aggregate.UncoveredDates(existing, repo, allDates, today); len(d) > 0 {
			pending[repo] = d
			dates = append(dates, d...)
		}
	}
	slices.Sort(dates)
	dates = slices.Compact(dates)

	report := &Report{Week: week.String(), Dates: dates, Outcomes: []RepoOutcome{}}
	if len(dates) == 0 {
		c.logger.Printf("Usecase: Week %s is up to date.", week)
		report.UpToDate = true
		return report, nil
	}
	c.logger.Printf("Usecase: Uncovered dates: %s", strings.Join(dates, ", "))

	fresh := aggregate.CreateEmpty(week, c.repositories)
	for _, repo := range c.repositories {
		repoDates, ok := pending[repo]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			c.logger.Printf("Usecase: Cancelled before %s, saving what was collected.", repo)
			report.Cancelled = true
			break
		}
		outcome, events := c.collectRepository(ctx, repo, newTimeWindow(repoDates))
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Status == RepoFatal {
			if ctx.Err() != nil {
				report.Cancelled = true
			}
			continue
		}
		for _, e := range events {
			e.apply(fresh, repo)
		}
		aggregate.MarkRepositoryFetched(fresh, repo, repoDates)
	}
	for _, o := range report.Outcomes {
		if o.Status != RepoOK {
			report.Partial = true
		}
	}
	if report.Cancelled {
		report.Partial = true
	}

	merged := aggregate.Merge(existing, fresh, now)
	aggregate.MarkFetched(merged, aggregate.CompletedDates(merged, c.repositories, allDates))
	if err := merged.Validate(); err != nil {
		return report, err
	}
	if err := c.store.Save(context.WithoutCancel(ctx), merged); err != nil {
		return report, err
	}
	c.logger.Printf("Usecase: Week %s saved (%d users).", week, len(merged.Users))
	return report, nil
}

// Backfill collects every week from 'from' to 'to' inclusive. It stops at the
// first week that fails or when ctx is cancelled.
func (c *Collector) Backfill(ctx context.Context, from, to calendar.Week) ([]*Report, error) {
	weeks := calendar.WeeksBetween(from, to)
	if len(weeks) == 0 {
		return nil, fmt.Errorf("%w: %s is after %s", calendar.ErrInvalidWeek, from, to)
	}
	reports := make([]*Report, 0, len(weeks))
	for _, w := range weeks {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := c.CollectWeek(ctx, w)
		if r != nil {
			reports = append(reports, r)
		}
		if err != nil {
			return reports, fmt.Errorf("failed to collect week %s: %w", w, err)
		}
	}
	return reports, nil
}

// timeWindow spans whole days, from the first to the last wanted date.
type timeWindow struct {
	since, until time.Time
	dates        map[string]bool
}

// newTimeWindow builds the window of ascending, well-formed dates.
func newTimeWindow(dates []string) timeWindow {
	w := timeWindow{dates: make(map[string]bool, len(dates))}
	for _, d := range dates {
		w.dates[d] = true
	}
	w.since, _ = calendar.ParseDate(dates[0])
	last, _ := calendar.ParseDate(dates[len(dates)-1])
	w.until = last.AddDate(0, 0, 1)
	return w
}

// dateOf returns the UTC date of t and whether it is one of the wanted dates.
func (w timeWindow) dateOf(t time.Time) (string, bool) {
	d := calendar.FormatDate(t)
	return d, w.dates[d]
}

type eventKind int

const (
	commitEvent eventKind = iota
	prEvent
	reviewEvent
	reviewCommentEvent
	discussionCommentEvent
)

// event is one attributable activity, folded into the snapshot after the
// whole repository has been fetched.
type event struct {
	kind     eventKind
	username string
	date     string
	added    int
	deleted  int
	prKey    string
}

func (e event) apply(s *domain.WeekSnapshot, repo string) {
	switch e.kind {
	case commitEvent:
		aggregate.RecordCommit(s, e.username, e.date, e.added, e.deleted, repo)
	case prEvent:
		aggregate.RecordPR(s, e.username, e.date, repo)
	case reviewEvent:
		aggregate.RecordReview(s, e.username, e.date, 1, repo)
		aggregate.RecordReviewedPR(s, e.username, e.date, e.prKey)
	case reviewCommentEvent:
		aggregate.RecordReviewComment(s, e.username, e.date, 1, repo)
	case discussionCommentEvent:
		aggregate.RecordDiscussionComment(s, e.username, e.date, 1, repo)
	}
}

// prActivity holds the sub-resources fetched for one pull request.
type prActivity struct {
	reviews            []gateway.Review
	reviewComments     []gateway.Comment
	discussionComments []gateway.Comment
}

// collectRepository gathers the events of one repository. A missing resource
// downgrades the outcome to soft; any other failure makes it fatal.
func (c *Collector) collectRepository(ctx context.Context, repo string, window timeWindow) (RepoOutcome, []event) {
	outcome := RepoOutcome{Repository: repo, Status: RepoOK}
	fail := func(err error) (RepoOutcome, []event) {
		c.logger.Printf("Usecase: %s failed: %v", repo, err)
		outcome.Status = RepoFatal
		outcome.Error = err.Error()
		return outcome, nil
	}
	soft := func(err error) {
		c.logger.Printf("Usecase: %s is incomplete: %v", repo, err)
		outcome.Status = RepoSoft
		outcome.Error = err.Error()
	}

	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fail(fmt.Errorf("invalid repository %q, want owner/name", repo))
	}
	c.logger.Printf("Usecase: Fetching %s...", repo)

	commitEvents, err := c.collectCommits(ctx, owner, name, window)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		soft(err)
	case err != nil:
		return fail(err)
	}
	outcome.Commits = len(commitEvents)

	prs, err := c.fetcher.ListPullRequests(ctx, owner, name, window.since)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		soft(err)
	case err != nil:
		return fail(err)
	}

	activity := make([]prActivity, len(prs))
	notFound := make([]error, len(prs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for i, pr := range prs {
		eg.Go(func() error {
			err := c.fetchPullRequestActivity(egCtx, owner, name, pr.Number, &activity[i])
			if errors.Is(err, gateway.ErrNotFound) {
				notFound[i] = err
				return nil
			}
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return fail(err)
	}
	for _, err := range notFound {
		if err != nil {
			soft(err)
		}
	}

	events := commitEvents
	for i, pr := range prs {
		prKey := fmt.Sprintf("%s#%d", repo, pr.Number)
		if date, ok := window.dateOf(pr.CreatedAt); ok {
			events = append(events, event{kind: prEvent, username: pr.Author, date: date})
			outcome.PullRequests++
		}
		for _, r := range activity[i].reviews {
			if r.Reviewer == pr.Author || r.SubmittedAt.IsZero() || r.State == "PENDING" {
				continue
			}
			if date, ok := window.dateOf(r.SubmittedAt); ok {
				events = append(events, event{kind: reviewEvent, username: r.Reviewer, date: date, prKey: prKey})
			}
		}
		for _, cm := range activity[i].reviewComments {
			if cm.Author == pr.Author {
				continue
			}
			if date, ok := window.dateOf(cm.CreatedAt); ok {
				events = append(events, event{kind: reviewCommentEvent, username: cm.Author, date: date})
			}
		}
		for _, cm := range activity[i].discussionComments {
			if cm.Author == pr.Author {
				continue
			}
			if date, ok := window.dateOf(cm.CreatedAt); ok {
				events = append(events, event{kind: discussionCommentEvent, username: cm.Author, date: date})
			}
		}
	}
	c.logger.Printf("Usecase: %s done (%d commits, %d pull requests, %d events).", repo, outcome.Commits, outcome.PullRequests, len(events))
	return outcome, events
}

// collectCommits lists the non-merge commits of the wanted dates, fetching
// line statistics for those the listing does not carry. On ErrNotFound the
// commits listed before the failure are still returned.
func (c *Collector) collectCommits(ctx context.Context, owner, name string, window timeWindow) ([]event, error) {
	commits, listErr := c.fetcher.ListCommits(ctx, owner, name, window.since, window.until)
	if listErr != nil && !errors.Is(listErr, gateway.ErrNotFound) {
		return nil, listErr
	}

	var wanted []gateway.Commit
	for _, cm := range commits {
		if cm.IsMerge() {
			continue
		}
		if _, ok := window.dateOf(cm.Date); ok {
			wanted = append(wanted, cm)
		}
	}

	stats := make([]*gateway.CommitStats, len(wanted))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.workers)
	for i, cm := range wanted {
		if cm.Stats != nil {
			stats[i] = cm.Stats
			continue
		}
		eg.Go(func() error {
			var err error
			stats[i], err = c.fetcher.GetCommitDetail(egCtx, owner, name, cm.SHA)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	events := make([]event, 0, len(wanted))
	for i, cm := range wanted {
		date, _ := window.dateOf(cm.Date)
		e := event{kind: commitEvent, username: domain.ResolveAuthor(cm.Author), date: date}
		if stats[i] != nil {
			e.added, e.deleted = stats[i].Additions, stats[i].Deletions
		}
		events = append(events, e)
	}
	return events, listErr
}

func (c *Collector) fetchPullRequestActivity(ctx context.Context, owner, name string, number int, out *prActivity) error {
	var err error
	if out.reviews, err = c.fetcher.ListReviews(ctx, owner, name, number); err != nil {
		return err
	}
	if out.reviewComments, err = c.fetcher.ListReviewComments(ctx, owner, name, number); err != nil {
		return err
	}
	out.discussionComments, err = c.fetcher.ListDiscussionComments(ctx, owner, name, number)
	return err
}
