// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
)

// Commit is a commit listed for a repository.
type Commit struct {
	SHA     string
	Author  domain.Author
	Date    time.Time
	Parents int
	// Stats is nil when the listing did not include line statistics.
	Stats *CommitStats
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool {
	return c.Parents > 1
}

// CommitStats holds the line changes of a commit.
type CommitStats struct {
	Additions int
	Deletions int
}

// PullRequest is a pull request listed for a repository.
type PullRequest struct {
	Number    int
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Review is a submitted pull request review.
type Review struct {
	Reviewer    string
	State       string
	SubmittedAt time.Time
}

// Comment is a review comment or a conversation comment.
type Comment struct {
	Author    string
	CreatedAt time.Time
}

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
// List methods may return ErrNotFound together with the items gathered before
// the resource disappeared.
type Fetcher interface {
	ListCommits(ctx context.Context, owner, repo string, since, until time.Time) ([]Commit, error)
	ListPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]PullRequest, error)
	// GetCommitDetail returns nil stats when the commit cannot be found.
	GetCommitDetail(ctx context.Context, owner, repo, sha string) (*CommitStats, error)
	ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	ListReviewComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)
	ListDiscussionComments(ctx context.Context, owner, repo string, number int) ([]Comment, error)
	Quota(ctx context.Context) (Quota, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	rest          *Pager
	graphql       *Pager
	logger        *log.Logger
}

var _ Fetcher = (*GitHubGateway)(nil)

// pullRequestsQuery lists pull requests by most recent update, with the GraphQL quota.
type pullRequestsQuery struct {
	RateLimit struct {
		Limit     int
		Remaining int
		ResetAt   githubv4.DateTime
	}
	Repository struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Nodes []struct {
				Number    int
				CreatedAt githubv4.DateTime
				UpdatedAt githubv4.DateTime
				Author    struct {
					Login string
				}
			}
		} `graphql:"pullRequests(first: $pageSize, after: $cursor, orderBy: {field: UPDATED_AT, direction: DESC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
func NewGitHubGateway(token string, opts PagerOptions, logger *log.Logger) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	return newGateway(github.NewClient(httpClient), githubv4.NewClient(httpClient), opts, logger), nil
}

func newGateway(rest *github.Client, graphql *githubv4.Client, opts PagerOptions, logger *log.Logger) *GitHubGateway {
	return &GitHubGateway{
		restClient:    rest,
		graphqlClient: graphql,
		rest:          NewPager(opts, logger),
		graphql:       NewPager(opts, logger),
		logger:        logger,
	}
}

// ListCommits lists the commits authored between since and until.
func (g *GitHubGateway) ListCommits(ctx context.Context, owner, repo string, since, until time.Time) ([]Commit, error) {
	resource := fmt.Sprintf("commits of %s/%s", owner, repo)
	return FetchAll(ctx, g.rest, resource, func(ctx context.Context, page int) (Page[Commit], error) {
		opts := &github.CommitsListOptions{
			Since:       since,
			Until:       until,
			ListOptions: github.ListOptions{Page: page, PerPage: g.rest.PageSize()},
		}
		commits, resp, err := g.restClient.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return Page[Commit]{}, classifyError(err)
		}
		items := make([]Commit, 0, len(commits))
		for _, c := range commits {
			items = append(items, toCommit(c))
		}
		return Page[Commit]{Items: items, Quota: quotaOf(resp)}, nil
	})
}

// GetCommitDetail fetches the line statistics of a single commit.
func (g *GitHubGateway) GetCommitDetail(ctx context.Context, owner, repo, sha string) (*CommitStats, error) {
	var stats *CommitStats
	err := g.rest.Do(ctx, fmt.Sprintf("commit %s of %s/%s", sha, owner, repo), func(ctx context.Context) (Quota, error) {
		c, resp, err := g.restClient.Repositories.GetCommit(ctx, owner, repo, sha, nil)
		if err != nil {
			return Quota{}, classifyError(err)
		}
		if c.Stats != nil {
			stats = &CommitStats{Additions: c.Stats.GetAdditions(), Deletions: c.Stats.GetDeletions()}
		}
		return quotaOf(resp), nil
	})
	if errors.Is(err, ErrNotFound) {
		g.logger.Printf("  Commit %s of %s/%s not found, counting no line changes", sha, owner, repo)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s of %s/%s: %w", sha, owner, repo, err)
	}
	return stats, nil
}

// ListPullRequests lists pull requests updated at or after since, most recently updated first.
func (g *GitHubGateway) ListPullRequests(ctx context.Context, owner, repo string, since time.Time) ([]PullRequest, error) {
	resource := fmt.Sprintf("pull requests of %s/%s", owner, repo)
	var cursor *githubv4.String
	return FetchAll(ctx, g.graphql, resource, func(ctx context.Context, _ int) (Page[PullRequest], error) {
		var q pullRequestsQuery
		variables := map[string]interface{}{
			"owner":    githubv4.String(owner),
			"name":     githubv4.String(repo),
			"pageSize": githubv4.Int(g.graphql.PageSize()),
			"cursor":   cursor,
		}
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return Page[PullRequest]{}, classifyGraphQLError(err)
		}

		conn := q.Repository.PullRequests
		page := Page[PullRequest]{
			Quota: Quota{Remaining: q.RateLimit.Remaining, Limit: q.RateLimit.Limit, Reset: q.RateLimit.ResetAt.Time},
			Last:  !conn.PageInfo.HasNextPage,
		}
		for _, n := range conn.Nodes {
			if n.UpdatedAt.Before(since) {
				page.Last = true
				break
			}
			page.Items = append(page.Items, PullRequest{
				Number:    n.Number,
				Author:    domain.ResolveAuthor(domain.Author{Login: n.Author.Login}),
				CreatedAt: n.CreatedAt.Time,
				UpdatedAt: n.UpdatedAt.Time,
			})
		}
		cursor = githubv4.NewString(conn.PageInfo.EndCursor)
		return page, nil
	})
}

// ListReviews lists the reviews submitted on a pull request.
func (g *GitHubGateway) ListReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	resource := fmt.Sprintf("reviews of %s/%s#%d", owner, repo, number)
	return FetchAll(ctx, g.rest, resource, func(ctx context.Context, page int) (Page[Review], error) {
		reviews, resp, err := g.restClient.PullRequests.ListReviews(ctx, owner, repo, number,
			&github.ListOptions{Page: page, PerPage: g.rest.PageSize()})
		if err != nil {
			return Page[Review]{}, classifyError(err)
		}
		items := make([]Review, 0, len(reviews))
		for _, r := range reviews {
			items = append(items, Review{
				Reviewer:    domain.ResolveAuthor(domain.Author{Login: r.GetUser().GetLogin()}),
				State:       r.GetState(),
				SubmittedAt: r.GetSubmittedAt().Time,
			})
		}
		return Page[Review]{Items: items, Quota: quotaOf(resp)}, nil
	})
}

// ListReviewComments lists the inline review comments of a pull request.
func (g *GitHubGateway) ListReviewComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	resource := fmt.Sprintf("review comments of %s/%s#%d", owner, repo, number)
	return FetchAll(ctx, g.rest, resource, func(ctx context.Context, page int) (Page[Comment], error) {
		comments, resp, err := g.restClient.PullRequests.ListComments(ctx, owner, repo, number,
			&github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{Page: page, PerPage: g.rest.PageSize()}})
		if err != nil {
			return Page[Comment]{}, classifyError(err)
		}
		items := make([]Comment, 0, len(comments))
		for _, c := range comments {
			items = append(items, Comment{
				Author:    domain.ResolveAuthor(domain.Author{Login: c.GetUser().GetLogin()}),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		return Page[Comment]{Items: items, Quota: quotaOf(resp)}, nil
	})
}

// ListDiscussionComments lists the conversation comments of a pull request.
func (g *GitHubGateway) ListDiscussionComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	resource := fmt.Sprintf("comments of %s/%s#%d", owner, repo, number)
	return FetchAll(ctx, g.rest, resource, func(ctx context.Context, page int) (Page[Comment], error) {
		comments, resp, err := g.restClient.Issues.ListComments(ctx, owner, repo, number,
			&github.IssueListCommentsOptions{ListOptions: github.ListOptions{Page: page, PerPage: g.rest.PageSize()}})
		if err != nil {
			return Page[Comment]{}, classifyError(err)
		}
		items := make([]Comment, 0, len(comments))
		for _, c := range comments {
			items = append(items, Comment{
				Author:    domain.ResolveAuthor(domain.Author{Login: c.GetUser().GetLogin()}),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		return Page[Comment]{Items: items, Quota: quotaOf(resp)}, nil
	})
}

// Quota queries the REST core rate limit and records it for subsequent requests.
func (g *GitHubGateway) Quota(ctx context.Context) (Quota, error) {
	limits, _, err := g.restClient.RateLimit.Get(ctx)
	if err != nil {
		return Quota{}, fmt.Errorf("failed to get rate limit: %w", err)
	}
	core := limits.GetCore()
	if core == nil {
		return Quota{}, nil
	}
	q := Quota{Remaining: core.Remaining, Limit: core.Limit, Reset: core.Reset.Time}
	g.rest.Observe(q)
	return q, nil
}

func toCommit(c *github.RepositoryCommit) Commit {
	author := c.GetCommit().GetAuthor()
	date := author.GetDate().Time
	if date.IsZero() {
		date = c.GetCommit().GetCommitter().GetDate().Time
	}
	commit := Commit{
		SHA: c.GetSHA(),
		Author: domain.Author{
			Login: c.GetAuthor().GetLogin(),
			Email: author.GetEmail(),
			Name:  author.GetName(),
		},
		Date:    date,
		Parents: len(c.Parents),
	}
	if c.Stats != nil {
		commit.Stats = &CommitStats{Additions: c.Stats.GetAdditions(), Deletions: c.Stats.GetDeletions()}
	}
	return commit
}

func quotaOf(resp *github.Response) Quota {
	if resp == nil {
		return Quota{}
	}
	return Quota{Remaining: resp.Rate.Remaining, Limit: resp.Rate.Limit, Reset: resp.Rate.Reset.Time}
}

// classifyError maps REST client errors onto the pager's error taxonomy.
func classifyError(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &QuotaExceededError{
			Quota: Quota{Remaining: rateErr.Rate.Remaining, Limit: rateErr.Rate.Limit, Reset: rateErr.Rate.Reset.Time},
			Err:   err,
		}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// classifyGraphQLError maps GraphQL client errors, which only carry messages.
func classifyGraphQLError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Could not resolve to a Repository"):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case strings.Contains(msg, "non-200 OK status code: 5"):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}
