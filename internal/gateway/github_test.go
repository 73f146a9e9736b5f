package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/naka-gawa/github-weekly/internal/domain"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	server := httptest.NewServer(handler)

	// Setup REST client to point to the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// Use NewEnterpriseClient to point the GraphQL client to our mock server's URL.
	graphqlClient := githubv4.NewEnterpriseClient(server.URL, server.Client())
	logger := log.New(io.Discard, "", 0)

	opts := PagerOptions{PageSize: 2, MaxRetries: 1, RetryInterval: time.Millisecond}
	return newGateway(restClient, graphqlClient, opts, logger), server
}

func TestGitHubGateway_ListCommits(t *testing.T) {
	testCases := []struct {
		name        string
		handlerFunc func(w http.ResponseWriter, r *http.Request)
		expected    []Commit
		expectError error
	}{
		{
			name: "happy path - follows pages until a short page",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/org/repo/commits", r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("per_page"))
				w.Header().Set("X-RateLimit-Limit", "5000")
				w.Header().Set("X-RateLimit-Remaining", "4990")
				switch r.URL.Query().Get("page") {
				case "1":
					fmt.Fprint(w, `[
						{"sha":"a1","commit":{"author":{"name":"Alice","email":"alice@example.com","date":"2025-12-22T10:00:00Z"}},"author":{"login":"alice"},"parents":[{"sha":"p"}]},
						{"sha":"m1","commit":{"author":{"name":"Bob","email":"bob@example.com","date":"2025-12-22T11:00:00Z"}},"parents":[{"sha":"p"},{"sha":"q"}]}
					]`)
				default:
					fmt.Fprint(w, `[{"sha":"b1","commit":{"author":{"name":"Bob","email":"bob@example.com","date":"2025-12-23T09:30:00Z"}},"parents":[{"sha":"a1"}]}]`)
				}
			},
			expected: []Commit{
				{SHA: "a1", Author: authorOf("alice", "alice@example.com", "Alice"), Date: time.Date(2025, 12, 22, 10, 0, 0, 0, time.UTC), Parents: 1},
				{SHA: "m1", Author: authorOf("", "bob@example.com", "Bob"), Date: time.Date(2025, 12, 22, 11, 0, 0, 0, time.UTC), Parents: 2},
				{SHA: "b1", Author: authorOf("", "bob@example.com", "Bob"), Date: time.Date(2025, 12, 23, 9, 30, 0, 0, time.UTC), Parents: 1},
			},
		},
		{
			name: "repository not found is a soft failure",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"message": "Not Found"}`)
			},
			expectError: ErrNotFound,
		},
		{
			name: "server errors are retried then reported",
			handlerFunc: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				fmt.Fprint(w, `{"message": "Bad Gateway"}`)
			},
			expectError: ErrTransient,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, server := setupTestGateway(t, http.HandlerFunc(tc.handlerFunc))
			defer server.Close()

			since := time.Date(2025, 12, 22, 0, 0, 0, 0, time.UTC)
			commits, err := gateway.ListCommits(context.Background(), "org", "repo", since, since.AddDate(0, 0, 7))
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, commits)
			assert.True(t, commits[1].IsMerge())
			assert.Equal(t, 4990, gateway.rest.Quota().Remaining)
		})
	}
}

func TestGitHubGateway_GetCommitDetail(t *testing.T) {
	testCases := []struct {
		name        string
		status      int
		body        string
		expected    *CommitStats
		expectError bool
	}{
		{
			name:     "happy path",
			status:   http.StatusOK,
			body:     `{"sha":"a1","stats":{"additions":120,"deletions":30,"total":150}}`,
			expected: &CommitStats{Additions: 120, Deletions: 30},
		},
		{
			name:     "missing commit counts no lines",
			status:   http.StatusNotFound,
			body:     `{"message": "No commit found for SHA: a1"}`,
			expected: nil,
		},
		{
			name:        "unauthorized is fatal",
			status:      http.StatusUnauthorized,
			body:        `{"message": "Bad credentials"}`,
			expectError: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/org/repo/commits/a1", r.URL.Path)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}
			gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			stats, err := gateway.GetCommitDetail(context.Background(), "org", "repo", "a1")
			if tc.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "failed to get commit a1 of org/repo")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, stats)
		})
	}
}

func TestGitHubGateway_ListPullRequests(t *testing.T) {
	since := time.Date(2025, 12, 22, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		name          string
		responses     []string
		expected      []int
		wantRequests  int
		wantRemaining int
		expectError   error
	}{
		{
			name: "stops at the first pull request updated before since",
			responses: []string{
				`{"data":{"rateLimit":{"limit":5000,"remaining":4000,"resetAt":"2025-12-24T13:00:00Z"},"repository":{"pullRequests":{"pageInfo":{"hasNextPage":true,"endCursor":"c1"},"nodes":[
					{"number":12,"createdAt":"2025-12-23T08:00:00Z","updatedAt":"2025-12-24T08:00:00Z","author":{"login":"alice"}},
					{"number":11,"createdAt":"2025-12-10T08:00:00Z","updatedAt":"2025-12-23T08:00:00Z","author":{"login":"bob"}}]}}}}`,
				`{"data":{"rateLimit":{"limit":5000,"remaining":3999,"resetAt":"2025-12-24T13:00:00Z"},"repository":{"pullRequests":{"pageInfo":{"hasNextPage":true,"endCursor":"c2"},"nodes":[
					{"number":10,"createdAt":"2025-12-21T08:00:00Z","updatedAt":"2025-12-22T09:00:00Z","author":{"login":"carol"}},
					{"number":9,"createdAt":"2025-11-01T08:00:00Z","updatedAt":"2025-12-01T08:00:00Z","author":{"login":"dave"}}]}}}}`,
			},
			expected:      []int{12, 11, 10},
			wantRequests:  2,
			wantRemaining: 3999,
		},
		{
			name: "last page without next page",
			responses: []string{
				`{"data":{"rateLimit":{"limit":5000,"remaining":4000,"resetAt":"2025-12-24T13:00:00Z"},"repository":{"pullRequests":{"pageInfo":{"hasNextPage":false,"endCursor":"c1"},"nodes":[
					{"number":3,"createdAt":"2025-12-22T08:00:00Z","updatedAt":"2025-12-22T08:00:00Z","author":null}]}}}}`,
			},
			expected:      []int{3},
			wantRequests:  1,
			wantRemaining: 4000,
		},
		{
			name: "unknown repository",
			responses: []string{
				`{"data":{"repository":null},"errors":[{"message":"Could not resolve to a Repository with the name 'org/gone'."}]}`,
			},
			wantRequests: 1,
			expectError:  ErrNotFound,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			requests := 0
			handler := func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				assert.Contains(t, string(body), "UPDATED_AT")
				require.Less(t, requests, len(tc.responses))
				w.WriteHeader(http.StatusOK)
				fmt.Fprint(w, tc.responses[requests])
				requests++
			}
			gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			prs, err := gateway.ListPullRequests(context.Background(), "org", "repo", since)
			assert.Equal(t, tc.wantRequests, requests)
			if tc.expectError != nil {
				assert.ErrorIs(t, err, tc.expectError)
				return
			}
			require.NoError(t, err)
			numbers := make([]int, len(prs))
			for i, pr := range prs {
				numbers[i] = pr.Number
			}
			assert.Equal(t, tc.expected, numbers)
			assert.Equal(t, tc.wantRemaining, gateway.graphql.Quota().Remaining)
		})
	}
}

func TestGitHubGateway_PullRequestActivity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/org/repo/pulls/7/reviews", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"user":{"login":"bob"},"state":"APPROVED","submitted_at":"2025-12-23T10:00:00Z"}]`)
	})
	mux.HandleFunc("/repos/org/repo/pulls/7/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"user":{"login":"carol"},"created_at":"2025-12-23T11:00:00Z"},{"user":{"login":"carol"},"created_at":"2025-12-24T11:00:00Z"}]`)
	})
	mux.HandleFunc("/repos/org/repo/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"user":null,"created_at":"2025-12-25T11:00:00Z"}]`)
	})
	gateway, server := setupTestGateway(t, mux)
	defer server.Close()
	ctx := context.Background()

	reviews, err := gateway.ListReviews(ctx, "org", "repo", 7)
	require.NoError(t, err)
	assert.Equal(t, []Review{{Reviewer: "bob", State: "APPROVED", SubmittedAt: time.Date(2025, 12, 23, 10, 0, 0, 0, time.UTC)}}, reviews)

	comments, err := gateway.ListReviewComments(ctx, "org", "repo", 7)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "carol", comments[1].Author)

	discussion, err := gateway.ListDiscussionComments(ctx, "org", "repo", 7)
	require.NoError(t, err)
	assert.Equal(t, []Comment{{Author: "unknown", CreatedAt: time.Date(2025, 12, 25, 11, 0, 0, 0, time.UTC)}}, discussion)
}

func TestGitHubGateway_Quota(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rate_limit", r.URL.Path)
		fmt.Fprint(w, `{"resources":{"core":{"limit":5000,"remaining":42,"reset":1766581200}}}`)
	}
	gateway, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	q, err := gateway.Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, q.Remaining)
	assert.Equal(t, 5000, q.Limit)
	assert.Equal(t, time.Unix(1766581200, 0).UTC(), q.Reset.UTC())
	assert.Equal(t, q, gateway.rest.Quota())
}

func TestClassifyError(t *testing.T) {
	reset := time.Date(2025, 12, 24, 13, 0, 0, 0, time.UTC)
	response := func(code int) *http.Response {
		return &http.Response{StatusCode: code, Request: &http.Request{Method: http.MethodGet, URL: &url.URL{}}}
	}
	testCases := []struct {
		name   string
		err    error
		target error
	}{
		{name: "not found", err: &github.ErrorResponse{Response: response(http.StatusNotFound)}, target: ErrNotFound},
		{name: "server error", err: &github.ErrorResponse{Response: response(http.StatusServiceUnavailable)}, target: ErrTransient},
		{name: "secondary limit", err: &github.AbuseRateLimitError{Response: response(http.StatusForbidden)}, target: ErrTransient},
		{name: "network", err: &url.Error{Op: "Get", URL: "https://api.github.com", Err: errors.New("connection reset")}, target: ErrTransient},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyError(tc.err), tc.target)
		})
	}

	t.Run("primary limit", func(t *testing.T) {
		err := classifyError(&github.RateLimitError{
			Rate:     github.Rate{Limit: 5000, Remaining: 0, Reset: github.Timestamp{Time: reset}},
			Response: response(http.StatusForbidden),
		})
		var qe *QuotaExceededError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, reset, qe.Quota.Reset)
	})

	t.Run("client errors pass through", func(t *testing.T) {
		err := classifyError(&github.ErrorResponse{Response: response(http.StatusUnprocessableEntity)})
		assert.NotErrorIs(t, err, ErrTransient)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func authorOf(login, email, name string) domain.Author {
	return domain.Author{Login: login, Email: email, Name: name}
}
