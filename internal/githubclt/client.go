// Package githubclt provides the github API collaborator of the job
// processing core.
// All methods return a qerr.RetryableError when an operation can be
// retried, e.g. when the API ratelimit is exceeded.
package githubclt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/simplesurance/ghqueue/internal/logfields"
	"github.com/simplesurance/ghqueue/internal/qerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github api client authenticated with the given
// oauth API token.
func New(oauthAPIToken string) *Client {
	httpClient := newHTTPClient(oauthAPIToken)
	return &Client{
		restClt: github.NewClient(httpClient),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client scoped to one application
// installation.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// DashboardIssue identifies the open per-repository dashboard issue.
type DashboardIssue struct {
	Number int
	Body   string
}

// FindDashboardIssue returns the open issue whose title contains the
// word "dashboard", or nil when the repository has none.
func (clt *Client) FindDashboardIssue(ctx context.Context, owner, repo string) (*DashboardIssue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	issues, _, err := clt.restClt.Issues.ListByRepo(ctx, owner, repo, opts)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	for _, issue := range issues {
		for _, word := range strings.Fields(strings.ToLower(issue.GetTitle())) {
			if word == "dashboard" {
				return &DashboardIssue{
					Number: issue.GetNumber(),
					Body:   issue.GetBody(),
				}, nil
			}
		}
	}

	return nil, nil
}

// UpdateDashboardIssue replaces the body of the dashboard issue,
// creating the issue with the given title when it does not exist yet.
func (clt *Client) UpdateDashboardIssue(ctx context.Context, owner, repo, title, body string) error {
	issue, err := clt.FindDashboardIssue(ctx, owner, repo)
	if err != nil {
		return err
	}

	if issue == nil {
		_, _, err := clt.restClt.Issues.Create(ctx, owner, repo, &github.IssueRequest{
			Title: &title,
			Body:  &body,
		})

		return clt.wrapRetryableErrors(err)
	}

	_, _, err = clt.restClt.Issues.Edit(ctx, owner, repo, issue.Number, &github.IssueRequest{
		Body: &body,
	})

	return clt.wrapRetryableErrors(err)
}

// CreateIssueComment posts a comment on an issue or pull request.
func (clt *Client) CreateIssueComment(ctx context.Context, owner, repo string, issueNr int, body string) error {
	_, _, err := clt.restClt.Issues.CreateComment(
		ctx, owner, repo, issueNr,
		&github.IssueComment{Body: &body},
	)

	return clt.wrapRetryableErrors(err)
}

// WorkflowRun is the subset of a github workflow run the clean module
// needs.
type WorkflowRun struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// ListWorkflowRunsBefore returns workflow runs created before the
// given point in time.
func (clt *Client) ListWorkflowRunsBefore(ctx context.Context, owner, repo string, before time.Time) ([]*WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		Created:     "<" + before.UTC().Format("2006-01-02"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var result []*WorkflowRun

	for {
		runs, resp, err := clt.restClt.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
		if err != nil {
			return nil, clt.wrapRetryableErrors(err)
		}

		for _, run := range runs.WorkflowRuns {
			result = append(result, &WorkflowRun{
				ID:        run.GetID(),
				Name:      run.GetName(),
				CreatedAt: run.GetCreatedAt().Time,
			})
		}

		if resp.NextPage == 0 {
			return result, nil
		}

		opts.Page = resp.NextPage
	}
}

// DeleteWorkflowRun deletes a single workflow run.
func (clt *Client) DeleteWorkflowRun(ctx context.Context, owner, repo string, runID int64) error {
	_, err := clt.restClt.Actions.DeleteWorkflowRun(ctx, owner, repo, runID)
	return clt.wrapRetryableErrors(err)
}

var ErrPullRequestNotMergeable = errors.New("pull request is not mergeable")

// MergePullRequest merges the pull request with the given merge
// method. When github reports the PR as not mergeable,
// ErrPullRequestNotMergeable is returned.
func (clt *Client) MergePullRequest(ctx context.Context, owner, repo string, prNumber int, mergeMethod string) error {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, prNumber)
	if err != nil {
		return clt.wrapRetryableErrors(err)
	}

	if pr.GetState() == "closed" || (pr.Mergeable != nil && !pr.GetMergeable()) {
		return ErrPullRequestNotMergeable
	}

	_, _, err = clt.restClt.PullRequests.Merge(
		ctx, owner, repo, prNumber, "",
		&github.PullRequestOptions{MergeMethod: mergeMethod},
	)

	return clt.wrapRetryableErrors(err)
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return qerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return qerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}
