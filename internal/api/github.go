package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/weslintw/jira-issue-monitor/internal/models"
	"golang.org/x/oauth2"
)

// GitHubClient represents a client for the GitHub API, used as a tracker
// when issues live in GitHub rather than Jira. Issue keys have the form
// "owner/name#number".
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a new GitHub API client
func NewGitHubClient(token string) *GitHubClient {
	var tc *http.Client

	if token != "" {
		// Create an authenticated client if a token is provided
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(tc)
	return &GitHubClient{client: client}
}

// NewGitHubClientWithBaseURL creates a client talking to a GitHub Enterprise
// (or test) server
func NewGitHubClientWithBaseURL(token, baseURL string) (*GitHubClient, error) {
	c := NewGitHubClient(token)
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse GitHub base URL: %w", err)
	}
	c.client.BaseURL = u
	return c, nil
}

// SearchIssues runs a GitHub search query and returns one page of issues.
// GitHub paginates by page number, so startAt must be a multiple of maxResults.
func (c *GitHubClient) SearchIssues(ctx context.Context, query string, startAt, maxResults int) ([]models.Issue, error) {
	opts := &github.SearchOptions{
		Sort:  "updated",
		Order: "desc",
		ListOptions: github.ListOptions{
			PerPage: maxResults,
			Page:    startAt/maxResults + 1,
		},
	}

	result, _, err := c.client.Search.Issues(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search issues: %w", err)
	}

	issues := make([]models.Issue, 0, len(result.Issues))
	for _, issue := range result.Issues {
		converted, err := ConvertGitHubIssue(issue)
		if err != nil {
			return nil, err
		}
		issues = append(issues, converted)
	}
	return issues, nil
}

// GetComments gets all comments for an issue, oldest first
func (c *GitHubClient) GetComments(ctx context.Context, key string) ([]models.Comment, error) {
	owner, name, number, err := ParseGitHubKey(key)
	if err != nil {
		return nil, err
	}

	var allComments []models.Comment
	opts := &github.IssueListCommentsOptions{
		Sort:      github.String("created"),
		Direction: github.String("asc"),
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments for %s: %w", key, err)
		}

		for _, comment := range comments {
			allComments = append(allComments, ConvertGitHubComment(comment))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allComments, nil
}

// ConvertGitHubIssue converts a GitHub issue to our model
func ConvertGitHubIssue(issue *github.Issue) (models.Issue, error) {
	owner, name, err := repoFromURL(issue.GetRepositoryURL())
	if err != nil {
		return models.Issue{}, err
	}

	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.GetName())
	}

	var assignee string
	if issue.Assignee != nil {
		assignee = issue.Assignee.GetLogin()
	}

	return models.Issue{
		Key:       fmt.Sprintf("%s/%s#%d", owner, name, issue.GetNumber()),
		Summary:   issue.GetTitle(),
		Assignee:  assignee,
		Status:    issue.GetState(),
		UpdatedAt: issue.GetUpdatedAt().Time,
		Labels:    labels,
		URL:       issue.GetHTMLURL(),
	}, nil
}

// ConvertGitHubComment converts a GitHub comment to our model. GitHub has
// no separate update author, so the comment author is used for both.
func ConvertGitHubComment(comment *github.IssueComment) models.Comment {
	var author string
	if comment.User != nil {
		author = comment.User.GetLogin()
	}

	var created, updated string
	if comment.CreatedAt != nil {
		created = comment.CreatedAt.Time.Format(time.RFC3339)
	}
	if comment.UpdatedAt != nil {
		updated = comment.UpdatedAt.Time.Format(time.RFC3339)
	}

	var body any
	if comment.Body != nil {
		body = comment.GetBody()
	}

	return models.Comment{
		Author:       author,
		UpdateAuthor: author,
		Created:      created,
		Updated:      updated,
		Body:         body,
	}
}

// ParseGitHubKey parses an issue key in the format "owner/name#number"
func ParseGitHubKey(key string) (string, string, int, error) {
	repo, num, ok := strings.Cut(key, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("invalid issue key, expected 'owner/name#number', got '%s'", key)
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("invalid issue key, expected 'owner/name#number', got '%s'", key)
	}
	number, err := strconv.Atoi(num)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid issue number in key '%s': %w", key, err)
	}
	return parts[0], parts[1], number, nil
}

// repoFromURL extracts owner and name from an API repository URL such as
// https://api.github.com/repos/owner/name
func repoFromURL(u string) (string, string, error) {
	_, rest, ok := strings.Cut(u, "/repos/")
	if !ok {
		return "", "", fmt.Errorf("invalid repository URL '%s'", u)
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid repository URL '%s'", u)
	}
	return parts[0], parts[1], nil
}
