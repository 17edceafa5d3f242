package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/weslintw/jira-issue-monitor/internal/models"
	"golang.org/x/oauth2"
)

const (
	jiraUserAgent    = "jira-issue-monitor/1.0"
	jiraSearchFields = "summary,assignee,status,priority,updated,labels"
	defaultRetries   = 3
)

// JiraClient is a client for the Jira Cloud REST API (v3)
type JiraClient struct {
	baseURL    string
	username   string
	apiToken   string
	httpClient *http.Client
	maxRetries int
}

// NewJiraClient creates a Jira client. A non-empty bearerToken takes
// precedence over basic authentication with username and apiToken.
func NewJiraClient(baseURL, username, apiToken, bearerToken string) *JiraClient {
	var hc *http.Client
	if bearerToken != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: bearerToken},
		)
		hc = oauth2.NewClient(context.Background(), ts)
		// oauth2 already authenticates every request
		username, apiToken = "", ""
	} else {
		hc = &http.Client{}
	}

	return NewJiraClientWithHTTP(baseURL, username, apiToken, hc)
}

// NewJiraClientWithHTTP creates a Jira client on top of a custom http.Client
func NewJiraClientWithHTTP(baseURL, username, apiToken string, httpClient *http.Client) *JiraClient {
	return &JiraClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiToken:   apiToken,
		httpClient: httpClient,
		maxRetries: defaultRetries,
	}
}

// BrowseURL returns the web URL of an issue
func (c *JiraClient) BrowseURL(key string) string {
	return c.baseURL + "/browse/" + key
}

type jiraUser struct {
	DisplayName string `json:"displayName"`
}

type jiraNamed struct {
	Name string `json:"name"`
}

type jiraComment struct {
	Author       *jiraUser `json:"author"`
	UpdateAuthor *jiraUser `json:"updateAuthor"`
	Created      string    `json:"created"`
	Updated      string    `json:"updated"`
	Body         any       `json:"body"`
}

type jiraIssue struct {
	Key    string `json:"key"`
	Fields struct {
		Summary  string     `json:"summary"`
		Assignee *jiraUser  `json:"assignee"`
		Status   *jiraNamed `json:"status"`
		Priority *jiraNamed `json:"priority"`
		Updated  string     `json:"updated"`
		Labels   []string   `json:"labels"`
		Comment  *struct {
			Comments []jiraComment `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

type jiraSearchResponse struct {
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
	Total      int         `json:"total"`
	Issues     []jiraIssue `json:"issues"`
}

func (c *JiraClient) newRequest(ctx context.Context, method, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", jiraUserAgent)
	if c.username != "" || c.apiToken != "" {
		req.SetBasicAuth(c.username, c.apiToken)
	}

	return req, nil
}

// getJSON issues a GET request and decodes a 200 response into v.
// Throttled requests are retried honoring Retry-After.
func (c *JiraClient) getJSON(ctx context.Context, op, u string, v any) error {
	for attempt := 0; ; attempt++ {
		req, err := c.newRequest(ctx, http.MethodGet, u)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if attempt >= c.maxRetries {
				return &RateLimitError{Op: op, RetryAfter: wait, ResetTime: time.Now().Add(wait)}
			}

			slog.Warn("jira rate limit hit, backing off", "op", op, "wait", wait, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
		}

		err = json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}
}

// retryAfter parses a Retry-After header given in seconds, falling back to
// a linear backoff when the header is absent or invalid.
func retryAfter(header string, attempt int) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(attempt+1) * time.Second
}

// SearchIssues returns one page of issues matching a JQL query
func (c *JiraClient) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) ([]models.Issue, error) {
	params := url.Values{}
	params.Set("jql", jql)
	params.Set("startAt", strconv.Itoa(startAt))
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("fields", jiraSearchFields)
	u := c.baseURL + "/rest/api/3/search?" + params.Encode()

	var result jiraSearchResponse
	if err := c.getJSON(ctx, "search issues", u, &result); err != nil {
		return nil, err
	}

	issues := make([]models.Issue, 0, len(result.Issues))
	for _, ji := range result.Issues {
		issues = append(issues, c.convertIssue(ji))
	}
	return issues, nil
}

// GetComments returns every comment of an issue, oldest first
func (c *JiraClient) GetComments(ctx context.Context, key string) ([]models.Comment, error) {
	u := c.baseURL + "/rest/api/3/issue/" + url.PathEscape(key) + "?fields=comment"

	var ji jiraIssue
	if err := c.getJSON(ctx, "get issue "+key, u, &ji); err != nil {
		return nil, err
	}

	if ji.Fields.Comment == nil {
		return nil, nil
	}

	comments := make([]models.Comment, 0, len(ji.Fields.Comment.Comments))
	for _, jc := range ji.Fields.Comment.Comments {
		comments = append(comments, convertJiraComment(jc))
	}
	return comments, nil
}

// convertIssue converts a Jira search hit to our model
func (c *JiraClient) convertIssue(ji jiraIssue) models.Issue {
	issue := models.Issue{
		Key:     ji.Key,
		Summary: ji.Fields.Summary,
		Labels:  ji.Fields.Labels,
		URL:     c.BrowseURL(ji.Key),
	}
	if ji.Fields.Assignee != nil {
		issue.Assignee = ji.Fields.Assignee.DisplayName
	}
	if ji.Fields.Status != nil {
		issue.Status = ji.Fields.Status.Name
	}
	if ji.Fields.Priority != nil {
		issue.Priority = ji.Fields.Priority.Name
	}
	if ji.Fields.Updated != "" {
		updated, err := ParseTime(ji.Fields.Updated)
		if err != nil {
			slog.Warn("ignoring unparseable issue timestamp", "issue", ji.Key, "error", err)
		} else {
			issue.UpdatedAt = updated
		}
	}
	return issue
}

func convertJiraComment(jc jiraComment) models.Comment {
	comment := models.Comment{
		Created: jc.Created,
		Updated: jc.Updated,
		Body:    jc.Body,
	}
	if jc.Author != nil {
		comment.Author = jc.Author.DisplayName
	}
	if jc.UpdateAuthor != nil {
		comment.UpdateAuthor = jc.UpdateAuthor.DisplayName
	}
	return comment
}
