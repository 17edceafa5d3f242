package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newJiraTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *JiraClient) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts, NewJiraClientWithHTTP(ts.URL+"/", "alice@example.com", "secret", ts.Client())
}

func TestJiraSearchIssues(t *testing.T) {
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice@example.com" || pass != "secret" {
			t.Errorf("expected basic auth, got %q/%q (ok=%v)", user, pass, ok)
		}
		q := r.URL.Query()
		if got := q.Get("jql"); got != "project = X" {
			t.Errorf("expected jql 'project = X', got %q", got)
		}
		if got := q.Get("startAt"); got != "50" {
			t.Errorf("expected startAt 50, got %q", got)
		}
		if got := q.Get("maxResults"); got != "50" {
			t.Errorf("expected maxResults 50, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"startAt": 50, "maxResults": 50, "total": 52,
			"issues": [
				{"key": "X-1", "fields": {
					"summary": "Camera flicker",
					"assignee": {"displayName": "Bob"},
					"status": {"name": "In Progress"},
					"priority": {"name": "High"},
					"updated": "2024-03-01T10:20:30.000+0800",
					"labels": ["issue-category:sensor", "gerrit:1234"]
				}},
				{"key": "X-2", "fields": {
					"summary": "No owner",
					"assignee": null,
					"status": {"name": "Open"},
					"priority": null,
					"updated": "garbage",
					"labels": []
				}}
			]
		}`))
	})

	issues, err := client.SearchIssues(context.Background(), "project = X", 50, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}

	first := issues[0]
	if first.Key != "X-1" || first.Assignee != "Bob" || first.Status != "In Progress" || first.Priority != "High" {
		t.Errorf("unexpected first issue: %+v", first)
	}
	want := time.Date(2024, 3, 1, 2, 20, 30, 0, time.UTC)
	if !first.UpdatedAt.Equal(want) {
		t.Errorf("expected updated %v, got %v", want, first.UpdatedAt)
	}
	if len(first.Labels) != 2 || first.Labels[1] != "gerrit:1234" {
		t.Errorf("unexpected labels: %v", first.Labels)
	}
	if first.URL == "" || first.URL[len(first.URL)-len("/browse/X-1"):] != "/browse/X-1" {
		t.Errorf("unexpected browse URL %q", first.URL)
	}

	second := issues[1]
	if second.Assignee != "" || second.Priority != "" {
		t.Errorf("expected empty optional fields, got %+v", second)
	}
	if !second.UpdatedAt.IsZero() {
		t.Errorf("expected zero time for unparseable timestamp, got %v", second.UpdatedAt)
	}
}

func TestJiraFetchAll_ServerCapsMaxResults(t *testing.T) {
	const total, limit = 250, 40
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		startAt, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		maxResults, _ := strconv.Atoi(r.URL.Query().Get("maxResults"))
		maxResults = min(maxResults, limit)

		issues := []map[string]any{}
		for i := startAt; i < startAt+maxResults && i < total; i++ {
			issues = append(issues, map[string]any{
				"key":    fmt.Sprintf("X-%d", i+1),
				"fields": map[string]any{"summary": "s", "labels": []string{}},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"startAt": startAt, "maxResults": maxResults, "total": total, "issues": issues,
		})
	})

	issues, err := FetchAll(context.Background(), client, "project = X", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != total {
		t.Fatalf("expected %d issues, got %d", total, len(issues))
	}
	seen := make(map[string]bool, total)
	for _, issue := range issues {
		if seen[issue.Key] {
			t.Fatalf("issue %s fetched twice", issue.Key)
		}
		seen[issue.Key] = true
	}
}

func TestJiraGetComments(t *testing.T) {
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/issue/X-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"key": "X-1", "fields": {"comment": {"comments": [
			{"author": {"displayName": "Ann"}, "updateAuthor": {"displayName": "Ed"},
			 "created": "2024-03-01T10:00:00.000+0000", "updated": "2024-03-02T10:00:00.000+0000",
			 "body": {"type": "doc", "content": [{"type": "paragraph", "content": [{"type": "text", "text": "hi"}]}]}},
			{"created": "2024-03-03T10:00:00.000+0000"}
		]}}}`))
	})

	comments, err := client.GetComments(context.Background(), "X-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	if comments[0].Author != "Ann" || comments[0].UpdateAuthor != "Ed" {
		t.Errorf("unexpected authors: %+v", comments[0])
	}
	if comments[0].Updated != "2024-03-02T10:00:00.000+0000" {
		t.Errorf("unexpected updated: %q", comments[0].Updated)
	}
	if comments[0].Body == nil {
		t.Error("expected body to be decoded")
	}
	if comments[1].Author != "" || comments[1].Body != nil {
		t.Errorf("expected missing fields to stay empty, got %+v", comments[1])
	}
}

func TestJiraGetComments_NoCommentField(t *testing.T) {
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"key": "X-1", "fields": {}}`))
	})

	comments, err := client.GetComments(context.Background(), "X-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("expected no comments, got %d", len(comments))
	}
}

func TestJiraStatusError(t *testing.T) {
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errorMessages":["bad credentials"]}`))
	})

	_, err := client.SearchIssues(context.Background(), "project = X", 0, 50)
	if err == nil {
		t.Fatal("expected error")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", statusErr.StatusCode)
	}
}

func TestJiraRetriesOnRateLimit(t *testing.T) {
	calls := 0
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"issues": []}`))
	})

	issues, err := client.SearchIssues(context.Background(), "project = X", 0, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected empty page, got %d issues", len(issues))
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
}

func TestJiraRateLimitExhausted(t *testing.T) {
	calls := 0
	_, client := newJiraTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetComments(context.Background(), "X-1")
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected *RateLimitError, got %T: %v", err, err)
	}
	if calls != defaultRetries+1 {
		t.Errorf("expected %d requests, got %d", defaultRetries+1, calls)
	}
}

func TestNewJiraClient_BearerToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		w.Write([]byte(`{"issues": []}`))
	}))
	defer ts.Close()

	client := NewJiraClient(ts.URL, "ignored", "ignored", "tok")
	if _, err := client.SearchIssues(context.Background(), "project = X", 0, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2024-03-01T10:20:30.123+0800", false},
		{"2024-03-01T10:20:30Z", false},
		{"2024-03-01T10:20:30.5+02:00", false},
		{"2024-03-01 10:20:30", true},
		{"", true},
	}
	for _, tt := range tests {
		_, err := ParseTime(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTime(%q): err=%v, wantErr=%v", tt.in, err, tt.wantErr)
		}
	}
}
