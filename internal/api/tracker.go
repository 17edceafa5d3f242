package api

import (
	"context"
	"fmt"
	"time"

	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// Searcher runs a saved query against the tracker one page at a time
type Searcher interface {
	SearchIssues(ctx context.Context, query string, startAt, maxResults int) ([]models.Issue, error)
}

// CommentFetcher returns the full comment collection of one issue, oldest first
type CommentFetcher interface {
	GetComments(ctx context.Context, key string) ([]models.Comment, error)
}

// Tracker is everything the sync needs from a remote issue tracker
type Tracker interface {
	Searcher
	CommentFetcher
}

// MaxPageSize is the largest page Jira Cloud and GitHub search will serve.
// Larger requests are silently capped by the server.
const MaxPageSize = 100

// FetchAll collects every issue matching query by requesting pages of
// pageSize issues until a page comes back empty. The next offset is the
// number of issues received so far, so a server returning shorter pages
// than requested skips nothing. Any page failure aborts the whole fetch.
func FetchAll(ctx context.Context, s Searcher, query string, pageSize int) ([]models.Issue, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	pageSize = min(pageSize, MaxPageSize)

	var all []models.Issue
	for {
		startAt := len(all)
		page, err := s.SearchIssues(ctx, query, startAt, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch issues at offset %d: %w", startAt, err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
	}

	return all, nil
}

// timeLayouts are the timestamp formats trackers are known to send
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700", // Jira
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTime parses a fixed-offset tracker timestamp
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
