// Package comments resolves an issue's recent discussion into rendered,
// newest-first comment strings.
package comments

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/weslintw/jira-issue-monitor/internal/adf"
	"github.com/weslintw/jira-issue-monitor/internal/api"
	"github.com/weslintw/jira-issue-monitor/internal/models"
	"golang.org/x/sync/singleflight"
)

// TimestampField selects which comment timestamp (and matching author)
// labels a rendered comment
type TimestampField string

const (
	// FieldUpdated uses the last edit time and the editing author
	FieldUpdated TimestampField = "updated"
	// FieldCreated uses the creation time and the original author
	FieldCreated TimestampField = "created"
)

// ErrorMarker prefixes the placeholder rendered for a malformed comment
const ErrorMarker = "Error parsing comment: "

// Options configures a Resolver
type Options struct {
	// Count is the number of most recent comments kept; 0 keeps all
	Count    int
	Field    TimestampField
	Location *time.Location
}

// Resolver fetches and renders the recent comments of an issue. Results
// are memoized in its Cache; concurrent calls for the same key share a
// single fetch.
type Resolver struct {
	fetcher api.CommentFetcher
	cache   Cache
	opts    Options
	group   singleflight.Group
	fetches atomic.Int64
}

// NewResolver creates a resolver backed by fetcher and cache
func NewResolver(fetcher api.CommentFetcher, cache Cache, opts Options) *Resolver {
	if opts.Field == "" {
		opts.Field = FieldUpdated
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Resolver{
		fetcher: fetcher,
		cache:   cache,
		opts:    opts,
	}
}

// Fetches returns how many times the resolver went to the tracker
func (r *Resolver) Fetches() int64 {
	return r.fetches.Load()
}

// Resolve returns the rendered recent comments of an issue, newest first.
// A failure to fetch the issue is returned as is; a malformed individual
// comment is replaced by an error placeholder.
func (r *Resolver) Resolve(ctx context.Context, key string) ([]models.RenderedComment, error) {
	if cached, ok, err := r.cache.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		// Another caller may have filled the cache while we waited
		if cached, ok, err := r.cache.Get(ctx, key); err != nil {
			return nil, err
		} else if ok {
			return cached, nil
		}

		r.fetches.Add(1)
		raw, err := r.fetcher.GetComments(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to get comments for %s: %w", key, err)
		}

		rendered := r.render(key, Recent(raw, r.opts.Count))
		if err := r.cache.Set(ctx, key, rendered); err != nil {
			return nil, err
		}
		return rendered, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.RenderedComment), nil
}

// Recent returns the last count comments in reverse order, newest first.
// A count of zero or less keeps every comment.
func Recent(all []models.Comment, count int) []models.Comment {
	start := 0
	if count > 0 && len(all) > count {
		start = len(all) - count
	}

	recent := make([]models.Comment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		recent = append(recent, all[i])
	}
	return recent
}

func (r *Resolver) render(key string, comments []models.Comment) []models.RenderedComment {
	rendered := make([]models.RenderedComment, 0, len(comments))
	for _, c := range comments {
		rc, err := Render(c, r.opts.Field, r.opts.Location)
		if err != nil {
			slog.Warn("malformed comment", "issue", key, "error", err)
			rc = models.RenderedComment{Text: ErrorMarker + err.Error()}
		}
		rendered = append(rendered, rc)
	}
	return rendered
}

// Render formats one comment as "**[<timestamp>, <author>]**\n<body>"
func Render(c models.Comment, field TimestampField, loc *time.Location) (models.RenderedComment, error) {
	author, stamp := c.UpdateAuthor, c.Updated
	authorField := "updateAuthor"
	if field == FieldCreated {
		author, stamp = c.Author, c.Created
		authorField = "author"
	}

	if author == "" {
		return models.RenderedComment{}, fmt.Errorf("missing field %q", authorField)
	}
	if stamp == "" {
		return models.RenderedComment{}, fmt.Errorf("missing field %q", string(field))
	}
	if c.Body == nil {
		return models.RenderedComment{}, fmt.Errorf("missing field %q", "body")
	}

	ts, err := api.ParseTime(stamp)
	if err != nil {
		return models.RenderedComment{}, fmt.Errorf("field %q: %w", string(field), err)
	}
	local := ts.In(loc)

	header := "[" + local.Format(models.TimeLayout) + ", " + author + "]"
	return models.RenderedComment{
		Text:        "**" + header + "**\n" + adf.Flatten(c.Body),
		HeaderStart: 2,
		HeaderEnd:   2 + len(header),
		Timestamp:   local,
	}, nil
}
