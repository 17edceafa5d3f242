package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/weslintw/jira-issue-monitor/internal/api"
	"github.com/weslintw/jira-issue-monitor/internal/comments"
	"github.com/weslintw/jira-issue-monitor/internal/models"
	"github.com/weslintw/jira-issue-monitor/internal/report"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of issues whose comments are resolved at once
const DefaultWorkers = 20

// progressInterval limits how often progress is logged
const progressInterval = 5 * time.Second

// Query is one named query synced into the sheet of the same name
type Query struct {
	Sheet string
	Query string
	// Filter drops projected rows before the merge; nil keeps all
	Filter *report.Filter
}

// Options controls a Syncer
type Options struct {
	PageSize      int
	Workers       int
	HighlightDays int
	// Remarks adds the remark column to sheets created by the sync
	Remarks bool
	// DryRun computes the merge without touching the document
	DryRun   bool
	Location *time.Location
	// Now is the reference time of the highlight window
	Now func() time.Time
}

// Result summarizes the sync of one sheet. LastSync is zero when the sheet
// was never synced or the document does not record sync times.
type Result struct {
	Sheet     string
	Query     string
	Fetched   int
	Filtered  int
	Created   bool
	Updated   int
	Appended  int
	Unchanged int
	Retained  int
	Changes   []models.Change
	LastSync  time.Time
	Duration  time.Duration
}

// syncRecorder is implemented by documents that remember when a sheet was
// last synced
type syncRecorder interface {
	GetLastSyncTime(ctx context.Context, sheet string) (time.Time, error)
	UpdateLastSyncTime(ctx context.Context, sheet string, syncTime time.Time) error
}

// Syncer pulls issues for each query and merges them into a report document
type Syncer struct {
	searcher api.Searcher
	resolver *comments.Resolver
	doc      report.Document
	opts     Options
}

// New creates a new syncer
func New(searcher api.Searcher, resolver *comments.Resolver, doc report.Document, opts Options) *Syncer {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.PageSize < 1 {
		opts.PageSize = 50
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		searcher: searcher,
		resolver: resolver,
		doc:      doc,
		opts:     opts,
	}
}

// SyncAll syncs every query in order and saves the document once at the
// end. The first failing sheet aborts the run and nothing is saved.
func (s *Syncer) SyncAll(ctx context.Context, queries []Query) ([]*Result, error) {
	results := make([]*Result, 0, len(queries))
	for _, q := range queries {
		res, err := s.SyncSheet(ctx, q)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	if s.opts.DryRun {
		return results, nil
	}
	if err := s.doc.Save(ctx); err != nil {
		return results, fmt.Errorf("failed to save report: %w", err)
	}
	return results, nil
}

// SyncSheet fetches the issues of one query, resolves their comments and
// merges the resulting rows into the query's sheet. The document is only
// modified once every issue has been resolved. It does not save the
// document.
func (s *Syncer) SyncSheet(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	res, err := s.syncSheet(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to sync sheet %s (query %q): %w", q.Sheet, q.Query, err)
	}
	res.Duration = time.Since(start)

	slog.Info("Synced sheet",
		"sheet", q.Sheet,
		"issues", res.Fetched,
		"updated", res.Updated,
		"appended", res.Appended,
		"unchanged", res.Unchanged,
		"took", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (s *Syncer) syncSheet(ctx context.Context, q Query) (*Result, error) {
	res := &Result{Sheet: q.Sheet, Query: q.Query}

	if rec, ok := s.doc.(syncRecorder); ok {
		last, err := rec.GetLastSyncTime(ctx, q.Sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to get last sync time: %w", err)
		}
		res.LastSync = last
		if !last.IsZero() {
			slog.Info("Last synced", "sheet", q.Sheet, "at", last.In(s.opts.Location).Format(models.TimeLayout))
		}
	}

	slog.Info("Fetching issues", "sheet", q.Sheet, "query", q.Query)
	issues, err := api.FetchAll(ctx, s.searcher, q.Query, s.opts.PageSize)
	if err != nil {
		return nil, err
	}
	res.Fetched = len(issues)
	slog.Info("Found issues", "sheet", q.Sheet, "count", humanize.Comma(int64(len(issues))))

	resolved, err := s.resolveAll(ctx, q.Sheet, issues)
	if err != nil {
		return nil, err
	}

	fresh := make([]models.Row, 0, len(issues))
	for _, issue := range issues {
		row := report.Project(issue, resolved[issue.Key], s.opts.Location)
		keep, err := q.Filter.Match(row)
		if err != nil {
			return nil, err
		}
		if !keep {
			res.Filtered++
			continue
		}
		fresh = append(fresh, row)
	}

	exists, err := s.doc.HasSheet(ctx, q.Sheet)
	if err != nil {
		return nil, err
	}
	var existing []models.Row
	if exists {
		existing, err = s.doc.ReadRows(ctx, q.Sheet)
		if err != nil {
			return nil, err
		}
	}

	plan := report.Merge(existing, fresh)
	res.Updated, res.Appended, res.Unchanged = plan.Counts()
	res.Retained = plan.Retained()
	for _, op := range plan.Ops {
		res.Changes = append(res.Changes, op.Changes...)
	}

	if s.opts.DryRun {
		res.Created = !exists
		return res, nil
	}

	if !exists {
		if err := s.doc.CreateSheet(ctx, q.Sheet, report.NewHeader(q.Query, s.opts.Remarks)); err != nil {
			return nil, err
		}
		res.Created = true
	}

	if err := s.apply(ctx, q.Sheet, plan); err != nil {
		return nil, err
	}

	if rec, ok := s.doc.(syncRecorder); ok {
		if err := rec.UpdateLastSyncTime(ctx, q.Sheet, s.opts.Now()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

type resolvedIssue struct {
	issue    models.Issue
	comments []models.RenderedComment
}

// resolveAll resolves the comments of every issue with a bounded worker
// pool. Results are consumed as they complete; the first error cancels the
// remaining work.
func (s *Syncer) resolveAll(ctx context.Context, sheet string, issues []models.Issue) (map[string][]models.RenderedComment, error) {
	total := len(issues)
	byKey := make(map[string][]models.RenderedComment, total)
	if total == 0 {
		return byKey, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	results := make(chan resolvedIssue, total)
	done := make(chan error, 1)

	go func() {
		for _, issue := range issues {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				rendered, err := s.resolver.Resolve(gctx, issue.Key)
				if err != nil {
					return err
				}
				results <- resolvedIssue{issue: issue, comments: rendered}
				return nil
			})
		}
		done <- g.Wait()
		close(results)
	}()

	processed := 0
	lastProgress := time.Now()
	for r := range results {
		byKey[r.issue.Key] = r.comments
		processed++

		if processed == 1 || processed == total || time.Since(lastProgress) >= progressInterval {
			slog.Info(fmt.Sprintf("Processed %d/%d issues (%.1f%%)",
				processed, total, float64(processed)/float64(total)*100.0), "sheet", sheet)
			lastProgress = time.Now()
		}
	}

	if err := <-done; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if processed != total {
		return nil, errors.New("comment resolution stopped early")
	}
	return byKey, nil
}

// apply writes the merge plan to the document and restyles the comment
// cells of every row in the sheet
func (s *Syncer) apply(ctx context.Context, sheet string, plan report.Plan) error {
	now := s.opts.Now()
	touched := make(map[int]bool, len(plan.Ops))

	for _, op := range plan.Ops {
		index := op.Index
		switch op.Kind {
		case report.OpAppend:
			i, err := s.doc.AppendRow(ctx, sheet, op.Row)
			if err != nil {
				return fmt.Errorf("failed to append %s: %w", op.Row.Key, err)
			}
			index = i
		case report.OpUpdate:
			if err := s.doc.WriteRow(ctx, sheet, op.Index, op.Row); err != nil {
				return fmt.Errorf("failed to update %s: %w", op.Row.Key, err)
			}
		}
		touched[index] = true

		if err := s.style(ctx, sheet, index, op.Row, now); err != nil {
			return err
		}
	}

	// Rows no longer returned by the query keep their content, but their
	// highlight still follows the current date
	for i, row := range plan.Rows {
		if touched[i] {
			continue
		}
		if err := s.style(ctx, sheet, i, row, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) style(ctx context.Context, sheet string, index int, row models.Row, now time.Time) error {
	if err := s.doc.ClearStyles(ctx, sheet, index); err != nil {
		return fmt.Errorf("failed to clear styles of %s: %w", row.Key, err)
	}

	for _, span := range report.Annotate(row, now, s.opts.HighlightDays, s.opts.Location) {
		var err error
		switch span.Kind {
		case models.SpanBold:
			err = s.doc.ApplyBold(ctx, sheet, index, span)
		case models.SpanHighlight:
			err = s.doc.ApplyHighlight(ctx, sheet, index, span)
		}
		if err != nil {
			return fmt.Errorf("failed to style comments of %s: %w", row.Key, err)
		}
	}
	return nil
}
