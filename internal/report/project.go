package report

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// Label prefixes of the derived columns
const (
	CategoryPrefix = "issue-category:"
	GerritPrefix   = "gerrit:"
)

// CommentSeparator joins the rendered comments of a row
const CommentSeparator = "\n\n"

// MaxCellLength is the most bytes a text cell holds. Spreadsheets stop at
// 32,767 characters and rich text counts bytes, so longer text is cut here
// rather than by the sink.
const MaxCellLength = 32767

// Project maps an issue and its newest-first rendered comments to a row.
// It does no I/O.
func Project(issue models.Issue, comments []models.RenderedComment, loc *time.Location) models.Row {
	if loc == nil {
		loc = time.Local
	}

	assignee := issue.Assignee
	if assignee == "" {
		assignee = models.DefaultAssignee
	}
	priority := issue.Priority
	if priority == "" {
		priority = models.DefaultPriority
	}

	var updated string
	if !issue.UpdatedAt.IsZero() {
		updated = issue.UpdatedAt.In(loc).Format(models.TimeLayout)
	}

	text, segments := JoinComments(comments)
	text = TruncateCell(text)
	segments = clipSegments(segments, len(text))

	return models.Row{
		Key:      issue.Key,
		Summary:  TruncateCell(issue.Summary),
		Assignee: assignee,
		Status:   issue.Status,
		Priority: priority,
		Updated:  updated,
		Category: LabelField(issue.Labels, CategoryPrefix),
		Gerrit:   LabelField(issue.Labels, GerritPrefix),
		Comments: text,
		URL:      issue.URL,
		Segments: segments,
	}
}

// LabelField joins, in label order, the suffixes of the labels starting
// with prefix
func LabelField(labels []string, prefix string) string {
	var values []string
	for _, label := range labels {
		if v, ok := strings.CutPrefix(label, prefix); ok {
			values = append(values, v)
		}
	}
	return strings.Join(values, ",")
}

// JoinComments concatenates rendered comments with CommentSeparator and
// records where each one landed in the result
func JoinComments(comments []models.RenderedComment) (string, []models.Segment) {
	var b strings.Builder
	segments := make([]models.Segment, 0, len(comments))

	for i, c := range comments {
		if i > 0 {
			b.WriteString(CommentSeparator)
		}
		start := b.Len()
		b.WriteString(c.Text)
		segments = append(segments, models.Segment{
			Start:       start,
			End:         b.Len(),
			HeaderStart: start + c.HeaderStart,
			HeaderEnd:   start + c.HeaderEnd,
			Timestamp:   c.Timestamp,
		})
	}

	return b.String(), segments
}

// TruncateCell cuts s to at most MaxCellLength bytes on a rune boundary
func TruncateCell(s string) string {
	if len(s) <= MaxCellLength {
		return s
	}
	cut := MaxCellLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// clipSegments drops the segments whose header no longer fits in n bytes
// and shortens the last one that does
func clipSegments(segments []models.Segment, n int) []models.Segment {
	kept := segments[:0]
	for _, seg := range segments {
		if seg.HeaderEnd > n {
			break
		}
		seg.End = min(seg.End, n)
		kept = append(kept, seg)
	}
	return kept
}
