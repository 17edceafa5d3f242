package report

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// boundaryRe matches the first line of a rendered comment: either a
// "**[timestamp, author]**" header or an error placeholder
var boundaryRe = regexp.MustCompile(`(?m)^(?:\*\*\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}), [^\n]*\]\*\*$|Error parsing comment: )`)

// Annotate returns the bold and highlight spans of a row's comment cell.
// Each comment header is bolded; a comment whose timestamp is at most
// highlightDays whole days before now is highlighted in full. Rows without
// tracked segments (read back from a document) are segmented by parsing
// their text in loc.
func Annotate(row models.Row, now time.Time, highlightDays int, loc *time.Location) []models.Span {
	segments := row.Segments
	if segments == nil {
		segments = ParseSegments(row.Comments, loc)
	}

	var spans []models.Span
	for _, seg := range segments {
		if seg.HeaderEnd > seg.HeaderStart {
			spans = append(spans, models.Span{Kind: models.SpanBold, Start: seg.HeaderStart, End: seg.HeaderEnd})
		}
		if !seg.Timestamp.IsZero() && WithinDays(seg.Timestamp, now, highlightDays) {
			spans = append(spans, models.Span{Kind: models.SpanHighlight, Start: seg.Start, End: seg.End})
		}
	}
	return spans
}

// WithinDays reports whether ts is no more than days whole days before now.
// Timestamps in the future always qualify.
func WithinDays(ts, now time.Time, days int) bool {
	age := now.Sub(ts)
	return int(age/(24*time.Hour)) <= days
}

// ParseSegments recovers comment segments from combined comment text. A
// comment starts at the beginning of the text or right after a blank-line
// separator, with a header line or an error placeholder. Header timestamps
// that do not parse leave the segment without a timestamp.
func ParseSegments(text string, loc *time.Location) []models.Segment {
	if loc == nil {
		loc = time.Local
	}

	var segments []models.Segment
	for _, m := range boundaryRe.FindAllStringSubmatchIndex(text, -1) {
		start := m[0]
		if start != 0 && !strings.HasSuffix(text[:start], CommentSeparator) {
			continue
		}

		seg := models.Segment{Start: start}
		if m[2] >= 0 {
			// Header line: "**[" ... "]**"
			lineEnd := m[1]
			seg.HeaderStart = start + 2
			seg.HeaderEnd = lineEnd - 2
			if ts, err := time.ParseInLocation(models.TimeLayout, text[m[2]:m[3]], loc); err == nil {
				seg.Timestamp = ts
			}
		}

		if n := len(segments); n > 0 {
			segments[n-1].End = start - len(CommentSeparator)
		}
		segments = append(segments, seg)
	}

	if n := len(segments); n > 0 {
		segments[n-1].End = len(text)
	}
	return segments
}

// Run is a maximal piece of a cell's text sharing one style
type Run struct {
	Text      string
	Bold      bool
	Highlight bool
}

// Runs splits text into styled runs according to spans. Spans are clamped
// to the text; overlapping spans combine their styles.
func Runs(text string, spans []models.Span) []Run {
	if text == "" {
		return nil
	}

	cuts := []int{0, len(text)}
	for _, s := range spans {
		cuts = append(cuts, clamp(s.Start, len(text)), clamp(s.End, len(text)))
	}
	sort.Ints(cuts)

	var runs []Run
	for i := 0; i+1 < len(cuts); i++ {
		from, to := cuts[i], cuts[i+1]
		if from == to {
			continue
		}

		var bold, highlight bool
		for _, s := range spans {
			if s.Start <= from && to <= s.End {
				switch s.Kind {
				case models.SpanBold:
					bold = true
				case models.SpanHighlight:
					highlight = true
				}
			}
		}

		if n := len(runs); n > 0 && runs[n-1].Bold == bold && runs[n-1].Highlight == highlight {
			runs[n-1].Text += text[from:to]
			continue
		}
		runs = append(runs, Run{Text: text[from:to], Bold: bold, Highlight: highlight})
	}
	return runs
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
