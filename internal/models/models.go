package models

import (
	"time"
)

// Default values used when the tracker omits an optional field
const (
	DefaultAssignee = "Unassigned"
	DefaultPriority = "None"
)

// TimeLayout is the local wall-clock format used in report cells and
// comment headers
const TimeLayout = "2006-01-02 15:04:05"

// Issue represents a tracker issue as returned by a search
type Issue struct {
	Key       string
	Summary   string
	Assignee  string // empty when unassigned
	Status    string
	Priority  string // empty when the tracker has no priority
	UpdatedAt time.Time
	Labels    []string
	URL       string
}

// Comment represents a raw tracker comment before rendering.
// Timestamps are kept as the tracker sent them so that a malformed value
// only affects the one comment carrying it.
type Comment struct {
	Author       string
	UpdateAuthor string
	Created      string
	Updated      string
	// Body is the decoded rich-text tree, nil when the tracker sent none
	Body any
}

// RenderedComment is a comment formatted for the report
type RenderedComment struct {
	Text string `json:"text"`
	// HeaderStart and HeaderEnd delimit the author/timestamp header inside
	// Text, excluding the surrounding markers. Both are zero for error
	// placeholders.
	HeaderStart int `json:"header_start"`
	HeaderEnd   int `json:"header_end"`
	// Timestamp is the zero time when the comment could not be parsed
	Timestamp time.Time `json:"timestamp"`
}

// Segment locates one rendered comment inside a row's combined comment text
type Segment struct {
	Start       int
	End         int
	HeaderStart int
	HeaderEnd   int
	Timestamp   time.Time
}

// Row is one line of a report sheet
type Row struct {
	Key      string
	Summary  string
	Assignee string
	Status   string
	Priority string
	Updated  string
	Category string
	Gerrit   string
	Comments string
	// Remark is operator-owned and never written by the sync
	Remark string
	URL    string

	// Segments is only set for rows projected during the current run
	Segments []Segment
}

// SpanKind identifies the style applied to a span
type SpanKind string

const (
	SpanBold      SpanKind = "bold"
	SpanHighlight SpanKind = "highlight"
)

// Span is a styled byte range [Start, End) inside a cell's text
type Span struct {
	Kind  SpanKind
	Start int
	End   int
}

// Change records one column of an existing row that a merge overwrote
type Change struct {
	Key    string
	Column string
	Old    string
	New    string
}
