// Package report turns tracker issues into report rows, merges them into a
// persisted document and computes the styling of the comment cells.
package report

import (
	"context"
	"errors"

	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// ErrSheetNotFound is returned by a Document asked about an unknown sheet
var ErrSheetNotFound = errors.New("sheet not found")

// Columns of a report sheet, in order
var Columns = []string{
	"Jira Ticket ID",
	"Summary",
	"PIC",
	"Status",
	"Priority",
	"Update Time",
	"Sensor Issue Category",
	"Gerrit ID",
	"Comments",
}

// RemarkColumn is appended to Columns when remarks are enabled
const RemarkColumn = "Remark"

// Column indexes (0-based) of the cells styled or linked by sinks
const (
	KeyColumn      = 0
	CommentsColumn = 8
	RemarkIndex    = 9
)

// Header describes the rows written above the data when a sheet is created
type Header struct {
	// Title is written on its own row above the column names
	Title   string
	Columns []string
}

// NewHeader builds the standard header for a sheet synced from query
func NewHeader(query string, remarks bool) Header {
	cols := append([]string(nil), Columns...)
	if remarks {
		cols = append(cols, RemarkColumn)
	}
	return Header{
		Title:   "JQL Query: " + query,
		Columns: cols,
	}
}

// Document is a persisted report made of named sheets. Row indexes are
// 0-based positions among a sheet's data rows. A Document never deletes
// rows or sheets, and WriteRow never touches the remark of a row.
type Document interface {
	HasSheet(ctx context.Context, sheet string) (bool, error)
	CreateSheet(ctx context.Context, sheet string, header Header) error
	ReadRows(ctx context.Context, sheet string) ([]models.Row, error)
	WriteRow(ctx context.Context, sheet string, index int, row models.Row) error
	AppendRow(ctx context.Context, sheet string, row models.Row) (int, error)
	ClearStyles(ctx context.Context, sheet string, index int) error
	ApplyBold(ctx context.Context, sheet string, index int, span models.Span) error
	ApplyHighlight(ctx context.Context, sheet string, index int, span models.Span) error
	Save(ctx context.Context) error
	Close() error
}

// Values returns the cells of row in Columns order
func Values(row models.Row) []string {
	return []string{
		row.Key,
		row.Summary,
		row.Assignee,
		row.Status,
		row.Priority,
		row.Updated,
		row.Category,
		row.Gerrit,
		row.Comments,
	}
}

// FromValues builds a row from cells in Columns order, optionally followed
// by the remark. Missing trailing cells are left empty.
func FromValues(cells []string) models.Row {
	get := func(i int) string {
		if i < len(cells) {
			return cells[i]
		}
		return ""
	}
	return models.Row{
		Key:      get(0),
		Summary:  get(1),
		Assignee: get(2),
		Status:   get(3),
		Priority: get(4),
		Updated:  get(5),
		Category: get(6),
		Gerrit:   get(7),
		Comments: get(8),
		Remark:   get(RemarkIndex),
	}
}
