// Package xlsx stores report sheets in an Excel workbook.
//
// Each sheet has a merged title row, a header row and then one data row
// per issue. Comment cells are written as plain text and restyled as rich
// text when the workbook is saved.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/weslintw/jira-issue-monitor/internal/models"
	"github.com/weslintw/jira-issue-monitor/internal/report"
	"github.com/xuri/excelize/v2"
)

// Physical layout of a sheet
const (
	titleRow     = 1
	headerRow    = 2
	firstDataRow = 3
)

const (
	defaultSheet = "Sheet1"
	fontFamily   = "Calibri"
	fontSize     = 11
	headerFill   = "FFFF00"

	// DefaultHighlightColor is the font color of recent comments
	DefaultHighlightColor = "0000FF"
)

// Column widths; columns not listed use defaultWidth
const defaultWidth = 15

var columnWidths = map[int]float64{
	report.KeyColumn:      18,
	1:                     50, // Summary
	report.CommentsColumn: 100,
	report.RemarkIndex:    30,
}

type cellRef struct {
	sheet string
	index int
}

// Workbook is a report.Document backed by an .xlsx file
type Workbook struct {
	path           string
	file           *excelize.File
	fresh          bool
	highlightColor string

	created map[string]bool
	lengths map[string]int
	spans   map[cellRef][]models.Span

	dataStyle   int
	titleStyle  int
	headerStyle int
}

var _ report.Document = (*Workbook)(nil)

// Open loads the workbook at path, or starts a new one if the file does
// not exist yet. Nothing is written to disk before Save.
func Open(path, highlightColor string) (*Workbook, error) {
	if highlightColor == "" {
		highlightColor = DefaultHighlightColor
	}

	wb := &Workbook{
		path:           path,
		highlightColor: highlightColor,
		created:        make(map[string]bool),
		lengths:        make(map[string]int),
		spans:          make(map[cellRef][]models.Span),
	}

	f, err := excelize.OpenFile(path)
	switch {
	case err == nil:
		wb.file = f
	case errors.Is(err, os.ErrNotExist):
		wb.file = excelize.NewFile()
		wb.fresh = true
	default:
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}

	if err := wb.initStyles(); err != nil {
		wb.file.Close()
		return nil, err
	}
	return wb, nil
}

func (wb *Workbook) initStyles() error {
	font := &excelize.Font{Family: fontFamily, Size: fontSize}
	boldFont := &excelize.Font{Family: fontFamily, Size: fontSize, Bold: true}
	borders := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	yellow := excelize.Fill{Type: "pattern", Color: []string{headerFill}, Pattern: 1}

	var err error
	wb.dataStyle, err = wb.file.NewStyle(&excelize.Style{
		Font:      font,
		Border:    borders,
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("failed to create data style: %w", err)
	}
	wb.titleStyle, err = wb.file.NewStyle(&excelize.Style{
		Font:      boldFont,
		Fill:      yellow,
		Alignment: &excelize.Alignment{Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create title style: %w", err)
	}
	wb.headerStyle, err = wb.file.NewStyle(&excelize.Style{
		Font:      boldFont,
		Fill:      yellow,
		Border:    borders,
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	return nil
}

// Path returns where the workbook is saved
func (wb *Workbook) Path() string {
	return wb.path
}

// HasSheet reports whether the workbook has a sheet
func (wb *Workbook) HasSheet(ctx context.Context, sheet string) (bool, error) {
	idx, err := wb.file.GetSheetIndex(sheet)
	if err != nil {
		return false, fmt.Errorf("failed to look up sheet %s: %w", sheet, err)
	}
	return idx >= 0, nil
}

// CreateSheet adds a sheet with its title and header rows
func (wb *Workbook) CreateSheet(ctx context.Context, sheet string, header report.Header) error {
	if ok, err := wb.HasSheet(ctx, sheet); err != nil {
		return err
	} else if ok {
		return nil
	}

	if _, err := wb.file.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	wb.created[sheet] = true
	wb.lengths[sheet] = 0

	last, err := excelize.ColumnNumberToName(len(header.Columns))
	if err != nil {
		return err
	}

	title := cell(1, titleRow)
	if err := wb.file.SetCellValue(sheet, title, header.Title); err != nil {
		return fmt.Errorf("failed to write title of %s: %w", sheet, err)
	}
	if err := wb.file.MergeCell(sheet, title, fmt.Sprintf("%s%d", last, titleRow)); err != nil {
		return fmt.Errorf("failed to merge title of %s: %w", sheet, err)
	}
	if err := wb.file.SetCellStyle(sheet, title, fmt.Sprintf("%s%d", last, titleRow), wb.titleStyle); err != nil {
		return err
	}

	for i, name := range header.Columns {
		if err := wb.file.SetCellValue(sheet, cell(i+1, headerRow), name); err != nil {
			return fmt.Errorf("failed to write header of %s: %w", sheet, err)
		}
	}
	if err := wb.file.SetCellStyle(sheet, cell(1, headerRow), fmt.Sprintf("%s%d", last, headerRow), wb.headerStyle); err != nil {
		return err
	}

	for i := range header.Columns {
		width, ok := columnWidths[i]
		if !ok {
			width = defaultWidth
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := wb.file.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to size column %s of %s: %w", col, sheet, err)
		}
	}

	return nil
}

// ReadRows returns the data rows of a sheet. The issue URL is taken from
// the key cell's hyperlink.
func (wb *Workbook) ReadRows(ctx context.Context, sheet string) ([]models.Row, error) {
	if ok, err := wb.HasSheet(ctx, sheet); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%s: %w", sheet, report.ErrSheetNotFound)
	}

	cells, err := wb.file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", sheet, err)
	}

	var rows []models.Row
	for i := firstDataRow - 1; i < len(cells); i++ {
		row := report.FromValues(cells[i])
		if ok, link, err := wb.file.GetCellHyperLink(sheet, cell(report.KeyColumn+1, i+1)); err == nil && ok {
			row.URL = link
		}
		rows = append(rows, row)
	}
	wb.lengths[sheet] = len(rows)

	return rows, nil
}

// WriteRow writes the report columns of row at index. The remark cell is
// left alone.
func (wb *Workbook) WriteRow(ctx context.Context, sheet string, index int, row models.Row) error {
	r := index + firstDataRow
	for i, v := range report.Values(row) {
		if err := wb.file.SetCellValue(sheet, cell(i+1, r), v); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", index, sheet, err)
		}
	}

	last := len(report.Columns)
	if wb.hasRemarks(sheet) {
		last++
	}
	lastCell := cell(last, r)
	if err := wb.file.SetCellStyle(sheet, cell(1, r), lastCell, wb.dataStyle); err != nil {
		return fmt.Errorf("failed to style row %d of %s: %w", index, sheet, err)
	}

	if row.URL != "" {
		if err := wb.file.SetCellHyperLink(sheet, cell(report.KeyColumn+1, r), row.URL, "External"); err != nil {
			return fmt.Errorf("failed to link %s: %w", row.Key, err)
		}
	}

	if n, ok := wb.lengths[sheet]; !ok || index >= n {
		wb.lengths[sheet] = index + 1
	}
	return nil
}

// AppendRow writes row after the last data row, remark included
func (wb *Workbook) AppendRow(ctx context.Context, sheet string, row models.Row) (int, error) {
	n, ok := wb.lengths[sheet]
	if !ok {
		rows, err := wb.ReadRows(ctx, sheet)
		if err != nil {
			return 0, err
		}
		n = len(rows)
	}

	if err := wb.WriteRow(ctx, sheet, n, row); err != nil {
		return 0, err
	}
	if row.Remark != "" {
		if err := wb.file.SetCellValue(sheet, cell(report.RemarkIndex+1, n+firstDataRow), row.Remark); err != nil {
			return 0, fmt.Errorf("failed to write remark of %s: %w", row.Key, err)
		}
	}
	return n, nil
}

// ClearStyles drops the pending spans of a row's comment cell and rewrites
// it as plain text
func (wb *Workbook) ClearStyles(ctx context.Context, sheet string, index int) error {
	delete(wb.spans, cellRef{sheet, index})

	ref := cell(report.CommentsColumn+1, index+firstDataRow)
	text, err := wb.file.GetCellValue(sheet, ref)
	if err != nil {
		return fmt.Errorf("failed to read comments of row %d of %s: %w", index, sheet, err)
	}
	if err := wb.file.SetCellValue(sheet, ref, text); err != nil {
		return fmt.Errorf("failed to reset comments of row %d of %s: %w", index, sheet, err)
	}
	return nil
}

// ApplyBold bolds a byte range of a row's comment cell
func (wb *Workbook) ApplyBold(ctx context.Context, sheet string, index int, span models.Span) error {
	span.Kind = models.SpanBold
	wb.addSpan(sheet, index, span)
	return nil
}

// ApplyHighlight colors a byte range of a row's comment cell
func (wb *Workbook) ApplyHighlight(ctx context.Context, sheet string, index int, span models.Span) error {
	span.Kind = models.SpanHighlight
	wb.addSpan(sheet, index, span)
	return nil
}

func (wb *Workbook) addSpan(sheet string, index int, span models.Span) {
	ref := cellRef{sheet, index}
	wb.spans[ref] = append(wb.spans[ref], span)
}

// Save renders the pending comment styling and writes the workbook to disk
func (wb *Workbook) Save(ctx context.Context) error {
	refs := make([]cellRef, 0, len(wb.spans))
	for ref := range wb.spans {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].sheet != refs[j].sheet {
			return refs[i].sheet < refs[j].sheet
		}
		return refs[i].index < refs[j].index
	})

	for _, ref := range refs {
		if err := wb.renderComments(ref, wb.spans[ref]); err != nil {
			return err
		}
	}
	wb.spans = make(map[cellRef][]models.Span)

	if wb.fresh && !wb.created[defaultSheet] && len(wb.file.GetSheetList()) > 1 {
		if err := wb.file.DeleteSheet(defaultSheet); err != nil {
			return fmt.Errorf("failed to remove %s: %w", defaultSheet, err)
		}
		wb.fresh = false
	}

	if err := wb.file.SaveAs(wb.path); err != nil {
		return fmt.Errorf("failed to save workbook %s: %w", wb.path, err)
	}
	return nil
}

func (wb *Workbook) renderComments(ref cellRef, spans []models.Span) error {
	addr := cell(report.CommentsColumn+1, ref.index+firstDataRow)
	text, err := wb.file.GetCellValue(ref.sheet, addr)
	if err != nil {
		return fmt.Errorf("failed to read comments of row %d of %s: %w", ref.index, ref.sheet, err)
	}

	runs := report.Runs(text, spans)
	if len(runs) == 0 {
		return nil
	}

	rich := make([]excelize.RichTextRun, 0, len(runs))
	for _, run := range runs {
		font := &excelize.Font{Family: fontFamily, Size: fontSize, Bold: run.Bold}
		if run.Highlight {
			font.Color = wb.highlightColor
		}
		rich = append(rich, excelize.RichTextRun{Text: run.Text, Font: font})
	}

	if err := wb.file.SetCellRichText(ref.sheet, addr, rich); err != nil {
		return fmt.Errorf("failed to style comments of row %d of %s: %w", ref.index, ref.sheet, err)
	}
	return nil
}

// Close releases the workbook without saving
func (wb *Workbook) Close() error {
	return wb.file.Close()
}

func (wb *Workbook) hasRemarks(sheet string) bool {
	v, err := wb.file.GetCellValue(sheet, cell(report.RemarkIndex+1, headerRow))
	return err == nil && v == report.RemarkColumn
}

// cell converts 1-based coordinates to a cell name such as "B3"
func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(err)
	}
	return name
}
