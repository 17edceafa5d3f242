package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/weslintw/jira-issue-monitor/internal/models"
	"github.com/weslintw/jira-issue-monitor/internal/report"
)

// DB is a report document stored in SQLite. Changes are made inside a
// transaction that is only committed by Save.
//
// Row indexes are ordinals in position order. Stored positions may have
// gaps when rows were deleted outside the sync, so each sheet keeps the
// position of every index.
type DB struct {
	*sql.DB
	tx        *sql.Tx
	positions map[string][]int
}

var _ report.Document = (*DB)(nil)

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases and the pending
	// transaction on the same handle.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, positions: make(map[string][]int)}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sheets (
		name TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		columns TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS report_rows (
		sheet TEXT NOT NULL,
		position INTEGER NOT NULL,
		issue_key TEXT NOT NULL,
		summary TEXT NOT NULL,
		assignee TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		updated TEXT NOT NULL,
		category TEXT NOT NULL,
		gerrit TEXT NOT NULL,
		comments TEXT NOT NULL,
		remark TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (sheet, position)
	);

	CREATE INDEX IF NOT EXISTS idx_report_rows_key ON report_rows(sheet, issue_key);

	CREATE TABLE IF NOT EXISTS spans (
		sheet TEXT NOT NULL,
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spans_row ON spans(sheet, position);

	CREATE TABLE IF NOT EXISTS sync_metadata (
		sheet TEXT PRIMARY KEY,
		last_sync_time TIMESTAMP NOT NULL
	);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// conn returns the pending transaction, beginning one if needed
func (db *DB) conn(ctx context.Context) (*sql.Tx, error) {
	if db.tx != nil {
		return db.tx, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	db.tx = tx
	return tx, nil
}

// HasSheet reports whether a sheet exists
func (db *DB) HasSheet(ctx context.Context, sheet string) (bool, error) {
	tx, err := db.conn(ctx)
	if err != nil {
		return false, err
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sheets WHERE name = ?`, sheet).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up sheet %s: %w", sheet, err)
	}
	return true, nil
}

// CreateSheet saves a sheet and its header. Creating an existing sheet
// leaves it untouched.
func (db *DB) CreateSheet(ctx context.Context, sheet string, header report.Header) error {
	tx, err := db.conn(ctx)
	if err != nil {
		return err
	}

	columns, err := json.Marshal(header.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	query := `
	INSERT INTO sheets (name, title, columns, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(name) DO NOTHING
	`

	if _, err := tx.ExecContext(ctx, query, sheet, header.Title, string(columns), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}
	return nil
}

// GetHeader returns the header a sheet was created with
func (db *DB) GetHeader(ctx context.Context, sheet string) (report.Header, error) {
	tx, err := db.conn(ctx)
	if err != nil {
		return report.Header{}, err
	}

	var header report.Header
	var columns string
	err = tx.QueryRowContext(ctx, `SELECT title, columns FROM sheets WHERE name = ?`, sheet).Scan(&header.Title, &columns)
	if err != nil {
		if err == sql.ErrNoRows {
			return report.Header{}, fmt.Errorf("%s: %w", sheet, report.ErrSheetNotFound)
		}
		return report.Header{}, fmt.Errorf("failed to get header of %s: %w", sheet, err)
	}
	if err := json.Unmarshal([]byte(columns), &header.Columns); err != nil {
		return report.Header{}, fmt.Errorf("failed to decode columns of %s: %w", sheet, err)
	}
	return header, nil
}

// ReadRows returns the data rows of a sheet ordered by position
func (db *DB) ReadRows(ctx context.Context, sheet string) ([]models.Row, error) {
	ok, err := db.HasSheet(ctx, sheet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", sheet, report.ErrSheetNotFound)
	}

	query := `
	SELECT position, issue_key, summary, assignee, status, priority, updated, category, gerrit, comments, remark, url
	FROM report_rows
	WHERE sheet = ?
	ORDER BY position
	`

	rows, err := db.tx.QueryContext(ctx, query, sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", sheet, err)
	}
	defer rows.Close()

	var result []models.Row
	var positions []int
	for rows.Next() {
		var r models.Row
		var position int
		if err := rows.Scan(
			&position,
			&r.Key,
			&r.Summary,
			&r.Assignee,
			&r.Status,
			&r.Priority,
			&r.Updated,
			&r.Category,
			&r.Gerrit,
			&r.Comments,
			&r.Remark,
			&r.URL,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", sheet, err)
		}
		result = append(result, r)
		positions = append(positions, position)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", sheet, err)
	}

	db.positions[sheet] = positions
	return result, nil
}

// loadPositions returns the stored position of every row of a sheet
func (db *DB) loadPositions(ctx context.Context, sheet string) ([]int, error) {
	if positions, ok := db.positions[sheet]; ok {
		return positions, nil
	}

	tx, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT position FROM report_rows WHERE sheet = ? ORDER BY position`, sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read positions of %s: %w", sheet, err)
	}
	defer rows.Close()

	var positions []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan position of %s: %w", sheet, err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions of %s: %w", sheet, err)
	}

	db.positions[sheet] = positions
	return positions, nil
}

// position maps a row index to its stored position. Indexes past the last
// row continue after the highest stored position.
func (db *DB) position(ctx context.Context, sheet string, index int) (int, error) {
	positions, err := db.loadPositions(ctx, sheet)
	if err != nil {
		return 0, err
	}
	if index < len(positions) {
		return positions[index], nil
	}

	next := 0
	if n := len(positions); n > 0 {
		next = positions[n-1] + 1
	}
	return next + index - len(positions), nil
}

// WriteRow saves row at index, keeping the remark already stored there
func (db *DB) WriteRow(ctx context.Context, sheet string, index int, row models.Row) error {
	tx, err := db.conn(ctx)
	if err != nil {
		return err
	}
	position, err := db.position(ctx, sheet, index)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO report_rows (sheet, position, issue_key, summary, assignee, status, priority, updated, category, gerrit, comments, url)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sheet, position) DO UPDATE SET
		issue_key = excluded.issue_key,
		summary = excluded.summary,
		assignee = excluded.assignee,
		status = excluded.status,
		priority = excluded.priority,
		updated = excluded.updated,
		category = excluded.category,
		gerrit = excluded.gerrit,
		comments = excluded.comments,
		url = excluded.url
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		sheet,
		position,
		row.Key,
		row.Summary,
		row.Assignee,
		row.Status,
		row.Priority,
		row.Updated,
		row.Category,
		row.Gerrit,
		row.Comments,
		row.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", index, sheet, err)
	}

	positions := db.positions[sheet]
	switch {
	case index == len(positions):
		db.positions[sheet] = append(positions, position)
	case index > len(positions):
		delete(db.positions, sheet)
	}
	return nil
}

// AppendRow saves row after the last row of a sheet and returns its index
func (db *DB) AppendRow(ctx context.Context, sheet string, row models.Row) (int, error) {
	tx, err := db.conn(ctx)
	if err != nil {
		return 0, err
	}
	positions, err := db.loadPositions(ctx, sheet)
	if err != nil {
		return 0, err
	}

	index := len(positions)
	if err := db.WriteRow(ctx, sheet, index, row); err != nil {
		return 0, err
	}
	if row.Remark != "" {
		position := db.positions[sheet][index]
		_, err := tx.ExecContext(ctx, `UPDATE report_rows SET remark = ? WHERE sheet = ? AND position = ?`, row.Remark, sheet, position)
		if err != nil {
			return 0, fmt.Errorf("failed to write remark of row %d of %s: %w", index, sheet, err)
		}
	}

	return index, nil
}

// ClearStyles removes every span of a row
func (db *DB) ClearStyles(ctx context.Context, sheet string, index int) error {
	tx, err := db.conn(ctx)
	if err != nil {
		return err
	}
	position, err := db.position(ctx, sheet, index)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM spans WHERE sheet = ? AND position = ?`, sheet, position); err != nil {
		return fmt.Errorf("failed to clear styles of row %d of %s: %w", index, sheet, err)
	}
	return nil
}

// ApplyBold records a bold span of a row's comment cell
func (db *DB) ApplyBold(ctx context.Context, sheet string, index int, span models.Span) error {
	span.Kind = models.SpanBold
	return db.saveSpan(ctx, sheet, index, span)
}

// ApplyHighlight records a highlighted span of a row's comment cell
func (db *DB) ApplyHighlight(ctx context.Context, sheet string, index int, span models.Span) error {
	span.Kind = models.SpanHighlight
	return db.saveSpan(ctx, sheet, index, span)
}

func (db *DB) saveSpan(ctx context.Context, sheet string, index int, span models.Span) error {
	tx, err := db.conn(ctx)
	if err != nil {
		return err
	}
	position, err := db.position(ctx, sheet, index)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO spans (sheet, position, kind, start_offset, end_offset)
	VALUES (?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, query, sheet, position, string(span.Kind), span.Start, span.End); err != nil {
		return fmt.Errorf("failed to save %s span of row %d of %s: %w", span.Kind, index, sheet, err)
	}
	return nil
}

// GetSpans returns the spans of a row in the order they were applied
func (db *DB) GetSpans(ctx context.Context, sheet string, index int) ([]models.Span, error) {
	tx, err := db.conn(ctx)
	if err != nil {
		return nil, err
	}
	position, err := db.position(ctx, sheet, index)
	if err != nil {
		return nil, err
	}

	query := `
	SELECT kind, start_offset, end_offset
	FROM spans
	WHERE sheet = ? AND position = ?
	ORDER BY rowid
	`

	rows, err := tx.QueryContext(ctx, query, sheet, position)
	if err != nil {
		return nil, fmt.Errorf("failed to get spans of row %d of %s: %w", index, sheet, err)
	}
	defer rows.Close()

	var spans []models.Span
	for rows.Next() {
		var s models.Span
		var kind string
		if err := rows.Scan(&kind, &s.Start, &s.End); err != nil {
			return nil, fmt.Errorf("failed to scan span: %w", err)
		}
		s.Kind = models.SpanKind(kind)
		spans = append(spans, s)
	}
	return spans, rows.Err()
}

// GetLastSyncTime gets the last sync time for a sheet
func (db *DB) GetLastSyncTime(ctx context.Context, sheet string) (time.Time, error) {
	tx, err := db.conn(ctx)
	if err != nil {
		return time.Time{}, err
	}

	var lastSyncTime time.Time
	query := `SELECT last_sync_time FROM sync_metadata WHERE sheet = ?`

	err = tx.QueryRowContext(ctx, query, sheet).Scan(&lastSyncTime)
	if err != nil {
		if err == sql.ErrNoRows {
			// If no sync metadata exists, return zero time
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	return lastSyncTime, nil
}

// UpdateLastSyncTime updates the last sync time for a sheet
func (db *DB) UpdateLastSyncTime(ctx context.Context, sheet string, syncTime time.Time) error {
	tx, err := db.conn(ctx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sync_metadata (sheet, last_sync_time)
	VALUES (?, ?)
	ON CONFLICT(sheet) DO UPDATE SET
		last_sync_time = excluded.last_sync_time
	`

	_, err = tx.ExecContext(ctx, query, sheet, syncTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	return nil
}

// Save commits every change made since the last Save. Positions are read
// again by the next transaction.
func (db *DB) Save(ctx context.Context) error {
	if db.tx == nil {
		return nil
	}
	tx := db.tx
	db.tx = nil
	clear(db.positions)
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close discards unsaved changes and closes the database connection
func (db *DB) Close() error {
	if db.tx != nil {
		db.tx.Rollback()
		db.tx = nil
	}
	clear(db.positions)
	return db.DB.Close()
}
