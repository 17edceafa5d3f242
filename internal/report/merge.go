package report

import (
	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// OpKind says what a merge does with one fresh row
type OpKind string

const (
	OpUpdate    OpKind = "update"
	OpAppend    OpKind = "append"
	OpUnchanged OpKind = "unchanged"
)

// Op is one step of a merge plan
type Op struct {
	Kind  OpKind
	Index int
	// Row is the row as it must be persisted, remark included
	Row     models.Row
	Changes []models.Change
}

// Plan is the outcome of merging fresh rows into a sheet
type Plan struct {
	// Rows is the whole sheet after the merge
	Rows []models.Row
	// Ops has one entry per fresh row, in input order
	Ops []Op
}

// Counts tallies the operations of the plan
func (p Plan) Counts() (updated, appended, unchanged int) {
	for _, op := range p.Ops {
		switch op.Kind {
		case OpUpdate:
			updated++
		case OpAppend:
			appended++
		case OpUnchanged:
			unchanged++
		}
	}
	return updated, appended, unchanged
}

// Retained counts the rows of the sheet that no fresh row matched
func (p Plan) Retained() int {
	touched := make(map[int]bool, len(p.Ops))
	for _, op := range p.Ops {
		touched[op.Index] = true
	}
	return len(p.Rows) - len(touched)
}

// Merge reconciles fresh rows against the existing rows of a sheet. A fresh
// row whose key is already present overwrites that row in place except for
// its remark; otherwise it is appended with an empty remark. Existing rows
// missing from fresh are kept as they are.
func Merge(existing, fresh []models.Row) Plan {
	rows := make([]models.Row, len(existing), len(existing)+len(fresh))
	copy(rows, existing)

	index := make(map[string]int, len(rows))
	for i, row := range rows {
		if _, seen := index[row.Key]; !seen {
			index[row.Key] = i
		}
	}

	ops := make([]Op, 0, len(fresh))
	for _, row := range fresh {
		i, found := index[row.Key]
		if !found {
			row.Remark = ""
			rows = append(rows, row)
			index[row.Key] = len(rows) - 1
			ops = append(ops, Op{Kind: OpAppend, Index: len(rows) - 1, Row: row})
			continue
		}

		row.Remark = rows[i].Remark
		changes := Diff(rows[i], row)
		rows[i] = row

		kind := OpUpdate
		if len(changes) == 0 {
			kind = OpUnchanged
		}
		ops = append(ops, Op{Kind: kind, Index: i, Row: row, Changes: changes})
	}

	return Plan{Rows: rows, Ops: ops}
}

// Diff lists the columns, remark excluded, whose value differs between old and updated
func Diff(old, updated models.Row) []models.Change {
	oldValues, newValues := Values(old), Values(updated)

	var changes []models.Change
	for i, column := range Columns {
		if oldValues[i] != newValues[i] {
			changes = append(changes, models.Change{
				Key:    updated.Key,
				Column: column,
				Old:    oldValues[i],
				New:    newValues[i],
			})
		}
	}
	return changes
}
