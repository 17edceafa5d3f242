package report

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// Filter selects which projected rows of a sheet are kept. Expressions see
// the row's fields, e.g. `Status != "Done" && Priority in ["High", "Highest"]`.
type Filter struct {
	source  string
	program *vm.Program
}

// CompileFilter compiles a boolean row expression. An empty source yields a
// nil filter, which keeps every row.
func CompileFilter(source string) (*Filter, error) {
	if source == "" {
		return nil, nil
	}

	program, err := expr.Compile(source, expr.Env(models.Row{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", source, err)
	}
	return &Filter{source: source, program: program}, nil
}

// Match reports whether row passes the filter
func (f *Filter) Match(row models.Row) (bool, error) {
	if f == nil {
		return true, nil
	}

	out, err := expr.Run(f.program, row)
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q on %s: %w", f.source, row.Key, err)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, expected bool", f.source, out)
	}
	return keep, nil
}

// String returns the filter's source expression
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
