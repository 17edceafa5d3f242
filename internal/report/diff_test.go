package report

import (
	"strings"
	"testing"

	"github.com/weslintw/jira-issue-monitor/internal/models"
)

func TestDescribeChange(t *testing.T) {
	tests := []struct {
		change models.Change
		want   string
	}{
		{
			models.Change{Key: "A-1", Column: "Priority", Old: "High", New: "Highest"},
			"A-1 Priority: High{+est+}",
		},
		{
			models.Change{Key: "A-2", Column: "Summary", Old: "foo bar", New: "foo"},
			"A-2 Summary: foo[- bar-]",
		},
		{
			models.Change{Key: "A-3", Column: "PIC", Old: "", New: "Bob"},
			"A-3 PIC: {+Bob+}",
		},
	}

	for _, tt := range tests {
		if got := DescribeChange(tt.change, false); got != tt.want {
			t.Errorf("DescribeChange(%+v) = %q, want %q", tt.change, got, tt.want)
		}
	}
}

func TestDescribeChangeColor(t *testing.T) {
	got := DescribeChange(models.Change{Key: "A-1", Column: "Status", Old: "", New: "Open"}, true)
	if !strings.Contains(got, "\x1b[32m") || !strings.Contains(got, "Open") {
		t.Errorf("colored diff = %q", got)
	}
}
