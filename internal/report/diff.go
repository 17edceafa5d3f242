package report

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/weslintw/jira-issue-monitor/internal/models"
)

// DescribeChange renders a character-level diff of one changed cell. With
// color the diff uses ANSI colors; otherwise deletions are shown as [-x-]
// and insertions as {+x+}.
func DescribeChange(c models.Change, color bool) string {
	dmp := diffmatchpatch.New()
	multiLine := strings.Contains(c.Old, "\n") && strings.Contains(c.New, "\n")
	diffs := dmp.DiffMain(c.Old, c.New, multiLine)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var text string
	if color {
		text = dmp.DiffPrettyText(diffs)
	} else {
		var b strings.Builder
		for _, d := range diffs {
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				b.WriteString("[-" + d.Text + "-]")
			case diffmatchpatch.DiffInsert:
				b.WriteString("{+" + d.Text + "+}")
			case diffmatchpatch.DiffEqual:
				b.WriteString(d.Text)
			}
		}
		text = b.String()
	}

	return fmt.Sprintf("%s %s: %s", c.Key, c.Column, text)
}
