// Package adf flattens Atlassian Document Format trees into plain text.
package adf

import (
	"strings"
)

// Flatten converts a decoded ADF node (as produced by encoding/json into an
// interface{}) into plain text. Unknown or malformed nodes flatten to the
// empty string; Flatten never fails.
func Flatten(node any) string {
	var b strings.Builder
	flattenInto(&b, node)
	return b.String()
}

func flattenInto(b *strings.Builder, node any) {
	switch n := node.(type) {
	case nil:
		return
	case string:
		b.WriteString(n)
	case []any:
		for _, child := range n {
			flattenInto(b, child)
		}
	case map[string]any:
		flattenNode(b, n)
	}
}

// flattenNode renders a single tagged node
func flattenNode(b *strings.Builder, node map[string]any) {
	nodeType, _ := node["type"].(string)

	switch nodeType {
	case "text":
		text, _ := node["text"].(string)
		b.WriteString(text)
	case "mention":
		if attrs, ok := node["attrs"].(map[string]any); ok {
			text, _ := attrs["text"].(string)
			b.WriteString(text)
		}
	case "hardBreak":
		b.WriteString("\n")
	default:
		// Containers (doc, paragraph, ...) and unrecognized tags recurse
		// into their children when they have any.
		if children, ok := node["content"].([]any); ok {
			flattenInto(b, children)
		}
	}
}
