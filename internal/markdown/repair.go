// Package markdown repairs structurally broken markdown produced by a
// streaming language model: headings split across chunks, unbalanced
// brackets, stray blank lines, and legacy break markers. Literal code spans
// are never modified.
package markdown

import "strings"

// Repair normalizes arbitrary text with the default break mode.
// It never fails: anomalous input degrades to weaker repairs, not errors.
func Repair(s string) string {
	return RepairMode(s, BreakSpace)
}

// RepairMode normalizes arbitrary text. The returned text has headings
// isolated by blank lines and structurally complete, excess blank lines
// collapsed, and legacy break markers cleaned according to mode. Code spans
// round-trip byte-identical.
func RepairMode(s string, mode BreakMode) string {
	if s == "" {
		return s
	}

	s = normalizeNewlines(s)
	s = stripZeroWidth(s)

	s, table := protect(s)

	s = mergeHeadings(s)
	s = collapseBlankLines(s)
	s = ScrubBreaks(s, mode)

	s = restore(s, table)

	return strings.TrimSpace(s)
}
