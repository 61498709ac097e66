package markdown

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// The heading scanner is a small state machine. A heading-like line opens a
// merge buffer; following lines are absorbed into it until a stop condition.
// While the buffer's brackets are unbalanced the scanner force-absorbs lines
// regardless of their shape.
type scanState int

const (
	scanPlain scanState = iota
	scanHeadingMerge
	scanAbsorbBalance
)

// absorbAction is the decision for one candidate line during a heading merge.
type absorbAction int

const (
	actionStop absorbAction = iota
	actionSkipBlank
	actionForce
	actionAbsorb
)

// shortLineMax is the rune-length threshold below which a trailing line is
// treated as a stray heading fragment and absorbed.
const shortLineMax = 24

// headingOpenRegex matches a line that can open a heading merge:
// 1-6 markers, a space, then non-space content.
var headingOpenRegex = regexp.MustCompile(`^\s*#{1,6}\s+\S`)

// structuralRegex matches lines whose leading shape starts a new block:
// list marker, ordered-list marker, heading, blockquote, table row, fenced
// code, or tag-like start. Such a line halts heading absorption.
var structuralRegex = regexp.MustCompile("^\\s*(?:[-*+]\\s|\\d+\\.\\s|#{1,6}\\s|>|\\||`{3}|</?)")

// tailTokens are short trailing fragments that belong to a split heading.
var tailTokens = map[string]bool{
	"点": true, "析": true, "览": true,
	")": true, "）": true, "]": true, "】": true,
	"?": true, "？": true, "!": true, "！": true,
	":": true, "：": true, "—": true,
}

// fieldLabels are fixed category labels that open a new semantic record.
// A line starting with one (or a heading containing an embedded one) marks
// the start of non-heading content.
var fieldLabels = []string{"年柱", "月柱", "日柱", "时柱", "大运", "流年"}

// fieldLabelSeparators follow a field label.
var fieldLabelSeparators = []string{"：", ":"}

// bracketPairs maps closing bracket characters to their opening counterparts,
// covering ASCII and full-width variants.
var bracketPairs = map[rune]rune{
	')': '(',
	'）': '（',
	']': '[',
	'】': '【',
}

// opensHeading reports whether a line can seed a heading merge buffer.
func opensHeading(line string) bool {
	return headingOpenRegex.MatchString(line)
}

// isStructural reports whether a line starts a new block.
func isStructural(line string) bool {
	return structuralRegex.MatchString(line)
}

// startsWithFieldLabel reports whether a line opens a new semantic record.
func startsWithFieldLabel(line string) bool {
	for _, label := range fieldLabels {
		for _, sep := range fieldLabelSeparators {
			if strings.HasPrefix(line, label+sep) {
				return true
			}
		}
	}
	return false
}

// parenBalance returns the number of unclosed opening brackets in text.
// A closer with no matching opener is an anomaly; -1 is returned and callers
// must treat balance as already satisfied rather than failing.
func parenBalance(text string) int {
	var stack []rune
	for _, ch := range text {
		switch ch {
		case '(', '（', '[', '【':
			stack = append(stack, ch)
		case ')', '）', ']', '】':
			if len(stack) > 0 && stack[len(stack)-1] == bracketPairs[ch] {
				stack = stack[:len(stack)-1]
			} else {
				return -1
			}
		}
	}
	return len(stack)
}

// nextAction decides what to do with one candidate line during a merge.
// Blank lines are skipped, but once one has been seen only balance forcing
// may continue; short-line and tail-token absorption stops at the blank.
func nextAction(state scanState, stripped string, blankSeen bool) absorbAction {
	if stripped == "" {
		return actionSkipBlank
	}
	if state == scanAbsorbBalance {
		return actionForce
	}
	if isStructural(stripped) {
		return actionStop
	}
	if startsWithFieldLabel(stripped) {
		return actionStop
	}
	if blankSeen {
		return actionStop
	}
	if utf8.RuneCountInString(stripped) <= shortLineMax || tailTokens[stripped] {
		return actionAbsorb
	}
	return actionStop
}

// mergeHeading absorbs lines following the heading at start into one
// reconstructed heading. It returns the merged line and the index of the
// first unconsumed line.
func mergeHeading(lines []string, start int) (string, int) {
	parts := []string{strings.TrimSpace(lines[start])}

	state := scanHeadingMerge
	if parenBalance(parts[0]) > 0 {
		state = scanAbsorbBalance
	}

	blankSeen := false
	j := start + 1
	for j < len(lines) {
		stripped := strings.TrimSpace(lines[j])

		switch nextAction(state, stripped, blankSeen) {
		case actionSkipBlank:
			blankSeen = true
			j++

		case actionForce:
			parts = append(parts, stripped)
			j++
			if parenBalance(strings.Join(parts, " ")) <= 0 {
				// Balance restored (or anomalous); the heading is complete.
				return strings.Join(parts, " "), j
			}

		case actionAbsorb:
			parts = append(parts, stripped)
			j++
			if parenBalance(strings.Join(parts, " ")) > 0 {
				state = scanAbsorbBalance
			}

		case actionStop:
			return strings.Join(parts, " "), j
		}
	}
	return strings.Join(parts, " "), j
}

// splitFieldLabel splits a merged heading at an embedded field label, so a
// record like "年柱：…" glued onto a heading becomes its own line. The head
// must still be a valid heading after the split, otherwise no split happens.
func splitFieldLabel(merged string) (string, string) {
	idx := -1
	for _, label := range fieldLabels {
		for _, sep := range fieldLabelSeparators {
			if k := strings.Index(merged, label+sep); k > 0 {
				if idx == -1 || k < idx {
					idx = k
				}
			}
		}
	}
	if idx <= 0 {
		return merged, ""
	}

	head := strings.TrimSpace(merged[:idx])
	if !opensHeading(head) {
		return merged, ""
	}
	return head, strings.TrimSpace(merged[idx:])
}

// mergeHeadings runs the heading reconstruction scan over the whole text.
// Every reconstructed heading is flushed as a single line followed by exactly
// one blank line; non-heading lines are copied through unchanged.
func mergeHeadings(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))

	i := 0
	for i < len(lines) {
		line := lines[i]
		if !opensHeading(line) {
			out = append(out, line)
			i++
			continue
		}

		merged, next := mergeHeading(lines, i)
		head, tail := splitFieldLabel(merged)
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, head, "")
		if tail != "" {
			out = append(out, tail)
		}
		i = next
	}

	return strings.Join(out, "\n")
}
