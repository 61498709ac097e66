package markdown

import (
	"regexp"
	"strings"
)

// BreakMode controls how legacy <br/> break blocks are cleaned up.
type BreakMode string

const (
	// BreakSpace replaces a break block with a single space.
	BreakSpace BreakMode = "space"

	// BreakList converts a break block into a list-item prefix.
	BreakList BreakMode = "list"
)

// ParseBreakMode maps a config string to a BreakMode, defaulting to BreakSpace.
func ParseBreakMode(s string) BreakMode {
	if s == string(BreakList) {
		return BreakList
	}
	return BreakSpace
}

// breakBlockRegex matches a legacy self-closing break tag followed by a blank
// line, e.g. "\n<br/>\n\n" or "\r\n<br />\r\n\r\n". Case-insensitive.
var breakBlockRegex = regexp.MustCompile(`(?i)(?:\r?\n)?<br\s*/?>[ \t]*(?:\r?\n){2}`)

// zeroWidthReplacer strips zero-width characters and the BOM.
var zeroWidthReplacer = strings.NewReplacer(
	"\u200b", "",
	"\u200c", "",
	"\u200d", "",
	"\ufeff", "",
)

// blankRunRegex matches three or more consecutive newlines.
var blankRunRegex = regexp.MustCompile(`\n{3,}`)

// normalizeNewlines converts CRLF and bare CR line endings to LF.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// stripZeroWidth removes zero-width characters that break line heuristics.
func stripZeroWidth(s string) string {
	return zeroWidthReplacer.Replace(s)
}

// collapseBlankLines reduces runs of three or more newlines to exactly two,
// leaving at most one blank separator line.
func collapseBlankLines(s string) string {
	return blankRunRegex.ReplaceAllString(s, "\n\n")
}

// ScrubBreaks removes legacy break blocks according to mode. In list mode a
// doubled list marker produced by the substitution is fixed up afterwards.
func ScrubBreaks(s string, mode BreakMode) string {
	if mode == BreakList {
		s = breakBlockRegex.ReplaceAllString(s, "\n- ")
		return strings.ReplaceAll(s, "\n- -", "\n-")
	}
	return breakBlockRegex.ReplaceAllString(s, " ")
}
