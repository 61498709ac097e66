package markdown

import (
	"fmt"
	"regexp"
	"strings"
)

// fencedRegex matches a complete fenced code block, including its delimiters.
var fencedRegex = regexp.MustCompile("(?s)```.*?```")

// inlineRegex matches an inline code span on a single line.
var inlineRegex = regexp.MustCompile("`[^`\n]*`")

// placeholderTable records protected literal spans so the heading heuristics
// cannot alter them. Every tag inserted during protection is removed during
// restoration, byte for byte.
type placeholderTable struct {
	fenced []string
	inline []string
}

// protect replaces fenced code blocks, then inline code spans, with synthetic
// tags. Fenced blocks go first so a block containing inline-code syntax is
// protected as one atomic unit.
func protect(s string) (string, *placeholderTable) {
	table := &placeholderTable{}

	s = fencedRegex.ReplaceAllStringFunc(s, func(match string) string {
		tag := fmt.Sprintf("@@F%d@@", len(table.fenced))
		table.fenced = append(table.fenced, match)
		return tag
	})

	s = inlineRegex.ReplaceAllStringFunc(s, func(match string) string {
		tag := fmt.Sprintf("@@I%d@@", len(table.inline))
		table.inline = append(table.inline, match)
		return tag
	})

	return s, table
}

// restore puts the original spans back by exact tag match: inline spans first,
// then fenced blocks.
func restore(s string, table *placeholderTable) string {
	for i, original := range table.inline {
		s = strings.Replace(s, fmt.Sprintf("@@I%d@@", i), original, 1)
	}
	for i, original := range table.fenced {
		s = strings.Replace(s, fmt.Sprintf("@@F%d@@", i), original, 1)
	}
	return s
}
