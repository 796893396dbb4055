// Package paginate splits long responses into pages and tracks live
// pagination sessions so a reader can step through the pages in place.
package paginate

import (
	"strings"
	"unicode/utf8"
)

// boundaryWindow is the fraction of the page budget, measured from the end,
// in which a natural break point is preferred over a hard cut.
const boundaryWindow = 0.2

// Split partitions content into pages of at most pageSize runes each.
// Within the final fifth of a page's budget the split prefers a sentence or
// line boundary so pages do not end mid-sentence. Concatenating the returned
// pages reproduces the input exactly.
func Split(content string, pageSize int) []string {
	if pageSize <= 0 || utf8.RuneCountInString(content) <= pageSize {
		return []string{content}
	}

	runes := []rune(content)
	var pages []string

	for len(runes) > 0 {
		if len(runes) <= pageSize {
			pages = append(pages, string(runes))
			break
		}

		cut := pageSize
		windowStart := pageSize - int(float64(pageSize)*boundaryWindow)
		for i := pageSize - 1; i >= windowStart; i-- {
			if isBreakPoint(runes, i) {
				cut = i + 1
				break
			}
		}

		pages = append(pages, string(runes[:cut]))
		runes = runes[cut:]
	}

	return pages
}

// isBreakPoint reports whether a page may end just after runes[i]. Line
// breaks always qualify. Sentence punctuation qualifies when followed by
// whitespace, so abbreviations and decimals inside a sentence do not split
// the page.
func isBreakPoint(runes []rune, i int) bool {
	switch runes[i] {
	case '\n':
		return true
	case '.', '!', '?':
		return i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t')
	}
	return false
}

// Join is the inverse of Split.
func Join(pages []string) string {
	return strings.Join(pages, "")
}
