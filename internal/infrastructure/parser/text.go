package parser

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	spaceExpr    = regexp.MustCompile(`\s+`)
	markdownExpr = regexp.MustCompile("[*_`]+|\\[([^\\]]*)\\]\\([^)]*\\)")
)

// cleanText strips markup and collapses whitespace in scraped text.
func cleanText(raw string) string {
	out := strictPolicy.Sanitize(raw)
	out = html.UnescapeString(out)
	out = markdownExpr.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, "[") {
			return markdownExpr.FindStringSubmatch(m)[1]
		}
		return ""
	})
	return strings.TrimSpace(spaceExpr.ReplaceAllString(out, " "))
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "..."
}
