// Package content prepares message text for storage and display: carriage
// returns stripped, newlines collapsed, HTML escaped, and bare URLs,
// @mentions and #hashtags wrapped in anchors.
package content

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	multiNewline   = regexp.MustCompile(`\n{2,}`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<]+`)
	mentionPattern = regexp.MustCompile(`(^|\s)@(\w+)`)
	hashtagPattern = regexp.MustCompile(`(^|\s)#(\w+)`)
)

// Normalize strips carriage returns, collapses runs of two or more
// newlines to exactly two, and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = multiNewline.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Length counts characters, not bytes.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Render escapes HTML and then links URLs, mentions and hashtags. The
// result is what gets persisted and fanned out.
func Render(text string) string {
	escaped := html.EscapeString(text)

	escaped = urlPattern.ReplaceAllStringFunc(escaped, func(match string) string {
		return fmt.Sprintf(`<a href="%s" target="_blank" rel="noopener">%s</a>`, match, match)
	})
	escaped = mentionPattern.ReplaceAllString(escaped, `$1<a href="/user/$2">@$2</a>`)
	escaped = hashtagPattern.ReplaceAllString(escaped, `$1<a href="/search?q=%23$2">#$2</a>`)

	return escaped
}
