package ingest

import (
	"regexp"
	"strings"
)

var (
	zeroWidth       = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "", "\x00", " ")
	horizontalSpace = regexp.MustCompile(`[ \t\r\f\v]+`)
)

// Normalize cleans extracted text: NUL becomes a space, zero-width
// characters are dropped and runs of horizontal whitespace collapse to a
// single space. Newlines are kept.
func Normalize(text string) string {
	text = zeroWidth.Replace(text)
	text = horizontalSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
