package ingest

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedElements never contribute visible text.
var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
}

// htmlText returns the visible text of an HTML document with entities
// decoded. Text nodes are joined with spaces.
func htmlText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		b     strings.Builder
		depth int // nesting inside skipped elements
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return b.String(), nil
		case html.StartTagToken:
			name, _ := z.TagName()
			if skippedElements[atom.Lookup(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if skippedElements[atom.Lookup(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
	}
}
