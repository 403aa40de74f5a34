package core

import "unicode/utf8"

// MaxMessageRunes is the longest text body the chat platforms accept.
const MaxMessageRunes = 4096

// TruncateRunes returns s cut to at most n characters (runes), never
// splitting a multi-byte character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
