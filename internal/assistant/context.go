package assistant

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ccp-pamplona/ccpbot/internal/core"
)

const (
	blockSeparator   = "\n\n"
	extractiveHeader = "Esto es lo que encontré en la información de la Cámara:"
)

// topResults returns the n best results by descending score without
// modifying the input.
func topResults(results []core.SearchResult, n int) []core.SearchResult {
	out := make([]core.SearchResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// blockTitle names the source of a chunk for the prompt.
func blockTitle(md core.ChunkMetadata) string {
	title := md.Title
	if title == "" {
		title = md.Source
	}
	if title == "" {
		title = "documento"
	}
	if md.Page > 0 {
		return fmt.Sprintf("[%s, p. %d]", title, md.Page)
	}
	return "[" + title + "]"
}

// buildContext joins title-prefixed chunk texts, each cut to maxChunk
// characters, and stops before the total would exceed maxTotal. The first
// block is cut to fit when it alone is too long.
func buildContext(results []core.SearchResult, maxChunk, maxTotal int) string {
	var b strings.Builder
	used := 0
	for _, r := range results {
		text := strings.TrimSpace(r.Chunk.Text)
		if text == "" {
			continue
		}
		block := blockTitle(r.Chunk.Metadata) + "\n" + core.TruncateRunes(text, maxChunk)
		n := utf8.RuneCountInString(block)

		if used > 0 {
			sep := utf8.RuneCountInString(blockSeparator)
			if used+sep+n > maxTotal {
				break
			}
			b.WriteString(blockSeparator)
			used += sep
		} else if n > maxTotal {
			block = core.TruncateRunes(block, maxTotal)
			n = maxTotal
		}
		b.WriteString(block)
		used += n
	}
	return b.String()
}

// extractive quotes the best passages when the LLM cannot answer. It falls
// back to noInfo only when every passage is blank.
func extractive(results []core.SearchResult, maxChunk, maxTotal int, noInfo string) string {
	n := min(extractiveChunks, len(results))
	passages := buildContext(results[:n], maxChunk, maxTotal)
	if passages == "" {
		return noInfo
	}
	return extractiveHeader + blockSeparator + passages
}
