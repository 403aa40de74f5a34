// Package ingest reads the knowledge base from disk, splits it into
// overlapping word windows and loads the result into the vector store.
package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Default window parameters, in words.
const (
	DefaultChunkSize    = 420
	DefaultChunkOverlap = 80
)

// ErrInvalidChunking is returned for window parameters that would not advance.
var ErrInvalidChunking = errors.New("invalid chunking parameters")

// Chunk splits text into windows of chunkSize words, each window starting
// chunkSize-chunkOverlap words after the previous one. The last window is the
// first one that reaches the final word.
func Chunk(text string, chunkSize, chunkOverlap int) ([]string, error) {
	if err := validateWindow(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := chunkSize - chunkOverlap
	if step < 1 {
		step = 1
	}

	var out []string
	for start := 0; start < len(words); start += step {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out, nil
}

func validateWindow(chunkSize, chunkOverlap int) error {
	switch {
	case chunkSize <= 0:
		return fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidChunking, chunkSize)
	case chunkOverlap < 0:
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunking, chunkOverlap)
	case chunkOverlap >= chunkSize:
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidChunking, chunkOverlap, chunkSize)
	}
	return nil
}
