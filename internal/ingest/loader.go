package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// SourceDocument is the normalised text of one file, or one PDF page, with
// the metadata every chunk cut from it inherits.
type SourceDocument struct {
	Text     string
	Metadata core.ChunkMetadata
}

// readFunc turns one file into zero or more documents.
type readFunc func(ctx context.Context, path string) ([]SourceDocument, error)

// Loader discovers and reads knowledge-base files.
type Loader struct {
	runner CommandRunner
}

// NewLoader creates a Loader that extracts PDFs with the system pdftotext.
func NewLoader() *Loader {
	return &Loader{runner: execRunner{}}
}

// NewLoaderWithRunner creates a Loader with a custom command runner.
func NewLoaderWithRunner(runner CommandRunner) *Loader {
	return &Loader{runner: runner}
}

// Extensions in discovery order.
var Extensions = []string{".pdf", ".txt", ".md", ".html", ".htm"}

func (l *Loader) reader(ext string) readFunc {
	switch ext {
	case ".pdf":
		return l.readPDF
	case ".txt", ".md":
		return readText
	case ".html", ".htm":
		return readHTML
	default:
		return nil
	}
}

// Load walks rootDir recursively and reads every supported file. Files are
// visited extension by extension in the order of Extensions, and in lexical
// path order within an extension. Unreadable files are logged and skipped;
// a missing root yields no documents.
func (l *Loader) Load(ctx context.Context, rootDir string) ([]SourceDocument, error) {
	info, err := os.Stat(rootDir)
	if err != nil || !info.IsDir() {
		logger.Warn("Knowledge directory %s does not exist", rootDir)
		return nil, nil
	}

	byExt := make(map[string][]string, len(Extensions))
	err = filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("Skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Extension matching is case-sensitive.
		ext := filepath.Ext(path)
		if l.reader(ext) != nil {
			byExt[ext] = append(byExt[ext], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", rootDir, err)
	}

	var docs []SourceDocument
	for _, ext := range Extensions {
		paths := byExt[ext]
		sort.Strings(paths)
		read := l.reader(ext)
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			items, err := read(ctx, path)
			if err != nil {
				logger.Warn("Could not read %s: %v", path, err)
				continue
			}
			docs = append(docs, items...)
		}
	}
	logger.Info("Loaded %d documents from %s", len(docs), rootDir)
	return docs, nil
}

func baseMetadata(path string) core.ChunkMetadata {
	name := filepath.Base(path)
	return core.ChunkMetadata{
		Source:     name,
		SourcePath: path,
		Title:      strings.TrimSuffix(name, filepath.Ext(name)),
	}
}

func single(path, raw string) []SourceDocument {
	text := Normalize(raw)
	if text == "" {
		return nil
	}
	return []SourceDocument{{Text: text, Metadata: baseMetadata(path)}}
}

func readText(_ context.Context, path string) ([]SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return single(path, strings.ToValidUTF8(string(data), "")), nil
}

func readHTML(_ context.Context, path string) ([]SourceDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := htmlText(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return single(path, strings.ToValidUTF8(text, "")), nil
}

func (l *Loader) readPDF(ctx context.Context, path string) ([]SourceDocument, error) {
	pages, err := pdfPages(ctx, l.runner, path)
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return nil, fmt.Errorf("%w (%s)", err, InstallInstructions())
		}
		return nil, err
	}
	var docs []SourceDocument
	for i, page := range pages {
		text := Normalize(page)
		if text == "" {
			continue
		}
		md := baseMetadata(path)
		md.Page = i + 1
		docs = append(docs, SourceDocument{Text: text, Metadata: md})
	}
	return docs, nil
}

// BuildChunks splits every document into chunks with ordinal ids ccp_0,
// ccp_1, ... in document order. Each chunk records its own word count.
//
// TODO: ids depend on enumeration order, so adding or renaming a file
// remaps every later id and a re-run without --reset leaves stale chunks.
// Switch to ids derived from source path and chunk offset.
func BuildChunks(docs []SourceDocument, chunkSize, chunkOverlap int) ([]core.Chunk, error) {
	if err := validateWindow(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	var out []core.Chunk
	for _, doc := range docs {
		texts, err := Chunk(doc.Text, chunkSize, chunkOverlap)
		if err != nil {
			return nil, err
		}
		for _, text := range texts {
			md := doc.Metadata
			md.ChunkSize = len(strings.Fields(text))
			out = append(out, core.Chunk{
				ID:       fmt.Sprintf("ccp_%d", len(out)),
				Text:     text,
				Metadata: md,
			})
		}
	}
	return out, nil
}
