// Package loader turns the portal's exported JSON (and PDF guides) into
// chunks ready for embedding.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"mapleportal/internal/pkg/pdfextract"
	"mapleportal/internal/vectorstore"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	MetaModifiedTime = "modified_time"
	MetaFormat       = "format"

	FormatMarkdown = "markdown"
	FormatText     = "text"
)

var ErrIngestion = errors.New("ingestion failed")

// Separators prefer markdown heading boundaries, then lines, then words.
var Separators = []string{"\n##", "\n#", "\n", " ", ""}

var documentNamespace = uuid.MustParse("0b8e3f5c-2d4a-4e1b-a6c7-93f1d2e4b5a8")

// DocumentID is the stable id of a file relative to the data root.
func DocumentID(relPath string) string {
	return uuid.NewSHA1(documentNamespace, []byte(filepath.ToSlash(relPath))).String()
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	SkipKeys     []string
}

type Loader struct {
	converter *Converter
	splitter  textsplitter.RecursiveCharacter
	logger    *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Loader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = min(DefaultChunkOverlap, opts.ChunkSize/2)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		converter: NewConverter(opts.SkipKeys),
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(opts.ChunkSize),
			textsplitter.WithChunkOverlap(opts.ChunkOverlap),
			textsplitter.WithSeparators(Separators),
			textsplitter.WithKeepSeparator(true),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
		logger: logger.Named("loader"),
	}
}

// Split cuts text into trimmed, non-empty chunks.
func (l *Loader) Split(text string) ([]string, error) {
	parts, err := l.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Supported reports whether path has an extension the loader reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".pdf":
		return true
	}
	return false
}

// LoadDirectory walks root and returns the chunks of every readable file.
// Files that fail are logged and skipped.
func (l *Loader) LoadDirectory(ctx context.Context, root string) ([]vectorstore.Chunk, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngestion, err)
	}

	var (
		out     []vectorstore.Chunk
		files   int
		skipped int
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			l.logger.Warn("walk failed", zap.String("path", path), zap.Error(walkErr))
			skipped++
			return nil
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		chunks, err := l.LoadFile(ctx, root, path)
		if err != nil {
			l.logger.Warn("skip file", zap.String("path", path), zap.Error(err))
			skipped++
			return nil
		}
		files++
		out = append(out, chunks...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("loaded directory",
		zap.String("root", root),
		zap.Int("files", files),
		zap.Int("skipped", skipped),
		zap.Int("chunks", len(out)))
	return out, nil
}

// RelativePath is the slash separated path of path under root, the input of
// DocumentID.
func RelativePath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	return filepath.ToSlash(rel), nil
}

// LoadFile converts and splits a single file under root.
func (l *Loader) LoadFile(_ context.Context, root, path string) ([]vectorstore.Chunk, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIngestion, err)
	}
	rel, err := RelativePath(root, path)
	if err != nil {
		rel = filepath.ToSlash(path)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var (
		text   string
		parsed any
		format = FormatMarkdown
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrIngestion, err)
		}
		text, parsed, err = l.converter.ConvertJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: parse json: %w", ErrIngestion, err)
		}
	case ".pdf":
		text, err = pdfextract.ExtractFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: extract pdf: %w", ErrIngestion, err)
		}
		format = FormatText
	default:
		return nil, fmt.Errorf("%w: unsupported file %s", ErrIngestion, path)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: no content in %s", ErrIngestion, path)
	}

	parts, err := l.Split(text)
	if err != nil {
		return nil, fmt.Errorf("%w: split: %w", ErrIngestion, err)
	}

	category := filepath.Base(filepath.Dir(path))
	docID := DocumentID(rel)
	base := map[string]string{
		vectorstore.MetaSource:      filepath.ToSlash(path),
		vectorstore.MetaCategory:    category,
		MetaModifiedTime:            info.ModTime().UTC().Format(time.RFC3339),
		MetaFormat:                  format,
		vectorstore.MetaTitle:       titleFor(parsed, stem),
		vectorstore.MetaContentType: contentTypeFor(category),
		vectorstore.MetaDocumentID:  docID,
	}
	if link := linkFor(parsed); link != "" {
		base[vectorstore.MetaLink] = link
	}

	chunks := make([]vectorstore.Chunk, 0, len(parts))
	for i, p := range parts {
		meta := make(map[string]string, len(base)+1)
		for k, v := range base {
			meta[k] = v
		}
		meta[vectorstore.MetaChunkIndex] = fmt.Sprint(i)
		chunks = append(chunks, vectorstore.Chunk{
			ID:         vectorstore.ChunkID(docID, i),
			DocumentID: docID,
			Index:      i,
			Content:    p,
			Metadata:   meta,
		})
	}
	return chunks, nil
}
