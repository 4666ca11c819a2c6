// Package docproc turns document files into located, overlapping text chunks ready for
// embedding.
package docproc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"ragchat.dev/doc-chatbot/internal/store"
)

const publicURLPrefix = "/static/documents/"

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum size")
)

type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxFileSize   int64
	DocumentsRoot string // public URLs are built relative to this directory
}

// Result is one processed file: its document record and its chunks, not yet embedded.
type Result struct {
	Document store.Document
	Chunks   []store.Chunk
}

// Failure records a file that could not be processed.
type Failure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

type Processor struct {
	opts   Options
	logger zerolog.Logger
}

func NewProcessor(opts Options, logger zerolog.Logger) *Processor {
	p := &Processor{
		opts:   opts,
		logger: logger.With().Str("component", "document_processor").Logger(),
	}
	p.logger.Info().
		Int("chunk_size", opts.ChunkSize).
		Int("chunk_overlap", opts.ChunkOverlap).
		Msg("document processor initialized")
	return p
}

// SupportedExtensions lists the lowercase extensions the processor can read.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func IsSupportedFile(path string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ProcessFile extracts, chunks and describes a single file. A file without any text
// yields a Result with no chunks.
func (p *Processor) ProcessFile(path string) (*Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	extract, ok := extractors[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, ext)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("file not found: %w", err)
	}
	if p.opts.MaxFileSize > 0 && info.Size() > p.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %s", ErrFileTooLarge, info.Name(), FormatFileSize(info.Size()))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", absPath, err)
	}

	p.logger.Debug().Str("file", info.Name()).Msg("processing file")
	segments, err := extract(data, info.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to extract text from %s: %w", info.Name(), err)
	}

	result := &Result{
		Document: store.Document{
			SourceFile:  absPath,
			Filename:    info.Name(),
			FileType:    strings.TrimPrefix(ext, "."),
			PublicURL:   p.publicURL(absPath),
			FileSize:    FormatFileSize(info.Size()),
			ContentHash: hashBytes(data),
			ModifiedAt:  info.ModTime(),
		},
	}

	index := 0
	for _, seg := range segments {
		for _, text := range ChunkWords(seg.Text, p.opts.ChunkSize, p.opts.ChunkOverlap) {
			result.Chunks = append(result.Chunks, store.Chunk{
				ChunkIndex: index,
				Text:       text,
				Locator:    seg.Locator,
			})
			index++
		}
	}

	if len(result.Chunks) == 0 {
		p.logger.Warn().Str("file", info.Name()).Msg("no text extracted")
	} else {
		p.logger.Info().Str("file", info.Name()).Int("chunks", len(result.Chunks)).Msg("processed file")
	}
	return result, nil
}

// ProcessDirectory processes every supported file below root. Files that fail are
// reported and skipped.
func (p *Processor) ProcessDirectory(root string) ([]Result, []Failure, error) {
	files, err := ListFiles(root)
	if err != nil {
		return nil, nil, err
	}

	var results []Result
	var failures []Failure
	for _, path := range files {
		res, err := p.ProcessFile(path)
		if err != nil {
			p.logger.Error().Err(err).Str("file", path).Msg("failed to process file")
			failures = append(failures, Failure{Path: path, Err: err.Error()})
			continue
		}
		results = append(results, *res)
	}

	p.logger.Info().
		Int("processed", len(results)).
		Int("failed", len(failures)).
		Msg("directory processing complete")
	return results, failures, nil
}

// ListFiles returns the supported files below root in lexical order.
func ListFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("directory not found: %w", err)
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsSupportedFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// publicURL maps a file under the documents root to its static URL. Files outside the
// root are published by name.
func (p *Processor) publicURL(absPath string) string {
	if p.opts.DocumentsRoot != "" {
		if root, err := filepath.Abs(p.opts.DocumentsRoot); err == nil {
			if rel, err := filepath.Rel(root, absPath); err == nil && !strings.HasPrefix(rel, "..") {
				return publicURLPrefix + filepath.ToSlash(rel)
			}
		}
	}
	return publicURLPrefix + filepath.Base(absPath)
}

// FormatFileSize renders a byte count as "12.3 KB".
func FormatFileSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}
