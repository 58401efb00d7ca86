// Package loader turns source files into chunked content ready for embedding.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"docsearch/internal/text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrExtraction        = errors.New("text extraction failed")
)

// Extensions lists the file extensions the loader accepts, lower-case.
var Extensions = []string{".pdf", ".txt", ".docx", ".doc"}

// Unit is one extracted piece of a file: a PDF page, or a whole text or
// DOCX document. Index is 1-based.
type Unit struct {
	Index int
	Text  string
}

// Chunk is a bounded text fragment of a single unit.
type Chunk struct {
	Source   string
	Page     int
	Text     string
	FilePath string
}

type extractor func(path string) (units []Unit, count int, err error)

type Loader struct {
	maxChars int
	overlap  int
	byExt    map[string]extractor
}

func New(maxChars, overlap int) *Loader {
	if maxChars <= 0 {
		maxChars = text.DefaultMaxChars
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Loader{
		maxChars: maxChars,
		overlap:  overlap,
		byExt: map[string]extractor{
			".pdf":  extractPDF,
			".txt":  extractTXT,
			".docx": extractDOCX,
			".doc":  extractDOCX,
		},
	}
}

// Supported reports whether path has an extension the loader can read.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Load extracts and chunks the file at path. The returned count is the
// number of pages for PDFs, 1 for text files and the number of non-empty
// paragraphs for DOCX documents.
func (l *Loader) Load(path string) ([]Chunk, int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	extract, ok := l.byExt[ext]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	units, count, err := extract(path)
	if err != nil {
		return nil, 0, err
	}

	source := filepath.Base(path)
	var chunks []Chunk
	for _, u := range units {
		for _, piece := range text.Split(u.Text, l.maxChars, l.overlap) {
			chunks = append(chunks, Chunk{
				Source:   source,
				Page:     u.Index,
				Text:     piece,
				FilePath: path,
			})
		}
	}
	return chunks, count, nil
}
