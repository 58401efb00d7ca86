package loader

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type documentXML struct {
	Body struct {
		Paragraphs []paragraph `xml:"p"`
	} `xml:"body"`
}

type paragraph struct {
	Runs []run `xml:"r"`
}

type run struct {
	Text []textElement `xml:"t"`
}

type textElement struct {
	Content string `xml:",chardata"`
}

// extractDOCX joins the non-empty body paragraphs into a single unit. The
// count is the paragraph count; an empty document yields no units.
func extractDOCX(path string) ([]Unit, int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %v", ErrExtraction, path, err)
	}
	defer zr.Close()

	var body []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
		}
		body, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
		}
		break
	}
	if body == nil {
		return nil, 0, fmt.Errorf("%w: %s: missing word/document.xml", ErrExtraction, path)
	}

	var doc documentXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrExtraction, path, err)
	}

	var paras []string
	for _, p := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				b.WriteString(t.Content)
			}
		}
		if s := b.String(); strings.TrimSpace(s) != "" {
			paras = append(paras, s)
		}
	}
	if len(paras) == 0 {
		return nil, 0, nil
	}
	return []Unit{{Index: 1, Text: strings.Join(paras, "\n")}}, len(paras), nil
}
