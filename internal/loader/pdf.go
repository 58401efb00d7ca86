package loader

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// Glyphs whose baselines differ by no more than this many points share a line.
	lineTolerance = 2.0
	// A horizontal gap wider than this fraction of the font size separates words.
	wordGap = 0.15
)

func extractPDF(path string) (units []Unit, count int, err error) {
	// the pdf reader panics on some malformed streams
	defer func() {
		if r := recover(); r != nil {
			units, count, err = nil, 0, fmt.Errorf("%w: %s: %v", ErrExtraction, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	n := r.NumPage()
	units = make([]Unit, 0, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			units = append(units, Unit{Index: i})
			continue
		}
		units = append(units, Unit{Index: i, Text: pageText(page.Content().Text)})
	}
	return units, n, nil
}

// pageText rebuilds the reading order of a page from positioned glyphs:
// top to bottom, then left to right, one output line per baseline.
func pageText(glyphs []pdf.Text) string {
	sorted := make([]pdf.Text, 0, len(glyphs))
	for _, g := range glyphs {
		if g.S == "\n" || g.S == "\r" {
			continue
		}
		sorted = append(sorted, g)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines [][]pdf.Text
	for _, g := range sorted {
		if n := len(lines); n > 0 && math.Abs(lines[n-1][0].Y-g.Y) <= lineTolerance {
			lines[n-1] = append(lines[n-1], g)
			continue
		}
		lines = append(lines, []pdf.Text{g})
	}

	var b strings.Builder
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		var prevEnd float64
		spaced := true
		for i, g := range line {
			if i > 0 && !spaced && g.S != " " && g.X-prevEnd > wordGap*g.FontSize {
				b.WriteByte(' ')
			}
			b.WriteString(g.S)
			spaced = g.S == " "
			prevEnd = g.X + g.W
		}
		b.WriteByte('\n')
	}
	return b.String()
}
