package text

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxChars = 1500
	DefaultOverlap  = 200
)

// Split breaks text into paragraph-aligned chunks of at most maxChars
// characters. Consecutive chunks share the last overlap characters of the
// previous chunk. A paragraph is never cut: one that alone exceeds maxChars
// becomes its own oversized chunk.
func Split(text string, maxChars, overlap int) []string {
	paras := Paragraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []string
	var current string
	for _, p := range paras {
		if current == "" {
			current = p
			continue
		}
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(p)+1 > maxChars {
			chunks = append(chunks, current)
			if t := Tail(current, overlap); t != "" {
				current = t + "\n" + p
			} else {
				current = p
			}
			continue
		}
		current += "\n" + p
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// Paragraphs returns the trimmed, non-empty lines of text in order.
func Paragraphs(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Tail returns the last n characters of s.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := utf8.RuneCountInString(s)
	if count <= n {
		return s
	}
	skip := count - n
	for i := range s {
		if skip == 0 {
			return s[i:]
		}
		skip--
	}
	return ""
}
