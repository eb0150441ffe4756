// Package report delivers finished analysis text: it saves reports to disk,
// renders Markdown for terminals and splits long reports into chunks that
// fit chat front ends.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
)

// DefaultChunkSize keeps chunks under the usual 4096-byte chat message limit.
const DefaultChunkSize = 4000

// Save writes text to path, creating missing parent directories.
func Save(path, text string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Render formats Markdown for a terminal. An empty style picks one from the
// terminal background; "notty" produces plain text.
func Render(text, style string, width int) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}

// breaks are tried in order: paragraphs, lines, sentences, words.
var breaks = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Split cuts text into chunks of at most max bytes. It prefers to cut at the
// latest paragraph break, then line, sentence and word breaks, and only cuts
// inside a word when nothing else fits. Chunks are trimmed; empty text
// yields no chunks.
func Split(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkSize
	}
	remaining := strings.TrimSpace(text)
	var chunks []string
	for remaining != "" {
		if len(remaining) <= max {
			chunks = append(chunks, remaining)
			break
		}
		head, tail := cut(remaining, max)
		if head = strings.TrimSpace(head); head != "" {
			chunks = append(chunks, head)
		}
		remaining = strings.TrimSpace(tail)
	}
	return chunks
}

func cut(s string, max int) (string, string) {
	window := s[:max]
	for _, b := range breaks {
		if pos := strings.LastIndex(window, b); pos > 0 {
			end := pos + len(b)
			return s[:end], s[end:]
		}
	}
	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	if end == 0 {
		// a single rune wider than max
		_, size := utf8.DecodeRuneInString(s)
		end = size
	}
	return s[:end], s[end:]
}
