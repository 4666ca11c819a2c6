package chat

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

const DefaultMaxSnippetLength = 200

type renderOptions struct {
	snippets         bool
	maxSnippetLength int
}

type RenderOption func(*renderOptions)

// WithSnippets toggles the snippet line under each source.
func WithSnippets(show bool) RenderOption {
	return func(o *renderOptions) {
		o.snippets = show
	}
}

func WithMaxSnippetLength(n int) RenderOption {
	return func(o *renderOptions) {
		if n > 0 {
			o.maxSnippetLength = n
		}
	}
}

func newRenderOptions(opts []RenderOption) renderOptions {
	o := renderOptions{snippets: true, maxSnippetLength: DefaultMaxSnippetLength}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RenderTranscript writes every message, separated by blank lines.
func RenderTranscript(w io.Writer, msgs []ChatMessage, opts ...RenderOption) error {
	for i, msg := range msgs {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := RenderMessage(w, msg, opts...); err != nil {
			return err
		}
	}
	return nil
}

// RenderMessage writes one message. Assistant messages are followed by their sources,
// confidence and processing time when present.
func RenderMessage(w io.Writer, msg ChatMessage, opts ...RenderOption) error {
	o := newRenderOptions(opts)

	var b strings.Builder
	label := "You"
	if msg.Role == RoleAssistant {
		label = "Assistant"
	}
	fmt.Fprintf(&b, "%s: %s\n", label, msg.Content)

	if msg.Role == RoleAssistant {
		if len(msg.Sources) > 0 {
			b.WriteString("  Sources:\n")
			for i, src := range msg.Sources {
				writeSource(&b, i+1, src, o)
			}
		}
		if msg.Confidence != nil {
			fmt.Fprintf(&b, "  Confidence: %d%%\n", int(math.Round(*msg.Confidence*100)))
		}
		if msg.ProcessingTime != nil {
			fmt.Fprintf(&b, "  Time: %.2fs\n", *msg.ProcessingTime)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSource(b *strings.Builder, n int, src Source, o renderOptions) {
	parts := []string{src.Filename}
	if src.FileType != "" {
		parts[0] += " (" + src.FileType + ")"
	}
	if loc := FormatLocator(src); loc != "" {
		parts = append(parts, loc)
	}
	parts = append(parts, "score "+strconv.FormatFloat(src.RelevanceScore, 'f', 2, 64))
	fmt.Fprintf(b, "  [%d] %s\n", n, strings.Join(parts, " · "))

	if o.snippets {
		if snippet := truncate(src.Snippet, o.maxSnippetLength); snippet != "" {
			fmt.Fprintf(b, "      %s\n", snippet)
		}
	}
	if src.URL != "" {
		fmt.Fprintf(b, "      %s\n", src.URL)
	}
}

// FormatLocator describes where in the document a source was found, for example
// "Page 3, Slide 2, Sheet: Q1, Section: Intro". Missing fields are left out.
func FormatLocator(src Source) string {
	var parts []string
	if src.Page != nil {
		parts = append(parts, fmt.Sprintf("Page %d", *src.Page))
	}
	if src.SlideNumber != nil {
		parts = append(parts, fmt.Sprintf("Slide %d", *src.SlideNumber))
	}
	if src.Sheet != nil && *src.Sheet != "" {
		parts = append(parts, "Sheet: "+*src.Sheet)
	}
	if src.CellRange != nil && *src.CellRange != "" {
		parts = append(parts, "Cells: "+*src.CellRange)
	}
	if src.Section != nil && *src.Section != "" {
		parts = append(parts, "Section: "+*src.Section)
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
