package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/rs/zerolog/log"
)

func wrapWords(text string, width int) string {
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}

// markdownRenderer renders finished assistant replies. Streaming text is only word-wrapped,
// re-rendering markdown on every fragment flickers.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

func (r *markdownRenderer) resize(width int) {
	if width <= 0 || (r.renderer != nil && width == r.width) {
		return
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if r.style == "" || r.style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(r.style))
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		log.Warn().Err(err).Str("style", r.style).Msg("could not create markdown renderer, falling back to plain text")
		r.renderer = nil
		return
	}
	r.width = width
	r.renderer = renderer
}

func (r *markdownRenderer) render(text string) string {
	if r.renderer == nil {
		return wrapWords(text, r.width)
	}
	out, err := r.renderer.Render(text)
	if err != nil {
		return wrapWords(text, r.width)
	}
	return strings.Trim(out, "\n")
}
