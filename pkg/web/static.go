package web

import (
	"embed"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

//go:embed static/index.html
var embeddedStatic embed.FS

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	b, err := embeddedStatic.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "page not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// LoadStylesheet reads the custom stylesheet of the chat page. A missing or unreadable file
// is logged and yields an empty stylesheet; it never stops the server.
func LoadStylesheet(path string) []byte {
	if path == "" {
		return []byte{}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not load stylesheet, using default styling")
		return []byte{}
	}
	log.Debug().Str("path", path).Int("bytes", len(b)).Msg("loaded stylesheet")
	return b
}
