// Package web serves a browser chat page backed by a Responder.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/helpers"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

type Config struct {
	Title       string
	Description string
	Placeholder string
	Examples    []string
	// MaxMessageLength is counted in characters. 0 disables the check.
	MaxMessageLength int
	DefaultParams    turn.Params
	// FlagOptions are the labels a reply can be flagged with. Empty disables flagging.
	FlagOptions []string
	// AllowAnyOrigin accepts websocket connections from other origins.
	AllowAnyOrigin bool
	Stylesheet     []byte
}

func DefaultConfig() Config {
	return Config{
		Title:       "AI Chatbot",
		Description: "🤖 Your friendly assistant in dark mode",
		Placeholder: "Ask me anything…",
		Examples: []string{
			"Who are you?",
			"Where is Texas?",
			"Are tomatoes vegetables?",
		},
		MaxMessageLength: 500,
		DefaultParams:    turn.DefaultParams(),
		FlagOptions:      []string{"Like", "Spam", "Inappropriate", "Other"},
	}
}

type Server struct {
	cfg       Config
	responder Responder
	metrics   *Metrics
	upgrader  websocket.Upgrader
}

func NewServer(cfg Config, responder Responder, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics("chatbot", nil)
	}
	return &Server{
		cfg:       cfg,
		responder: responder,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// non-browser clients
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)
	r.Get("/styles.css", s.handleStylesheet)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)

	r.Get("/api/config", s.handleConfig)
	r.Post("/api/chat", s.handleChat)
	r.Get("/api/chat/ws", s.handleChatWS)
	r.Post("/api/sessions/{id}/reset", s.handleReset)
	r.Post("/api/sessions/{id}/flag", s.handleFlag)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStylesheet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.cfg.Stylesheet)
}

type sliderConfig struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Step    float64 `json:"step"`
}

type configResponse struct {
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Placeholder      string       `json:"placeholder"`
	Examples         []string     `json:"examples"`
	MaxMessageLength int          `json:"max_message_length"`
	MaxOutputTokens  sliderConfig `json:"max_output_tokens"`
	Temperature      sliderConfig `json:"temperature"`
	Streaming        bool         `json:"streaming"`
	FlagOptions      []string     `json:"flagging_options"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	_, streaming := s.responder.(StreamResponder)
	respondJSON(w, http.StatusOK, configResponse{
		Title:            s.cfg.Title,
		Description:      s.cfg.Description,
		Placeholder:      s.cfg.Placeholder,
		Examples:         s.cfg.Examples,
		MaxMessageLength: s.cfg.MaxMessageLength,
		MaxOutputTokens: sliderConfig{
			Min:     turn.MinMaxOutputTokens,
			Max:     turn.MaxMaxOutputTokens,
			Default: float64(s.cfg.DefaultParams.MaxOutputTokens),
			Step:    1,
		},
		Temperature: sliderConfig{
			Min:     turn.MinTemperature,
			Max:     turn.MaxTemperature,
			Default: s.cfg.DefaultParams.Temperature,
			Step:    0.1,
		},
		Streaming:   streaming,
		FlagOptions: s.cfg.FlagOptions,
	})
}

// chatPayload is the wire form of a ChatRequest. Missing parameters take the configured defaults.
type chatPayload struct {
	SessionID       string                    `json:"session_id"`
	Message         string                    `json:"message"`
	History         conversation.Conversation `json:"history"`
	MaxOutputTokens *int                      `json:"max_output_tokens"`
	Temperature     *float64                  `json:"temperature"`
}

type chatResponse struct {
	SessionID string                    `json:"session_id"`
	Reply     string                    `json:"reply"`
	History   conversation.Conversation `json:"history"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

var errEmptyBody = errors.New("empty body")

func (s *Server) chatRequest(p chatPayload) (ChatRequest, error) {
	req := ChatRequest{
		SessionID: p.SessionID,
		Message:   p.Message,
		History:   p.History,
		Params: turn.Params{
			MaxOutputTokens: helpers.DerefOr(p.MaxOutputTokens, s.cfg.DefaultParams.MaxOutputTokens),
			Temperature:     helpers.DerefOr(p.Temperature, s.cfg.DefaultParams.Temperature),
		},
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, errors.Wrap(turn.ErrInvalidRequest, "empty message")
	}
	if s.cfg.MaxMessageLength > 0 && utf8.RuneCountInString(req.Message) > s.cfg.MaxMessageLength {
		return req, errors.Wrapf(turn.ErrInvalidRequest, "message longer than %d characters", s.cfg.MaxMessageLength)
	}
	if err := req.History.Validate(); err != nil {
		return req, errors.Wrap(turn.ErrInvalidRequest, err.Error())
	}
	return req, nil
}

// statusOf maps the failure kind onto the HTTP status of the chat API.
func statusOf(err error) int {
	switch turn.KindOf(err) {
	case turn.KindValidation:
		return http.StatusBadRequest
	case turn.KindTransport, turn.KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorDetailOf(err error) errorDetail {
	return errorDetail{Kind: turn.KindOf(err).String(), Message: err.Error()}
}

func (s *Server) respondFailure(w http.ResponseWriter, route string, err error) {
	status := statusOf(err)
	s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	respondJSON(w, status, errorResponse{Error: errorDetailOf(err)})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var p chatPayload
	if err := decodeJSON(r, &p); err != nil {
		s.respondFailure(w, "chat", errors.Wrap(turn.ErrInvalidRequest, err.Error()))
		return
	}
	req, err := s.chatRequest(p)
	if err != nil {
		s.respondFailure(w, "chat", err)
		return
	}

	reply, err := s.responder.Respond(helpers.ContextWithSessionID(r.Context(), req.SessionID), req)
	if err != nil {
		log.Debug().Err(err).Str("session_id", req.SessionID).Msg("chat request failed")
		s.respondFailure(w, "chat", err)
		return
	}

	s.metrics.HTTPRequests.WithLabelValues("chat", strconv.Itoa(http.StatusOK)).Inc()
	respondJSON(w, http.StatusOK, chatResponse{
		SessionID: req.SessionID,
		Reply:     reply,
		History: req.History.Append(
			conversation.NewUserMessage(req.Message),
			conversation.NewAssistantMessage(reply),
		),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		s.respondFailure(w, "reset", errors.Wrap(turn.ErrInvalidRequest, "missing session id"))
		return
	}
	if rs, ok := s.responder.(Resetter); ok {
		rs.Reset(id)
	}
	s.metrics.HTTPRequests.WithLabelValues("reset", strconv.Itoa(http.StatusOK)).Inc()
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "reset"})
}

type flagPayload struct {
	MessageIndex *int   `json:"message_index"`
	Option       string `json:"option"`
	// Content is the flagged text as shown on the page.
	Content string `json:"content"`
}

func (s *Server) flagOption(option string) (string, bool) {
	for _, o := range s.cfg.FlagOptions {
		if o == option {
			return o, true
		}
	}
	return "", false
}

// handleFlag records a reply flagged from the page. Flags are logged and counted, nothing is stored.
func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		s.respondFailure(w, "flag", errors.Wrap(turn.ErrInvalidRequest, "missing session id"))
		return
	}
	if len(s.cfg.FlagOptions) == 0 {
		s.respondFailure(w, "flag", errors.Wrap(turn.ErrInvalidRequest, "flagging is disabled"))
		return
	}
	var p flagPayload
	if err := decodeJSON(r, &p); err != nil {
		s.respondFailure(w, "flag", errors.Wrap(turn.ErrInvalidRequest, err.Error()))
		return
	}
	if p.MessageIndex == nil || *p.MessageIndex < 0 {
		s.respondFailure(w, "flag", errors.Wrap(turn.ErrInvalidRequest, "missing or negative message_index"))
		return
	}
	option, ok := s.flagOption(p.Option)
	if !ok {
		s.respondFailure(w, "flag", errors.Wrapf(turn.ErrInvalidRequest, "unknown flag option %q", p.Option))
		return
	}

	log.Info().
		Str("session_id", id).
		Int("message_index", *p.MessageIndex).
		Str("option", option).
		Str("content", p.Content).
		Msg("reply flagged")
	s.metrics.Flags.WithLabelValues(option).Inc()
	s.metrics.HTTPRequests.WithLabelValues("flag", strconv.Itoa(http.StatusOK)).Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":    id,
		"message_index": *p.MessageIndex,
		"option":        option,
		"status":        "flagged",
	})
}

// wsFrame is sent to the page while a streamed turn progresses.
type wsFrame struct {
	Type       string                    `json:"type"`
	SessionID  string                    `json:"session_id,omitempty"`
	Completion string                    `json:"completion,omitempty"`
	Reply      string                    `json:"reply,omitempty"`
	History    conversation.Conversation `json:"history,omitempty"`
	Kind       string                    `json:"kind,omitempty"`
	Message    string                    `json:"message,omitempty"`
}

func errorFrame(err error) wsFrame {
	d := errorDetailOf(err)
	return wsFrame{Type: "error", Kind: d.Kind, Message: d.Message}
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(1 << 20)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.metrics.WSMessages.WithLabelValues("inbound", "chat").Inc()

		frames := s.streamTurn(ctx, data)
		for f := range frames {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(f); err != nil {
				cancel()
				// let the turn wind down
				for range frames {
				}
				return
			}
			s.metrics.WSMessages.WithLabelValues("outbound", f.Type).Inc()
		}
	}
}

// streamTurn runs one turn and returns the frames to send, ending with a final or error frame.
func (s *Server) streamTurn(ctx context.Context, data []byte) <-chan wsFrame {
	out := make(chan wsFrame)
	go func() {
		defer close(out)
		send := func(f wsFrame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var p chatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			send(errorFrame(errors.Wrap(turn.ErrInvalidRequest, err.Error())))
			return
		}
		req, err := s.chatRequest(p)
		if err != nil {
			send(errorFrame(err))
			return
		}

		turnCtx := helpers.ContextWithSessionID(ctx, req.SessionID)
		s.metrics.ActiveStreams.Inc()
		defer s.metrics.ActiveStreams.Dec()

		var c <-chan helpers.Result[string]
		if sr, ok := s.responder.(StreamResponder); ok {
			c, err = sr.StreamRespond(turnCtx, req)
			if err != nil {
				send(errorFrame(err))
				return
			}
		} else {
			c = streamOnce(turnCtx, s.responder, req)
		}

		completion := ""
		for res := range c {
			v, err := res.Value()
			if err != nil {
				log.Debug().Err(err).Str("session_id", req.SessionID).Msg("chat stream failed")
				send(errorFrame(err))
				// drain so the producer can finish
				for range c {
				}
				return
			}
			completion = v
			if !send(wsFrame{Type: "partial", SessionID: req.SessionID, Completion: completion}) {
				for range c {
				}
				return
			}
		}

		send(wsFrame{
			Type:      "final",
			SessionID: req.SessionID,
			Reply:     completion,
			History: req.History.Append(
				conversation.NewUserMessage(req.Message),
				conversation.NewAssistantMessage(completion),
			),
		})
	}()
	return out
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
