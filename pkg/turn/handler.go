package turn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/events"
	"github.com/go-go-golems/chatbot/pkg/helpers"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
)

// Mode is the per-deployment context strategy. A handler uses exactly one.
type Mode = types.ContextMode

const (
	ModeHistory      = types.ContextModeHistory
	ModeContinuation = types.ContextModeContinuation
)

// ContinuationToken lets the remote service rebuild the context of a conversation.
// Tokens are opaque and scoped to a single conversation.
type ContinuationToken string

var ErrInvalidRequest = errors.New("invalid turn request")

type Request struct {
	Message string
	// History is the prior conversation, used in history mode.
	History conversation.Conversation
	// Token is the continuation token returned by the previous turn, used in continuation mode.
	Token  ContinuationToken
	Params Params
	// SessionID is only used to tag logs and events.
	SessionID string
}

type Reply struct {
	Text string
	// Token is the fresh continuation token (continuation mode only).
	Token ContinuationToken
	// History is the request history extended with the user message and the reply (history mode only).
	History conversation.Conversation
}

// Handler runs conversation turns against a Backend. It holds no per-conversation state and is
// safe for concurrent use; continuation tokens flow in through Request and out through Reply.
type Handler struct {
	backend      Backend
	mode         Mode
	model        string
	instructions string
	publisher    *events.PublisherManager
	counter      TokenCounter
	logger       *zerolog.Logger
}

type Option func(*Handler) error

func WithMode(mode Mode) Option {
	return func(h *Handler) error {
		if !mode.Valid() {
			return errors.Errorf("unknown context mode %q", mode)
		}
		h.mode = mode
		return nil
	}
}

func WithModel(model string) Option {
	return func(h *Handler) error {
		h.model = model
		return nil
	}
}

func WithInstructions(instructions string) Option {
	return func(h *Handler) error {
		h.instructions = instructions
		return nil
	}
}

func WithPublisher(publisher *events.PublisherManager) Option {
	return func(h *Handler) error {
		h.publisher = publisher
		return nil
	}
}

func WithTokenCounter(counter TokenCounter) Option {
	return func(h *Handler) error {
		h.counter = counter
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) error {
		h.logger = &logger
		return nil
	}
}

func NewHandler(backend Backend, options ...Option) (*Handler, error) {
	if backend == nil {
		return nil, errors.New("no backend")
	}
	h := &Handler{
		backend:      backend,
		mode:         ModeHistory,
		instructions: "You are a friendly assistant chatbot. Answer directly and concisely.",
	}
	for _, o := range options {
		if err := o(h); err != nil {
			return nil, err
		}
	}
	if h.mode == ModeContinuation && !backend.SupportsContinuation() {
		return nil, errors.New("backend does not issue continuation tokens, use history mode")
	}
	return h, nil
}

func (h *Handler) Mode() Mode {
	return h.mode
}

func (h *Handler) log() *zerolog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return &log.Logger
}

// Run executes one non-streaming turn: exactly one backend call.
// On failure the returned error is a *Error and no context update happens.
func (h *Handler) Run(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()
	md := h.metadata(req)

	creq, err := h.prepare(req)
	if err != nil {
		return nil, h.fail(ctx, "run", md, req, start, err)
	}

	h.publisher.PublishBlind(ctx, events.NewStartEvent(md))
	c, err := h.backend.Complete(ctx, creq)
	if err != nil {
		return nil, h.fail(ctx, "run", md, req, start, err)
	}

	reply, err := h.finish(req, c.ID, c.Text)
	if err != nil {
		return nil, h.fail(ctx, "run", md, req, start, err)
	}
	h.succeed(ctx, md, req, reply, start)
	return reply, nil
}

// prepare validates the request and builds what the backend receives.
func (h *Handler) prepare(req Request) (CompletionRequest, error) {
	if err := req.Params.Validate(); err != nil {
		return CompletionRequest{}, err
	}

	creq := CompletionRequest{
		Model:           h.model,
		Instructions:    h.instructions,
		MaxOutputTokens: req.Params.MaxOutputTokens,
		Temperature:     req.Params.Temperature,
	}
	user := conversation.NewUserMessage(req.Message)

	switch h.mode {
	case ModeContinuation:
		if len(req.History) > 0 {
			h.log().Debug().Int("history_len", len(req.History)).Msg("continuation mode, ignoring supplied history")
		}
		creq.Messages = conversation.Conversation{user}
		creq.PreviousResponseID = string(req.Token)
	default:
		if req.Token != "" {
			h.log().Debug().Msg("history mode, ignoring supplied continuation token")
		}
		if err := req.History.Validate(); err != nil {
			return CompletionRequest{}, errors.Wrap(ErrInvalidRequest, err.Error())
		}
		creq.Messages = req.History.Clone().Append(user)
	}

	return creq, nil
}

// finish turns the backend answer into a Reply, checking the continuation token in continuation mode.
func (h *Handler) finish(req Request, id string, text string) (*Reply, error) {
	reply := &Reply{Text: text}
	switch h.mode {
	case ModeContinuation:
		if id == "" {
			return nil, &RemoteError{Message: "response carries no continuation token"}
		}
		if ContinuationToken(id) == req.Token {
			return nil, &RemoteError{Message: "response reused the supplied continuation token"}
		}
		reply.Token = ContinuationToken(id)
	default:
		reply.History = req.History.Append(
			conversation.NewUserMessage(req.Message),
			conversation.NewAssistantMessage(text),
		)
	}
	return reply, nil
}

func (h *Handler) metadata(req Request) events.EventMetadata {
	return events.EventMetadata{
		ID:          uuid.New(),
		SessionID:   req.SessionID,
		Mode:        string(h.mode),
		Model:       h.model,
		Temperature: helpers.ToPtr(req.Params.Temperature),
		MaxTokens:   helpers.ToPtr(req.Params.MaxOutputTokens),
	}
}

func (h *Handler) logEvent(e *zerolog.Event, md events.EventMetadata, req Request, start time.Time) *zerolog.Event {
	e = e.
		Str("mode", string(h.mode)).
		Str("model", h.model).
		Int("max_output_tokens", req.Params.MaxOutputTokens).
		Float64("temperature", req.Params.Temperature).
		Dur("duration", time.Since(start)).
		Str("turn_id", md.ID.String())
	if req.SessionID != "" {
		e = e.Str("session_id", req.SessionID)
	}
	if h.mode == ModeHistory {
		e = e.Int("history_len", len(req.History))
		if h.counter != nil {
			if n, err := CountConversation(h.counter, req.History, req.Message); err == nil {
				e = e.Int("prompt_tokens_estimate", n)
			}
		}
	}
	return e
}

func (h *Handler) fail(ctx context.Context, op string, md events.EventMetadata, req Request, start time.Time, err error) *Error {
	te := newError(op, err)
	h.logEvent(h.log().Error(), md, req, start).
		Str("kind", te.Kind.String()).
		Err(te.Err).
		Msg("turn failed")

	d := time.Since(start).Milliseconds()
	md.DurationMs = &d
	h.publisher.PublishBlind(ctx, events.NewErrorEvent(md, te.Kind.String(), te.Err))
	return te
}

func (h *Handler) succeed(ctx context.Context, md events.EventMetadata, req Request, reply *Reply, start time.Time) {
	h.logEvent(h.log().Info(), md, req, start).
		Int("reply_len", len(reply.Text)).
		Msg("turn completed")

	d := time.Since(start).Milliseconds()
	md.DurationMs = &d
	h.publisher.PublishBlind(ctx, events.NewFinalEvent(md, reply.Text))
}
