package web

import (
	"context"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/helpers"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

// ChatRequest is what the chat page submits for one turn.
type ChatRequest struct {
	SessionID string                    `json:"session_id,omitempty"`
	Message   string                    `json:"message"`
	History   conversation.Conversation `json:"history,omitempty"`
	Params    turn.Params               `json:"-"`
}

// Responder is the callback behind the chat page: it receives the new message, the history
// owned by the page and the generation parameters, and returns the reply text.
type Responder interface {
	Respond(ctx context.Context, req ChatRequest) (string, error)
}

// StreamResponder yields the running concatenation of the reply; the last value is the full reply.
type StreamResponder interface {
	StreamRespond(ctx context.Context, req ChatRequest) (<-chan helpers.Result[string], error)
}

// Resetter is implemented by responders that keep per-session state.
type Resetter interface {
	Reset(sessionID string)
}

type ResponderFunc func(ctx context.Context, req ChatRequest) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, req ChatRequest) (string, error) {
	return f(ctx, req)
}

// HandlerResponder routes the chat page to a turn handler. Each page session gets its own
// context through turn.Sessions, whatever the handler's mode.
type HandlerResponder struct {
	sessions *turn.Sessions
}

var _ Responder = (*HandlerResponder)(nil)
var _ StreamResponder = (*HandlerResponder)(nil)
var _ Resetter = (*HandlerResponder)(nil)

func NewHandlerResponder(h *turn.Handler) *HandlerResponder {
	return &HandlerResponder{sessions: turn.NewSessions(h)}
}

func (r *HandlerResponder) Sessions() *turn.Sessions {
	return r.sessions
}

func (r *HandlerResponder) request(req ChatRequest) turn.Request {
	return turn.Request{
		Message: req.Message,
		// a nil history falls back to the one kept for the session
		History: req.History,
		Params:  req.Params,
	}
}

func (r *HandlerResponder) Respond(ctx context.Context, req ChatRequest) (string, error) {
	reply, err := r.sessions.Run(ctx, req.SessionID, r.request(req))
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (r *HandlerResponder) StreamRespond(ctx context.Context, req ChatRequest) (<-chan helpers.Result[string], error) {
	s, err := r.sessions.Stream(ctx, req.SessionID, r.request(req))
	if err != nil {
		return nil, err
	}

	c := make(chan helpers.Result[string])
	go func() {
		defer close(c)
		for res := range s.Chan() {
			p, err := res.Value()
			var out helpers.Result[string]
			if err != nil {
				out = helpers.NewErrorResult[string](err)
			} else {
				out = helpers.NewValueResult(p.Completion)
			}
			select {
			case c <- out:
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
		// failures were already forwarded on the channel
		_, _ = s.Wait()
	}()
	return c, nil
}

func (r *HandlerResponder) Reset(sessionID string) {
	r.sessions.Reset(sessionID)
}

// streamOnce adapts a plain Responder to the streaming contract with a single result.
func streamOnce(ctx context.Context, r Responder, req ChatRequest) <-chan helpers.Result[string] {
	c := make(chan helpers.Result[string], 1)
	reply, err := r.Respond(ctx, req)
	if err != nil {
		c <- helpers.NewErrorResult[string](err)
	} else {
		c <- helpers.NewValueResult(reply)
	}
	close(c)
	return c
}
