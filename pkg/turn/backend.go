package turn

import (
	"context"

	"github.com/go-go-golems/chatbot/pkg/conversation"
)

// CompletionRequest is what a backend receives for one turn.
type CompletionRequest struct {
	Model        string
	Instructions string
	// Messages is the context to send: the full history plus the new user message in history mode,
	// only the new user message in continuation mode.
	Messages conversation.Conversation
	// PreviousResponseID is the continuation token of the previous turn, empty on the first turn
	// and always empty in history mode.
	PreviousResponseID string
	MaxOutputTokens    int
	Temperature        float64
}

type Completion struct {
	// ID identifies the response on the remote service and is used as the next continuation token.
	ID   string
	Text string
}

// FragmentSource is a finite stream of reply fragments.
// Recv returns io.EOF once the remote service signals completion.
type FragmentSource interface {
	Recv() (string, error)
	// ID returns the response id, which is only guaranteed to be known once Recv has returned io.EOF.
	ID() string
	Close() error
}

// Backend is a remote model service.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Stream(ctx context.Context, req CompletionRequest) (FragmentSource, error)
	// SupportsContinuation reports whether the backend issues continuation tokens.
	SupportsContinuation() bool
}
