// Package mock provides a Backend answering locally, for demos and tests.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot/pkg/turn"
)

// Responder computes the reply text for a request.
type Responder func(req turn.CompletionRequest) (string, error)

// Echo answers with the last message, prefixed with the continuation token it was given
// and the amount of context it received. Useful to see what the handler sends.
func Echo(req turn.CompletionRequest) (string, error) {
	last := req.Messages.Last()
	if last == nil {
		return "", errors.New("no input")
	}
	if req.PreviousResponseID != "" {
		return fmt.Sprintf("You said: %s (continuing %s)", last.Content, req.PreviousResponseID), nil
	}
	return fmt.Sprintf("You said: %s (%d messages of context)", last.Content, len(req.Messages)), nil
}

// Fixed answers every request with text.
func Fixed(text string) Responder {
	return func(turn.CompletionRequest) (string, error) {
		return text, nil
	}
}

// RoundRobin cycles through replies.
func RoundRobin(replies ...string) Responder {
	var mu sync.Mutex
	index := 0
	return func(turn.CompletionRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return "", nil
		}
		r := replies[index]
		index = (index + 1) % len(replies)
		return r, nil
	}
}

// Failing fails every request with err.
func Failing(err error) Responder {
	return func(turn.CompletionRequest) (string, error) {
		return "", err
	}
}

type Backend struct {
	respond         Responder
	chunkSize       int
	timePerFragment time.Duration
	noContinuation  bool

	mu       sync.Mutex
	requests []turn.CompletionRequest
}

var _ turn.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithResponder(r Responder) Option {
	return func(b *Backend) {
		b.respond = r
	}
}

// WithChunkSize sets how many runes each streamed fragment holds.
func WithChunkSize(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.chunkSize = n
		}
	}
}

func WithTimePerFragment(d time.Duration) Option {
	return func(b *Backend) {
		b.timePerFragment = d
	}
}

// WithoutContinuation makes the backend behave like a chat completions service, which keeps no context.
func WithoutContinuation() Option {
	return func(b *Backend) {
		b.noContinuation = true
	}
}

func NewBackend(options ...Option) *Backend {
	b := &Backend{
		respond:   Echo,
		chunkSize: 4,
	}
	for _, o := range options {
		o(b)
	}
	return b
}

// Requests returns a copy of all the requests received so far.
func (b *Backend) Requests() []turn.CompletionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	ret := make([]turn.CompletionRequest, len(b.requests))
	for i, r := range b.requests {
		r.Messages = r.Messages.Clone()
		ret[i] = r
	}
	return ret
}

func (b *Backend) SupportsContinuation() bool {
	return !b.noContinuation
}

func (b *Backend) answer(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	req.Messages = req.Messages.Clone()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	text, err := b.respond(req)
	if err != nil {
		return nil, err
	}
	return &turn.Completion{ID: b.newID(), Text: truncate(text, req.MaxOutputTokens)}, nil
}

func (b *Backend) newID() string {
	if b.noContinuation {
		return "chatcmpl-" + uuid.NewString()
	}
	return "resp_" + uuid.NewString()
}

// truncate roughly honors the output budget, counting a word as a token.
func truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	words := 0
	inWord := false
	for i, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
			if words > maxTokens {
				return text[:i]
			}
		}
	}
	return text
}

func (b *Backend) Complete(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	return b.answer(ctx, req)
}

func (b *Backend) Stream(ctx context.Context, req turn.CompletionRequest) (turn.FragmentSource, error) {
	c, err := b.answer(ctx, req)
	if err != nil {
		return nil, err
	}
	return &fragmentSource{
		ctx:             ctx,
		id:              c.ID,
		remaining:       c.Text,
		chunkSize:       b.chunkSize,
		timePerFragment: b.timePerFragment,
	}, nil
}

type fragmentSource struct {
	ctx             context.Context
	id              string
	remaining       string
	chunkSize       int
	timePerFragment time.Duration
}

func (s *fragmentSource) Recv() (string, error) {
	if s.remaining == "" {
		return "", io.EOF
	}
	if s.timePerFragment > 0 {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-time.After(s.timePerFragment):
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}

	end := 0
	for i := 0; i < s.chunkSize && end < len(s.remaining); i++ {
		_, size := utf8.DecodeRuneInString(s.remaining[end:])
		end += size
	}
	frag := s.remaining[:end]
	s.remaining = s.remaining[end:]
	return frag, nil
}

func (s *fragmentSource) ID() string {
	return s.id
}

func (s *fragmentSource) Close() error {
	s.remaining = ""
	return nil
}
