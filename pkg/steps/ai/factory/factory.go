// Package factory builds backends and turn handlers from settings.
package factory

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/mock"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/openai"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/openai_responses"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

func NewBackend(s *settings.StepSettings) (turn.Backend, error) {
	if s == nil {
		return nil, errors.New("no settings")
	}
	switch s.GetApiType() {
	case types.ApiTypeOpenAIResponses:
		return openai_responses.NewBackend(s)
	case types.ApiTypeOpenAIChat:
		return openai.NewBackend(s)
	case types.ApiTypeMock:
		var options []mock.Option
		if s.GetContextMode() == types.ContextModeHistory {
			options = append(options, mock.WithoutContinuation())
		}
		if s.Client != nil && s.Client.MockFragmentDelay > 0 {
			options = append(options, mock.WithTimePerFragment(s.Client.MockFragmentDelay))
		}
		return mock.NewBackend(options...), nil
	default:
		return nil, errors.Wrapf(settings.ErrUnknownApiType, "%q", s.GetApiType())
	}
}

// NewHandler validates the settings and builds a handler running in the configured context mode.
// Extra options are applied after the ones derived from settings.
func NewHandler(s *settings.StepSettings, options ...turn.Option) (*turn.Handler, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	backend, err := NewBackend(s)
	if err != nil {
		return nil, err
	}

	opts := []turn.Option{
		turn.WithMode(s.GetContextMode()),
		turn.WithModel(*s.Chat.Engine),
	}
	if s.Chat.Instructions != nil {
		opts = append(opts, turn.WithInstructions(*s.Chat.Instructions))
	}
	if s.GetContextMode() == types.ContextModeHistory {
		// only used to log the prompt size estimate
		if counter, err := turn.NewTiktokenCounter(*s.Chat.Engine); err == nil {
			opts = append(opts, turn.WithTokenCounter(counter))
		}
	}
	return turn.NewHandler(backend, append(opts, options...)...)
}

// DefaultParams returns the generation parameters configured in settings.
func DefaultParams(s *settings.StepSettings) turn.Params {
	p := turn.DefaultParams()
	if s == nil || s.Chat == nil {
		return p
	}
	if s.Chat.MaxResponseTokens != nil {
		p.MaxOutputTokens = *s.Chat.MaxResponseTokens
	}
	if s.Chat.Temperature != nil {
		p.Temperature = *s.Chat.Temperature
	}
	return p
}
