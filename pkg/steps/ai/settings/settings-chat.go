package settings

import (
	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
	"github.com/huandu/go-clone"
)

const (
	DefaultEngine       = "gpt-4.1-nano"
	DefaultInstructions = "You are a friendly assistant chatbot. Answer directly and concisely."

	DefaultMaxResponseTokens = 256
	DefaultTemperature       = 1.0
)

type ChatSettings struct {
	Engine            *string            `yaml:"engine,omitempty"`
	ApiType           *types.ApiType     `yaml:"api_type,omitempty"`
	MaxResponseTokens *int               `yaml:"max_response_tokens,omitempty"`
	Temperature       *float64           `yaml:"temperature,omitempty"`
	Stream            bool               `yaml:"stream,omitempty"`
	Instructions      *string            `yaml:"instructions,omitempty"`
	// ContextMode is derived from ApiType when unset.
	ContextMode *types.ContextMode `yaml:"context_mode,omitempty"`
}

func NewChatSettings() *ChatSettings {
	engine := DefaultEngine
	apiType := types.ApiTypeOpenAIResponses
	maxTokens := DefaultMaxResponseTokens
	temperature := DefaultTemperature
	instructions := DefaultInstructions

	return &ChatSettings{
		Engine:            &engine,
		ApiType:           &apiType,
		MaxResponseTokens: &maxTokens,
		Temperature:       &temperature,
		Stream:            true,
		Instructions:      &instructions,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}
