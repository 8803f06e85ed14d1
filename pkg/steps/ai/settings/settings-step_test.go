package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewStepSettingsFromYAMLKeepsDefaults(t *testing.T) {
	s, err := NewStepSettingsFromYAML(strings.NewReader(`
chat:
  api_type: openai-chat
  engine: Meta-Llama-3.1-70B-Instruct-8k
  context_mode: history
api:
  base_urls:
    openai-base-url: https://api.sambanova.ai/v1/
client:
  timeout: 5
`))
	require.NoError(t, err)

	require.Equal(t, types.ApiTypeOpenAIChat, s.GetApiType())
	require.Equal(t, types.ContextModeHistory, s.GetContextMode())
	require.Equal(t, "Meta-Llama-3.1-70B-Instruct-8k", *s.Chat.Engine)
	require.Equal(t, DefaultMaxResponseTokens, *s.Chat.MaxResponseTokens)
	require.Equal(t, DefaultInstructions, *s.Chat.Instructions)
	require.Equal(t, "https://api.sambanova.ai/v1/", s.API.BaseURL(OpenAIBaseURLSlug, DefaultOpenAIBaseURL))
	require.Equal(t, 5*time.Second, *s.Client.Timeout)
}

func TestNewStepSettingsFromEmptyYAML(t *testing.T) {
	s, err := NewStepSettingsFromYAML(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, types.ApiTypeOpenAIResponses, s.GetApiType())
	require.Equal(t, types.ContextModeContinuation, s.GetContextMode())
}

func TestValidateRequiresAPIKey(t *testing.T) {
	s := NewStepSettings()
	require.True(t, errors.Is(s.Validate(), ErrMissingAPIKey))

	s.API.APIKeys[OpenAIAPIKeySlug] = "sk-test"
	require.NoError(t, s.Validate())

	mock := types.ApiTypeMock
	s = NewStepSettings()
	s.Chat.ApiType = &mock
	require.NoError(t, s.Validate())
}

func TestValidateRejectsContinuationOnChatCompletions(t *testing.T) {
	s := NewStepSettings()
	s.API.APIKeys[OpenAIAPIKeySlug] = "sk-test"
	apiType := types.ApiTypeOpenAIChat
	mode := types.ContextModeContinuation
	s.Chat.ApiType = &apiType
	s.Chat.ContextMode = &mode
	require.Error(t, s.Validate())

	s.Chat.ContextMode = nil
	require.Equal(t, types.ContextModeHistory, s.GetContextMode())
	require.NoError(t, s.Validate())
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	s := NewStepSettings()
	s.API.APIKeys[OpenAIAPIKeySlug] = "sk-test"
	apiType := types.ApiType("claude")
	s.Chat.ApiType = &apiType
	require.True(t, errors.Is(s.Validate(), ErrUnknownApiType))

	s = NewStepSettings()
	s.API.APIKeys[OpenAIAPIKeySlug] = "sk-test"
	mode := types.ContextMode("both")
	s.Chat.ContextMode = &mode
	require.True(t, errors.Is(s.Validate(), ErrUnknownContextMode))
}

func TestGetMetadataDoesNotLeakAPIKey(t *testing.T) {
	s := NewStepSettings()
	s.API.APIKeys[OpenAIAPIKeySlug] = "sk-secret"

	md := s.GetMetadata()
	for _, v := range md {
		if str, ok := v.(string); ok {
			require.NotContains(t, str, "sk-secret")
		}
	}
	require.Equal(t, true, md["openai-api-key-set"])
}

func TestCloneIsDeep(t *testing.T) {
	s := NewStepSettings()
	s.API.APIKeys[OpenAIAPIKeySlug] = "a"
	c := s.Clone()
	c.API.APIKeys[OpenAIAPIKeySlug] = "b"
	*c.Chat.Temperature = 0.2

	require.Equal(t, "a", s.API.APIKeys[OpenAIAPIKeySlug])
	require.Equal(t, DefaultTemperature, *s.Chat.Temperature)
}
