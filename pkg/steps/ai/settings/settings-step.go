package settings

import (
	"io"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAPIKey      = errors.New("missing api key: set OPENAI_API_KEY (or API_KEY) in the environment or .env")
	ErrUnknownApiType     = errors.New("unknown api type")
	ErrUnknownContextMode = errors.New("unknown context mode")
)

type StepSettings struct {
	Chat   *ChatSettings   `yaml:"chat,omitempty"`
	API    *APISettings    `yaml:"api,omitempty"`
	Client *ClientSettings `yaml:"client,omitempty"`
}

func NewStepSettings() *StepSettings {
	return &StepSettings{
		Chat:   NewChatSettings(),
		API:    NewAPISettings(),
		Client: NewClientSettings(),
	}
}

// NewStepSettingsFromYAML decodes settings on top of the defaults, so a file only needs to name
// the values it changes.
func NewStepSettingsFromYAML(s io.Reader) (*StepSettings, error) {
	ret := NewStepSettings()
	if err := yaml.NewDecoder(s).Decode(ret); err != nil {
		if errors.Is(err, io.EOF) {
			return ret, nil
		}
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if ret.Chat == nil {
		ret.Chat = NewChatSettings()
	}
	if ret.API == nil {
		ret.API = NewAPISettings()
	}
	if ret.Client == nil {
		ret.Client = NewClientSettings()
	}
	return ret, nil
}

func (ss *StepSettings) GetApiType() types.ApiType {
	if ss.Chat == nil || ss.Chat.ApiType == nil {
		return types.ApiTypeOpenAIResponses
	}
	return *ss.Chat.ApiType
}

func (ss *StepSettings) GetContextMode() types.ContextMode {
	if ss.Chat == nil || ss.Chat.ContextMode == nil {
		if ss.GetApiType() == types.ApiTypeOpenAIChat {
			return types.ContextModeHistory
		}
		return types.ContextModeContinuation
	}
	return *ss.Chat.ContextMode
}

// Validate checks the settings needed before anything is served.
// A missing credential is reported as ErrMissingAPIKey, which callers treat as fatal.
func (ss *StepSettings) Validate() error {
	if ss.Chat == nil {
		return errors.New("no chat settings")
	}
	apiType := ss.GetApiType()
	if !apiType.Valid() {
		return errors.Wrapf(ErrUnknownApiType, "%q", apiType)
	}
	mode := ss.GetContextMode()
	if !mode.Valid() {
		return errors.Wrapf(ErrUnknownContextMode, "%q", mode)
	}
	if apiType == types.ApiTypeOpenAIChat && mode == types.ContextModeContinuation {
		return errors.Errorf("api type %s cannot carry a continuation token, use context mode %s", apiType, types.ContextModeHistory)
	}
	if apiType != types.ApiTypeMock && ss.API.APIKey(OpenAIAPIKeySlug) == "" {
		return ErrMissingAPIKey
	}
	if ss.Chat.Engine == nil || *ss.Chat.Engine == "" {
		return errors.New("no engine specified")
	}
	return nil
}

// GetMetadata returns the non-secret settings, suitable for logging.
func (ss *StepSettings) GetMetadata() map[string]interface{} {
	metadata := make(map[string]interface{})

	if ss.Chat != nil {
		if ss.Chat.Engine != nil {
			metadata["ai-engine"] = *ss.Chat.Engine
		}
		metadata["ai-api-type"] = string(ss.GetApiType())
		metadata["ai-context-mode"] = string(ss.GetContextMode())
		if ss.Chat.MaxResponseTokens != nil {
			metadata["ai-max-response-tokens"] = *ss.Chat.MaxResponseTokens
		}
		if ss.Chat.Temperature != nil {
			metadata["ai-temperature"] = *ss.Chat.Temperature
		}
		metadata["ai-stream"] = ss.Chat.Stream
	}

	if ss.API != nil {
		if v, ok := ss.API.BaseUrls[OpenAIBaseURLSlug]; ok {
			metadata[OpenAIBaseURLSlug] = v
		}
		_, hasKey := ss.API.APIKeys[OpenAIAPIKeySlug]
		metadata["openai-api-key-set"] = hasKey
	}

	if ss.Client != nil && ss.Client.Timeout != nil {
		metadata["timeout"] = ss.Client.Timeout.String()
	}

	return metadata
}

func (ss *StepSettings) Clone() *StepSettings {
	ret := &StepSettings{}
	if ss.Chat != nil {
		ret.Chat = ss.Chat.Clone()
	}
	if ss.API != nil {
		ret.API = ss.API.Clone()
	}
	if ss.Client != nil {
		ret.Client = ss.Client.Clone()
	}
	return ret
}
