// Package cmds holds the chatbot subcommands.
package cmds

import (
	"bytes"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/types"
)

// apiKeyVariables are checked in order for the credential.
var apiKeyVariables = []string{"CHATBOT_API_KEY", "OPENAI_API_KEY", "API_KEY"}

func addChatFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("api-type", string(types.ApiTypeOpenAIResponses), "Backend (openai-responses, openai-chat, mock)")
	flags.String("model", settings.DefaultEngine, "Model name")
	flags.String("base-url", "", "Base URL of the API (default "+settings.DefaultOpenAIBaseURL+")")
	flags.String("context-mode", "", "How context is carried between turns (history, continuation; default derived from --api-type)")
	flags.Int("max-output-tokens", settings.DefaultMaxResponseTokens, "Default maximum number of output tokens")
	flags.Float64("temperature", settings.DefaultTemperature, "Default sampling temperature")
	flags.Bool("stream", true, "Stream replies as they are generated")
	flags.String("instructions", settings.DefaultInstructions, "Instructions sent to the model with every turn")
	flags.Duration("timeout", 60*time.Second, "Timeout of a single request to the API")
	flags.Bool("allow-local-endpoints", false, "Allow plain http and local network base URLs")
	flags.Duration("mock-delay", 0, "Delay between streamed fragments of the mock backend")
}

func bindFlags(cmd *cobra.Command) error {
	return errors.Wrap(viper.BindPFlags(cmd.Flags()), "could not bind flags")
}

func lookupAPIKey() string {
	for _, name := range apiKeyVariables {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// stepSettingsFromViper layers the config file, environment and flags on top of the defaults.
// The "chat", "api" and "client" sections of the config file use the yaml layout of
// settings.StepSettings. Flags only override values they were explicitly given for.
func stepSettingsFromViper() (*settings.StepSettings, error) {
	sections := map[string]interface{}{}
	for _, key := range []string{"chat", "api", "client"} {
		if viper.IsSet(key) {
			sections[key] = viper.Get(key)
		}
	}
	b, err := yaml.Marshal(sections)
	if err != nil {
		return nil, errors.Wrap(err, "could not read settings from config")
	}
	s, err := settings.NewStepSettingsFromYAML(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if s.API.APIKeys == nil {
		s.API.APIKeys = map[string]string{}
	}
	if s.API.BaseUrls == nil {
		s.API.BaseUrls = map[string]string{}
	}

	if viper.IsSet("api-type") {
		apiType := types.ApiType(viper.GetString("api-type"))
		s.Chat.ApiType = &apiType
	}
	if viper.IsSet("model") {
		model := viper.GetString("model")
		s.Chat.Engine = &model
	}
	if viper.IsSet("max-output-tokens") {
		maxTokens := viper.GetInt("max-output-tokens")
		s.Chat.MaxResponseTokens = &maxTokens
	}
	if viper.IsSet("temperature") {
		temperature := viper.GetFloat64("temperature")
		s.Chat.Temperature = &temperature
	}
	if viper.IsSet("instructions") {
		instructions := viper.GetString("instructions")
		s.Chat.Instructions = &instructions
	}
	if viper.IsSet("stream") {
		s.Chat.Stream = viper.GetBool("stream")
	}
	if mode := viper.GetString("context-mode"); mode != "" {
		m := types.ContextMode(mode)
		s.Chat.ContextMode = &m
	}

	if key := lookupAPIKey(); key != "" {
		s.API.APIKeys[settings.OpenAIAPIKeySlug] = key
	}
	if baseURL := viper.GetString("base-url"); baseURL != "" {
		s.API.BaseUrls[settings.OpenAIBaseURLSlug] = baseURL
	} else if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		s.API.BaseUrls[settings.OpenAIBaseURLSlug] = baseURL
	}

	if timeout := viper.GetDuration("timeout"); viper.IsSet("timeout") && timeout > 0 {
		seconds := int(timeout.Seconds())
		s.Client.Timeout = &timeout
		s.Client.TimeoutSeconds = &seconds
	}
	if viper.GetBool("allow-local-endpoints") {
		s.Client.AllowLocalEndpoints = true
	}
	if viper.IsSet("mock-delay") {
		s.Client.MockFragmentDelay = viper.GetDuration("mock-delay")
	}

	if err := s.Validate(); err != nil {
		if errors.Is(err, settings.ErrMissingAPIKey) {
			return nil, errors.Wrapf(err, "checked %s", strings.Join(apiKeyVariables, ", "))
		}
		return nil, err
	}
	log.Debug().Fields(s.GetMetadata()).Msg("settings")

	return s, nil
}
