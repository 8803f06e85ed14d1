// Package openai talks to /v1/chat/completions compatible services (OpenAI, SambaNova, local servers).
// Those services keep no conversation state, so the backend only supports history mode.
package openai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/security"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

type Backend struct {
	client *go_openai.Client
}

var _ turn.Backend = (*Backend)(nil)

func NewBackend(s *settings.StepSettings) (*Backend, error) {
	if s == nil {
		return nil, errors.New("no settings")
	}
	client, err := MakeClient(s.API, s.Client)
	if err != nil {
		return nil, err
	}
	return &Backend{client: client}, nil
}

func MakeClient(apiSettings *settings.APISettings, clientSettings *settings.ClientSettings) (*go_openai.Client, error) {
	apiKey := apiSettings.APIKey(settings.OpenAIAPIKeySlug)
	if apiKey == "" {
		return nil, settings.ErrMissingAPIKey
	}
	allowLocal := clientSettings != nil && clientSettings.AllowLocalEndpoints
	baseURL, err := security.ValidateEndpoint(
		apiSettings.BaseURL(settings.OpenAIBaseURLSlug, settings.DefaultOpenAIBaseURL),
		security.EndpointOptions{AllowLocal: allowLocal},
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid openai chat URL")
	}

	config := go_openai.DefaultConfig(apiKey)
	config.BaseURL = strings.TrimRight(baseURL.String(), "/")
	config.HTTPClient = clientSettings.GetHTTPClient()
	return go_openai.NewClientWithConfig(config), nil
}

func (b *Backend) SupportsContinuation() bool {
	return false
}

func makeCompletionRequest(req turn.CompletionRequest, stream bool) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    roleOf(m.Role),
			Content: m.Content,
		})
	}

	temperature := float32(req.Temperature)
	if temperature == 0 {
		// temperature is omitempty, 0 would fall back to the service default of 1
		temperature = math.SmallestNonzeroFloat32
	}

	return go_openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

func roleOf(r conversation.Role) string {
	switch r {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
}

func (b *Backend) Complete(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	creq := makeCompletionRequest(req, false)
	log.Debug().Str("model", creq.Model).Int("messages", len(creq.Messages)).Msg("Chat: sending request")

	resp, err := b.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &turn.RemoteError{Message: "no choices in response"}
	}
	log.Debug().
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Chat: response received")
	return &turn.Completion{ID: resp.ID, Text: resp.Choices[0].Message.Content}, nil
}

func (b *Backend) Stream(ctx context.Context, req turn.CompletionRequest) (turn.FragmentSource, error) {
	creq := makeCompletionRequest(req, true)
	log.Debug().Str("model", creq.Model).Int("messages", len(creq.Messages)).Msg("Chat: opening stream")

	stream, err := b.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		return nil, mapError(err)
	}
	return &chatStream{stream: stream}, nil
}

type chatStream struct {
	stream *go_openai.ChatCompletionStream
	id     string
}

func (s *chatStream) Recv() (string, error) {
	response, err := s.stream.Recv()
	if err != nil {
		return "", mapError(err)
	}
	if response.ID != "" {
		s.id = response.ID
	}
	if len(response.Choices) == 0 {
		return "", nil
	}
	return response.Choices[0].Delta.Content, nil
}

func (s *chatStream) ID() string {
	return s.id
}

func (s *chatStream) Close() error {
	s.stream.Close()
	return nil
}

// mapError turns go-openai failures into the turn error taxonomy.
// io.EOF and transport errors are returned as is.
func mapError(err error) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &turn.RemoteError{StatusCode: apiErr.HTTPStatusCode, Code: code, Message: apiErr.Message}
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &turn.RemoteError{StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return err
}
