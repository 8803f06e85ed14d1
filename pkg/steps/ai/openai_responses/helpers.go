package openai_responses

import (
	"strings"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

// HTTP JSON models for the Responses API (text only)

type responsesRequest struct {
	Model              string           `json:"model"`
	Instructions       string           `json:"instructions,omitempty"`
	Input              []responsesInput `json:"input"`
	PreviousResponseID string           `json:"previous_response_id,omitempty"`
	MaxOutputTokens    *int             `json:"max_output_tokens,omitempty"`
	Temperature        *float64         `json:"temperature,omitempty"`
	Stream             bool             `json:"stream,omitempty"`
	Store              *bool            `json:"store,omitempty"`
}

type responsesInput struct {
	Role    string                 `json:"role"`
	Content []responsesContentPart `json:"content"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesResponse struct {
	ID                string                `json:"id"`
	Status            string                `json:"status,omitempty"`
	Output            []responsesOutputItem `json:"output"`
	Error             *responsesError       `json:"error,omitempty"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type,omitempty"`
	ID      string                   `json:"id,omitempty"`
	Content []responsesOutputContent `json:"content"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// errorBody is the envelope of non-2xx answers.
type errorBody struct {
	Error *responsesError `json:"error"`
}

// streamEvent covers the fields of the SSE payloads we act on.
type streamEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta"`
	Response *responsesResponse `json:"response,omitempty"`
	// error events carry either a nested error or flat fields
	Error   *responsesError `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func buildResponsesRequest(req turn.CompletionRequest, stream bool) responsesRequest {
	store := true
	ret := responsesRequest{
		Model:              req.Model,
		Instructions:       req.Instructions,
		Input:              buildInputItems(req.Messages),
		PreviousResponseID: req.PreviousResponseID,
		Stream:             stream,
		// stored responses are what previous_response_id refers to
		Store: &store,
	}
	if req.MaxOutputTokens > 0 {
		maxTokens := req.MaxOutputTokens
		ret.MaxOutputTokens = &maxTokens
	}
	if !isResponsesReasoningModel(req.Model) {
		temperature := req.Temperature
		ret.Temperature = &temperature
	}
	return ret
}

func buildInputItems(msgs conversation.Conversation) []responsesInput {
	ret := make([]responsesInput, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		partType := "input_text"
		if m.Role == conversation.RoleAssistant {
			partType = "output_text"
		}
		ret = append(ret, responsesInput{
			Role:    string(m.Role),
			Content: []responsesContentPart{{Type: partType, Text: m.Content}},
		})
	}
	return ret
}

// isResponsesReasoningModel returns true for models that do not accept temperature.
func isResponsesReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") ||
		strings.HasPrefix(m, "gpt-5")
}

// outputText concatenates the text parts of all message items.
func (r *responsesResponse) outputText() string {
	var sb strings.Builder
	for _, it := range r.Output {
		if it.Type != "message" {
			continue
		}
		for _, c := range it.Content {
			if c.Type == "output_text" || c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}

func remoteError(status int, e *responsesError, fallback string) *turn.RemoteError {
	ret := &turn.RemoteError{StatusCode: status, Message: fallback}
	if e != nil {
		if e.Message != "" {
			ret.Message = e.Message
		}
		ret.Code = e.Code
		if ret.Code == "" {
			ret.Code = e.Type
		}
	}
	return ret
}
