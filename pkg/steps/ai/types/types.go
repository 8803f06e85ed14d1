package types

type ApiType string

const (
	// ApiTypeOpenAIResponses talks to the /v1/responses endpoint and can continue
	// a conversation server-side through previous_response_id.
	ApiTypeOpenAIResponses ApiType = "openai-responses"
	// ApiTypeOpenAIChat talks to any /v1/chat/completions compatible endpoint (OpenAI, SambaNova, ...).
	ApiTypeOpenAIChat ApiType = "openai-chat"
	// ApiTypeMock answers locally without any network access.
	ApiTypeMock ApiType = "mock"
)

func (a ApiType) Valid() bool {
	switch a {
	case ApiTypeOpenAIResponses, ApiTypeOpenAIChat, ApiTypeMock:
		return true
	default:
		return false
	}
}

// ContextMode selects how a deployment carries conversation context between turns.
type ContextMode string

const (
	// ContextModeHistory resends the full history on every turn.
	ContextModeHistory ContextMode = "history"
	// ContextModeContinuation sends only the new message plus the previous continuation token.
	ContextModeContinuation ContextMode = "continuation"
)

func (m ContextMode) Valid() bool {
	return m == ContextModeHistory || m == ContextModeContinuation
}
