package openai_responses

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := settings.NewStepSettings()
	s.API.APIKeys[settings.OpenAIAPIKeySlug] = "sk-test"
	s.API.BaseUrls[settings.OpenAIBaseURLSlug] = srv.URL + "/v1"
	s.Client.AllowLocalEndpoints = true
	b, err := NewBackend(s)
	require.NoError(t, err)
	return b
}

func decodeRequest(t *testing.T, r *http.Request) responsesRequest {
	require.Equal(t, http.MethodPost, r.Method)
	require.Equal(t, "/v1/responses", r.URL.Path)
	require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
	var req responsesRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestNewBackendRejectsUnsafeOrMissingConfig(t *testing.T) {
	s := settings.NewStepSettings()
	_, err := NewBackend(s)
	require.ErrorIs(t, err, settings.ErrMissingAPIKey)

	s.API.APIKeys[settings.OpenAIAPIKeySlug] = "sk-test"
	s.API.BaseUrls[settings.OpenAIBaseURLSlug] = "http://127.0.0.1:9/v1"
	_, err = NewBackend(s)
	require.Error(t, err)
}

func TestCompleteWhereIsTexas(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		require.Equal(t, "gpt-4.1-nano", req.Model)
		require.Equal(t, "Be brief.", req.Instructions)
		require.Equal(t, 256, *req.MaxOutputTokens)
		require.Equal(t, 1.0, *req.Temperature)
		require.Len(t, req.Input, 1)
		require.Equal(t, "user", req.Input[0].Role)
		require.Equal(t, "Where is Texas?", req.Input[0].Content[0].Text)
		require.Empty(t, req.PreviousResponseID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"resp_1","status":"completed","output":[
			{"type":"message","content":[{"type":"output_text","text":"Texas is in the southern United States."}]}]}`)
	})

	c, err := b.Complete(context.Background(), turn.CompletionRequest{
		Model:           "gpt-4.1-nano",
		Instructions:    "Be brief.",
		Messages:        conversation.Conversation{conversation.NewUserMessage("Where is Texas?")},
		MaxOutputTokens: 256,
		Temperature:     1.0,
	})
	require.NoError(t, err)
	require.Equal(t, "resp_1", c.ID)
	require.Equal(t, "Texas is in the southern United States.", c.Text)
}

func TestCompleteSendsPreviousResponseID(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		require.Equal(t, "resp_1", req.PreviousResponseID)
		// reasoning models take no temperature
		require.Nil(t, req.Temperature)
		_, _ = io.WriteString(w, `{"id":"resp_2","output":[]}`)
	})

	c, err := b.Complete(context.Background(), turn.CompletionRequest{
		Model:              "o3-mini",
		Messages:           conversation.Conversation{conversation.NewUserMessage("and?")},
		PreviousResponseID: "resp_1",
		MaxOutputTokens:    16,
		Temperature:        1,
	})
	require.NoError(t, err)
	require.Equal(t, "resp_2", c.ID)
}

func TestCompleteRemoteFailure(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	})

	_, err := b.Complete(context.Background(), turn.CompletionRequest{Model: "gpt-4.1-nano"})
	var re *turn.RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, http.StatusUnauthorized, re.StatusCode)
	require.Equal(t, "invalid_api_key", re.Code)
	require.Equal(t, turn.KindRemote, turn.KindOf(err))
}

func TestCompleteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	s := settings.NewStepSettings()
	s.API.APIKeys[settings.OpenAIAPIKeySlug] = "sk-test"
	s.API.BaseUrls[settings.OpenAIBaseURLSlug] = url + "/v1"
	s.Client.AllowLocalEndpoints = true
	b, err := NewBackend(s)
	require.NoError(t, err)

	_, err = b.Complete(context.Background(), turn.CompletionRequest{Model: "gpt-4.1-nano"})
	require.Equal(t, turn.KindTransport, turn.KindOf(err))
}

func sse(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		_, _ = io.WriteString(w, e)
	}
}

func event(name string, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
}

func TestStreamDeltasAndID(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		require.True(t, req.Stream)
		sse(w,
			event("response.created", `{"type":"response.created","response":{"id":"resp_9"}}`),
			": keep-alive\n\n",
			event("response.output_text.delta", `{"type":"response.output_text.delta","delta":"Texas is "}`),
			event("response.output_text.delta", `{"type":"response.output_text.delta","delta":"in the southern United States."}`),
			event("response.completed", `{"type":"response.completed","response":{"id":"resp_9","status":"completed"}}`),
		)
	})

	src, err := b.Stream(context.Background(), turn.CompletionRequest{Model: "gpt-4.1-nano", MaxOutputTokens: 256, Temperature: 1})
	require.NoError(t, err)
	defer src.Close()

	var sb strings.Builder
	for {
		frag, err := src.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sb.WriteString(frag)
	}
	require.Equal(t, "Texas is in the southern United States.", sb.String())
	require.Equal(t, "resp_9", src.ID())
}

func TestStreamErrorEvent(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			event("response.output_text.delta", `{"delta":"Tex"}`),
			event("error", `{"error":{"message":"stream broke","code":"upstream_failure"}}`),
		)
	})

	src, err := b.Stream(context.Background(), turn.CompletionRequest{Model: "gpt-4.1-nano"})
	require.NoError(t, err)
	defer src.Close()

	frag, err := src.Recv()
	require.NoError(t, err)
	require.Equal(t, "Tex", frag)

	_, err = src.Recv()
	var re *turn.RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "upstream_failure", re.Code)
}

func TestStreamEndsEarly(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		sse(w, event("response.output_text.delta", `{"delta":"Tex"}`))
	})

	src, err := b.Stream(context.Background(), turn.CompletionRequest{Model: "gpt-4.1-nano"})
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Recv()
	require.NoError(t, err)
	_, err = src.Recv()
	require.Equal(t, turn.KindTransport, turn.KindOf(err))
}

func TestHandlerOverResponsesBackend(t *testing.T) {
	calls := 0
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		req := decodeRequest(t, r)
		if calls == 2 {
			require.Equal(t, "resp_1", req.PreviousResponseID)
		}
		_, _ = fmt.Fprintf(w, `{"id":"resp_%d","output":[{"type":"message","content":[{"type":"output_text","text":"ok"}]}]}`, calls)
	})

	h, err := turn.NewHandler(b, turn.WithMode(turn.ModeContinuation), turn.WithModel("gpt-4.1-nano"))
	require.NoError(t, err)
	first, err := h.Run(context.Background(), turn.Request{Message: "hi", Params: turn.DefaultParams()})
	require.NoError(t, err)
	second, err := h.Run(context.Background(), turn.Request{Message: "again", Token: first.Token, Params: turn.DefaultParams()})
	require.NoError(t, err)
	require.Equal(t, turn.ContinuationToken("resp_2"), second.Token)
}
