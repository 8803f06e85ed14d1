// Package openai_responses talks to the OpenAI Responses API (/v1/responses), which can keep the
// conversation server-side and continue it from a previous response id.
package openai_responses

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/security"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

type Backend struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
}

var _ turn.Backend = (*Backend)(nil)

func NewBackend(s *settings.StepSettings) (*Backend, error) {
	if s == nil {
		return nil, errors.New("no settings")
	}
	apiKey := s.API.APIKey(settings.OpenAIAPIKeySlug)
	if apiKey == "" {
		return nil, settings.ErrMissingAPIKey
	}
	allowLocal := s.Client != nil && s.Client.AllowLocalEndpoints
	baseURL, err := security.ValidateEndpoint(
		s.API.BaseURL(settings.OpenAIBaseURLSlug, settings.DefaultOpenAIBaseURL),
		security.EndpointOptions{AllowLocal: allowLocal},
	)
	if err != nil {
		return nil, errors.Wrap(err, "invalid openai responses URL")
	}
	return &Backend{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  s.Client.GetHTTPClient(),
	}, nil
}

func (b *Backend) SupportsContinuation() bool {
	return true
}

func (b *Backend) post(ctx context.Context, req turn.CompletionRequest, stream bool) (*http.Response, error) {
	body, err := json.Marshal(buildResponsesRequest(req, stream))
	if err != nil {
		return nil, err
	}
	endpoint := security.JoinPath(b.baseURL, "responses")
	log.Debug().
		Str("url", endpoint).
		Str("model", req.Model).
		Bool("stream", stream).
		Int("input_items", len(req.Messages)).
		Bool("continuing", req.PreviousResponseID != "").
		Msg("Responses: sending request")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Msg("Responses: HTTP request failed")
		return nil, err
	}
	log.Debug().Int("status", resp.StatusCode).Str("content_type", resp.Header.Get("Content-Type")).Msg("Responses: HTTP response received")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&eb)
		return nil, remoteError(resp.StatusCode, eb.Error, http.StatusText(resp.StatusCode))
	}
	return resp, nil
}

func (b *Backend) Complete(ctx context.Context, req turn.CompletionRequest) (*turn.Completion, error) {
	resp, err := b.post(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var r responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.Wrap(io.ErrUnexpectedEOF, "empty response body")
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errors.Wrap(err, "truncated response body")
		}
		return nil, &turn.RemoteError{StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error()}
	}
	if r.Status == "failed" || r.Error != nil {
		return nil, remoteError(resp.StatusCode, r.Error, "response failed")
	}
	if r.IncompleteDetails != nil {
		log.Debug().Str("reason", r.IncompleteDetails.Reason).Msg("Responses: incomplete response")
	}
	return &turn.Completion{ID: r.ID, Text: r.outputText()}, nil
}

func (b *Backend) Stream(ctx context.Context, req turn.CompletionRequest) (turn.FragmentSource, error) {
	resp, err := b.post(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return &sseSource{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// sseSource reads the server-sent events of a streamed response.
// Only text deltas are surfaced; the response id comes from response.created and response.completed.
type sseSource struct {
	body   io.ReadCloser
	reader *bufio.Reader
	id     string
	done   bool
}

func (s *sseSource) ID() string {
	return s.id
}

func (s *sseSource) Close() error {
	return s.body.Close()
}

func (s *sseSource) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	var eventName string
	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				// the body ended before response.completed
				return "", errors.Wrap(io.ErrUnexpectedEOF, "responses stream ended early")
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			frag, ok, err := s.dispatch(eventName, data.String())
			eventName = ""
			data.Reset()
			if err != nil {
				s.done = true
				return "", err
			}
			if s.done {
				return "", io.EOF
			}
			if ok {
				return frag, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// dispatch handles one SSE event. ok is true when the event carried a text fragment.
func (s *sseSource) dispatch(eventName string, raw string) (frag string, ok bool, err error) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		log.Debug().Err(err).Str("event", eventName).Int("raw_len", len(raw)).Msg("Responses: failed to unmarshal SSE data")
		return "", false, nil
	}
	if eventName == "" {
		eventName = ev.Type
	}
	log.Trace().Str("event", eventName).Msg("Responses: SSE event")

	switch eventName {
	case "response.created", "response.in_progress":
		if ev.Response != nil && ev.Response.ID != "" {
			s.id = ev.Response.ID
		}
	case "response.output_text.delta":
		return ev.Delta, ev.Delta != "", nil
	case "response.completed", "response.incomplete":
		if ev.Response != nil && ev.Response.ID != "" {
			s.id = ev.Response.ID
		}
		s.done = true
	case "response.failed":
		var e *responsesError
		if ev.Response != nil {
			e = ev.Response.Error
		}
		return "", false, remoteError(0, e, "response failed")
	case "error":
		e := ev.Error
		if e == nil {
			e = &responsesError{Message: ev.Message, Code: ev.Code}
		}
		return "", false, remoteError(0, e, "responses stream error")
	}
	return "", false, nil
}
