package turn

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot/pkg/conversation"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []CompletionRequest
	calls    int

	reply        string
	fragments    []string
	err          error
	streamErr    error
	sameID       bool
	noID         bool
	noContinuing bool
}

func (f *fakeBackend) record(req CompletionRequest) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.calls++
	switch {
	case f.noID:
		return ""
	case f.sameID:
		return req.PreviousResponseID
	default:
		return fmt.Sprintf("resp_%d", f.calls)
	}
}

func (f *fakeBackend) Complete(_ context.Context, req CompletionRequest) (*Completion, error) {
	id := f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	return &Completion{ID: id, Text: f.reply}, nil
}

type fakeSource struct {
	ctx       context.Context
	fragments []string
	err       error
	id        string
	closed    bool
}

func (s *fakeSource) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if len(s.fragments) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	f := s.fragments[0]
	s.fragments = s.fragments[1:]
	return f, nil
}

func (s *fakeSource) ID() string   { return s.id }
func (s *fakeSource) Close() error { s.closed = true; return nil }

func (f *fakeBackend) Stream(ctx context.Context, req CompletionRequest) (FragmentSource, error) {
	id := f.record(req)
	if f.err != nil {
		return nil, f.err
	}
	frags := f.fragments
	if frags == nil {
		frags = []string{f.reply}
	}
	return &fakeSource{ctx: ctx, fragments: append([]string(nil), frags...), err: f.streamErr, id: id}, nil
}

func (f *fakeBackend) SupportsContinuation() bool { return !f.noContinuing }

func (f *fakeBackend) lastRequest(t *testing.T) CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestHandler(t *testing.T, b Backend, options ...Option) *Handler {
	h, err := NewHandler(b, append([]Option{WithModel("test-model")}, options...)...)
	require.NoError(t, err)
	return h
}

func TestHistoryModeSendsHistoryAndExtendsIt(t *testing.T) {
	b := &fakeBackend{reply: "Texas is in the southern United States."}
	h := newTestHandler(t, b)

	history := conversation.Conversation{
		conversation.NewUserMessage("hi"),
		conversation.NewAssistantMessage("hello"),
	}
	reply, err := h.Run(context.Background(), Request{
		Message: "Where is Texas?",
		History: history,
		Params:  DefaultParams(),
	})
	require.NoError(t, err)
	require.Equal(t, "Texas is in the southern United States.", reply.Text)
	require.Empty(t, reply.Token)

	req := b.lastRequest(t)
	require.Len(t, req.Messages, 3)
	require.Equal(t, "Where is Texas?", req.Messages.Last().Content)
	require.Empty(t, req.PreviousResponseID)
	require.Equal(t, "test-model", req.Model)
	require.Equal(t, 256, req.MaxOutputTokens)
	require.Equal(t, 1.0, req.Temperature)

	require.Len(t, reply.History, 4)
	require.Equal(t, conversation.RoleUser, reply.History[2].Role)
	require.Equal(t, conversation.RoleAssistant, reply.History[3].Role)
	require.Equal(t, reply.Text, reply.History[3].Content)

	// the supplied history is untouched
	require.Len(t, history, 2)
}

func TestHistoryModeChainedTurnsEqualOneTurnOnFullHistory(t *testing.T) {
	history := conversation.Conversation{
		conversation.NewUserMessage("hi"),
		conversation.NewAssistantMessage("hello"),
	}

	chained := &fakeBackend{reply: "Texas is in the southern United States."}
	h := newTestHandler(t, chained)
	first, err := h.Run(context.Background(), Request{Message: "Where is Texas?", History: history, Params: DefaultParams()})
	require.NoError(t, err)
	second, err := h.Run(context.Background(), Request{Message: "And Ohio?", History: first.History, Params: DefaultParams()})
	require.NoError(t, err)

	direct := &fakeBackend{reply: "Texas is in the southern United States."}
	fresh := newTestHandler(t, direct)
	full := history.Append(
		conversation.NewUserMessage("Where is Texas?"),
		conversation.NewAssistantMessage(first.Text),
	)
	once, err := fresh.Run(context.Background(), Request{Message: "And Ohio?", History: full, Params: DefaultParams()})
	require.NoError(t, err)

	require.Len(t, chained.lastRequest(t).Messages, 5)
	require.Equal(t, direct.lastRequest(t).Messages, chained.lastRequest(t).Messages)
	require.Equal(t, once.History, second.History)
	require.Equal(t, once.Text, second.Text)
}

func TestContinuationModeSendsOnlyMessageAndToken(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	h := newTestHandler(t, b, WithMode(ModeContinuation))

	first, err := h.Run(context.Background(), Request{Message: "Where is Texas?", Params: DefaultParams()})
	require.NoError(t, err)
	require.NotEmpty(t, first.Token)
	require.Empty(t, b.lastRequest(t).PreviousResponseID)

	second, err := h.Run(context.Background(), Request{
		Message: "And its capital?",
		Token:   first.Token,
		History: conversation.Conversation{conversation.NewUserMessage("ignored")},
		Params:  DefaultParams(),
	})
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)

	req := b.lastRequest(t)
	require.Equal(t, string(first.Token), req.PreviousResponseID)
	require.Len(t, req.Messages, 1)
	require.Equal(t, "And its capital?", req.Messages[0].Content)
	require.Nil(t, second.History)
}

func TestContinuationModeRejectsMissingOrReusedToken(t *testing.T) {
	b := &fakeBackend{reply: "ok", noID: true}
	h := newTestHandler(t, b, WithMode(ModeContinuation))
	_, err := h.Run(context.Background(), Request{Message: "hi", Params: DefaultParams()})
	require.True(t, IsRemote(err))

	b = &fakeBackend{reply: "ok", sameID: true}
	h = newTestHandler(t, b, WithMode(ModeContinuation))
	_, err = h.Run(context.Background(), Request{Message: "hi", Token: "resp_0", Params: DefaultParams()})
	require.True(t, IsRemote(err))
}

func TestContinuationModeNeedsSupportingBackend(t *testing.T) {
	_, err := NewHandler(&fakeBackend{noContinuing: true}, WithMode(ModeContinuation))
	require.Error(t, err)

	_, err = NewHandler(nil)
	require.Error(t, err)

	_, err = NewHandler(&fakeBackend{}, WithMode("bogus"))
	require.Error(t, err)
}

func TestParamsBoundaries(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	h := newTestHandler(t, b)

	accepted := []Params{
		{MaxOutputTokens: 1, Temperature: 1},
		{MaxOutputTokens: 2048, Temperature: 1},
		{MaxOutputTokens: 256, Temperature: 0},
		{MaxOutputTokens: 256, Temperature: 2.0},
	}
	for _, p := range accepted {
		_, err := h.Run(context.Background(), Request{Message: "hi", Params: p})
		require.NoError(t, err, "%+v", p)
	}

	rejected := []Params{
		{MaxOutputTokens: 0, Temperature: 1},
		{MaxOutputTokens: 2049, Temperature: 1},
		{MaxOutputTokens: 256, Temperature: -0.1},
		{MaxOutputTokens: 256, Temperature: 2.1},
		{MaxOutputTokens: 256, Temperature: math.NaN()},
	}
	calls := b.calls
	for _, p := range rejected {
		_, err := h.Run(context.Background(), Request{Message: "hi", Params: p})
		require.Error(t, err, "%+v", p)
		require.True(t, IsValidation(err), "%+v", p)
		require.ErrorIs(t, err, ErrInvalidParams)
	}
	// rejected before any network call
	require.Equal(t, calls, b.calls)
}

func TestInvalidHistoryIsValidationFailure(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	h := newTestHandler(t, b)
	_, err := h.Run(context.Background(), Request{
		Message: "hi",
		History: conversation.Conversation{{Role: "tool", Content: "x"}},
		Params:  DefaultParams(),
	})
	require.True(t, IsValidation(err))
	require.Equal(t, 0, b.calls)
}

func TestFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"remote", &RemoteError{StatusCode: 401, Message: "invalid api key"}, KindRemote},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransport},
		{"deadline", context.DeadlineExceeded, KindTransport},
		{"truncated", errors.Wrap(io.ErrUnexpectedEOF, "reading body"), KindTransport},
		{"other", errors.New("boom"), KindUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &fakeBackend{err: tt.err})
			history := conversation.Conversation{conversation.NewUserMessage("hi")}
			reply, err := h.Run(context.Background(), Request{Message: "again", History: history, Params: DefaultParams()})
			require.Nil(t, reply)

			var te *Error
			require.ErrorAs(t, err, &te)
			require.Equal(t, tt.kind, te.Kind)
			require.Equal(t, tt.kind, KindOf(err))
			require.Len(t, history, 1)
		})
	}
}

func TestStreamConcatenationEqualsReply(t *testing.T) {
	b := &fakeBackend{fragments: []string{"Texas is ", "", "in the southern ", "United States."}}
	h := newTestHandler(t, b, WithMode(ModeContinuation))

	s, err := h.Stream(context.Background(), Request{Message: "Where is Texas?", Params: DefaultParams()})
	require.NoError(t, err)

	var deltas []string
	var last Partial
	for r := range s.Chan() {
		p, err := r.Value()
		require.NoError(t, err)
		deltas = append(deltas, p.Delta)
		require.True(t, strings.HasPrefix(p.Completion, last.Completion))
		last = p
	}
	reply, err := s.Wait()
	require.NoError(t, err)
	require.Equal(t, []string{"Texas is ", "in the southern ", "United States."}, deltas)
	require.Equal(t, "Texas is in the southern United States.", reply.Text)
	require.Equal(t, strings.Join(deltas, ""), reply.Text)
	require.Equal(t, last.Completion, reply.Text)
	require.NotEmpty(t, reply.Token)
}

func TestStreamFailureMidway(t *testing.T) {
	b := &fakeBackend{fragments: []string{"Tex"}, streamErr: io.ErrUnexpectedEOF}
	h := newTestHandler(t, b)

	s, err := h.Stream(context.Background(), Request{Message: "hi", Params: DefaultParams()})
	require.NoError(t, err)

	var results int
	var lastErr error
	for r := range s.Chan() {
		results++
		lastErr = r.Error()
	}
	require.Equal(t, 2, results)
	require.True(t, IsTransport(lastErr))

	reply, err := s.Wait()
	require.Nil(t, reply)
	require.True(t, IsTransport(err))
}

func TestStreamValidationFailsBeforeOpening(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	h := newTestHandler(t, b)
	_, err := h.Stream(context.Background(), Request{Message: "hi", Params: Params{MaxOutputTokens: 0, Temperature: 1}})
	require.True(t, IsValidation(err))
	require.Equal(t, 0, b.calls)
}

func TestStreamCloseAborts(t *testing.T) {
	b := &fakeBackend{fragments: []string{"a", "b", "c"}}
	h := newTestHandler(t, b)

	s, err := h.Stream(context.Background(), Request{Message: "hi", Params: DefaultParams()})
	require.NoError(t, err)
	r := <-s.Chan()
	require.True(t, r.Ok())
	require.NoError(t, s.Close())
}

func TestCollect(t *testing.T) {
	h := newTestHandler(t, &fakeBackend{fragments: []string{"a", "b"}})
	s, err := h.Stream(context.Background(), Request{Message: "hi", Params: DefaultParams()})
	require.NoError(t, err)
	reply, err := Collect(s)
	require.NoError(t, err)
	require.Equal(t, "ab", reply.Text)
	require.Len(t, reply.History, 2)
}
