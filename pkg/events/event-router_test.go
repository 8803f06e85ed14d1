package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot/pkg/helpers"
)

type recordingHandler struct {
	c        chan Event
	sessions chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{c: make(chan Event, 16), sessions: make(chan string, 16)}
}

func (r *recordingHandler) record(ctx context.Context, e Event) error {
	id, _ := helpers.SessionIDFromContext(ctx)
	r.sessions <- id
	r.c <- e
	return nil
}

func (r *recordingHandler) HandleStart(ctx context.Context, e *EventStart) error {
	return r.record(ctx, e)
}

func (r *recordingHandler) HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error {
	return r.record(ctx, e)
}

func (r *recordingHandler) HandleFinal(ctx context.Context, e *EventFinal) error {
	return r.record(ctx, e)
}

func (r *recordingHandler) HandleError(ctx context.Context, e *EventError) error {
	return r.record(ctx, e)
}

func (r *recordingHandler) next(t *testing.T) (Event, string) {
	t.Helper()
	select {
	case e := <-r.c:
		return e, <-r.sessions
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil, ""
	}
}

func TestEventRouterDispatchesTurnEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	h := newRecordingHandler()
	router.AddChatEventHandler("test", h)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- router.Run(ctx) }()
	<-router.Running()

	pm := NewPublisherManager()
	pm.RegisterPublisher(TopicChat, router.Publisher)

	md := EventMetadata{ID: uuid.New(), Model: "gpt-4.1-nano", MaxTokens: helpers.ToPtr(256)}
	sessionCtx := helpers.ContextWithSessionID(context.Background(), "s-1")

	require.NoError(t, pm.Publish(sessionCtx, NewStartEvent(md)))
	require.NoError(t, pm.Publish(sessionCtx, NewPartialCompletionEvent(md, "Tex", "Tex")))
	require.NoError(t, pm.Publish(sessionCtx, NewFinalEvent(md, "Texas")))
	require.NoError(t, pm.Publish(context.Background(), NewErrorEvent(md, "transport", context.DeadlineExceeded)))

	e, sid := h.next(t)
	require.Equal(t, EventTypeStart, e.Type())
	require.Equal(t, "s-1", sid)
	require.Equal(t, md.ID, e.Metadata().ID)
	require.Equal(t, 256, *e.Metadata().MaxTokens)

	e, _ = h.next(t)
	partial, ok := e.(*EventPartialCompletion)
	require.True(t, ok)
	require.Equal(t, "Tex", partial.Delta)
	require.NotEmpty(t, partial.Payload())

	e, _ = h.next(t)
	final, ok := e.(*EventFinal)
	require.True(t, ok)
	require.Equal(t, "Texas", final.Text)

	e, sid = h.next(t)
	errEvent, ok := e.(*EventError)
	require.True(t, ok)
	require.Equal(t, "transport", errEvent.Kind)
	require.Equal(t, context.DeadlineExceeded.Error(), errEvent.ErrorString)
	require.Equal(t, "", sid)

	cancel()
	require.NoError(t, router.Close())
	<-done
}

func TestNewEventFromJsonRejectsUnknownType(t *testing.T) {
	_, err := NewEventFromJson([]byte(`{"type":"tool-call"}`))
	require.Error(t, err)

	_, err = NewEventFromJson([]byte(`not json`))
	require.Error(t, err)
}

func TestPublishBlindOnNilManagerIsNoop(t *testing.T) {
	var pm *PublisherManager
	pm.PublishBlind(context.Background(), NewStartEvent(EventMetadata{}))
}
