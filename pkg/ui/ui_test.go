package ui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/mock"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

func newTestModel(t *testing.T, backend *mock.Backend, mode turn.Mode) Model {
	h, err := turn.NewHandler(backend, turn.WithMode(mode))
	require.NoError(t, err)
	m := NewModel(turn.NewSessions(h), WithMarkdownStyle("notty"))
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	return updated.(Model)
}

func update(m Model, msg tea.Msg) Model {
	updated, _ := m.Update(msg)
	return updated.(Model)
}

// send types text and submits it, then feeds the stream back into the model until it ends.
func send(t *testing.T, m Model, text string) Model {
	m.textArea.SetValue(text)
	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	for i := 0; m.stream != nil; i++ {
		require.Less(t, i, 1000)
		m = update(m, m.nextFragment()())
	}
	return m
}

func TestStreamedTurnIsAddedToTranscript(t *testing.T) {
	m := newTestModel(t, mock.NewBackend(mock.WithResponder(mock.Fixed("Texas is in the southern United States."))), turn.ModeHistory)

	m = send(t, m, "Where is Texas?")
	require.Equal(t, StateUserInput, m.State())
	require.NoError(t, m.Err())
	require.Equal(t, conversation.Conversation{
		conversation.NewUserMessage("Where is Texas?"),
		conversation.NewAssistantMessage("Texas is in the southern United States."),
	}, m.Transcript())
	require.Equal(t, "", m.textArea.Value())
	require.Contains(t, m.View(), "Where is Texas?")
}

func TestContinuationTokenIsKeptBetweenTurns(t *testing.T) {
	backend := mock.NewBackend(mock.WithResponder(mock.Echo))
	m := newTestModel(t, backend, turn.ModeContinuation)

	m = send(t, m, "one")
	token := m.sessions.Token(m.sessionID)
	require.NotEmpty(t, token)

	m = send(t, m, "two")
	reqs := backend.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, string(token), reqs[1].PreviousResponseID)
	require.Len(t, m.Transcript(), 4)
}

func TestFailureShowsErrorWithoutTouchingTranscript(t *testing.T) {
	backend := mock.NewBackend(mock.WithResponder(mock.RoundRobin("first")))
	m := newTestModel(t, backend, turn.ModeHistory)
	m = send(t, m, "hello")
	require.Len(t, m.Transcript(), 2)

	failing := mock.NewBackend(mock.WithResponder(mock.Failing(errors.New("quota exceeded"))))
	h, err := turn.NewHandler(failing)
	require.NoError(t, err)
	m.sessions = turn.NewSessions(h)

	m = send(t, m, "again")
	require.Equal(t, StateError, m.State())
	require.Error(t, m.Err())
	require.Len(t, m.Transcript(), 2)
	require.Contains(t, m.View(), "quota exceeded")
	// the prompt is kept so it can be sent again
	require.Equal(t, "again", m.textArea.Value())

	m = update(m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, StateUserInput, m.State())
	require.NoError(t, m.Err())
	require.NotContains(t, m.View(), "quota exceeded")
}

func TestInvalidParamsAreReportedImmediately(t *testing.T) {
	h, err := turn.NewHandler(mock.NewBackend())
	require.NoError(t, err)
	m := NewModel(turn.NewSessions(h), WithMarkdownStyle("notty"), WithParams(turn.Params{MaxOutputTokens: 0, Temperature: 1}))
	m = update(m, tea.WindowSizeMsg{Width: 80, Height: 40})

	m = send(t, m, "hi")
	require.Equal(t, StateError, m.State())
	require.True(t, turn.IsValidation(m.Err()))
	require.Empty(t, m.Transcript())
}

func TestEmptyInputIsNotSent(t *testing.T) {
	backend := mock.NewBackend()
	m := newTestModel(t, backend, turn.ModeHistory)
	m = send(t, m, "   ")
	require.Empty(t, backend.Requests())
	require.Equal(t, StateUserInput, m.State())
}

func TestNewConversationResetsSession(t *testing.T) {
	backend := mock.NewBackend(mock.WithResponder(mock.Echo))
	m := newTestModel(t, backend, turn.ModeHistory)
	m = send(t, m, "one")
	require.Len(t, m.sessions.History(m.sessionID), 2)

	m = update(m, tea.KeyMsg{Type: tea.KeyCtrlN})
	require.Empty(t, m.Transcript())
	require.Empty(t, m.sessions.History(m.sessionID))
}

func TestScrollModeTogglesInput(t *testing.T) {
	m := newTestModel(t, mock.NewBackend(), turn.ModeHistory)
	m = update(m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, StateMovingAround, m.State())
	require.False(t, m.keyMap.SubmitMessage.Enabled())

	m = update(m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, StateUserInput, m.State())
	require.True(t, m.keyMap.SubmitMessage.Enabled())
}

func TestSaveTranscript(t *testing.T) {
	h, err := turn.NewHandler(mock.NewBackend(mock.WithResponder(mock.Fixed("hello"))))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "transcript.yaml")
	m := NewModel(turn.NewSessions(h), WithMarkdownStyle("notty"), WithSaveFile(path))
	m = update(m, tea.WindowSizeMsg{Width: 80, Height: 40})

	m = send(t, m, "hi")
	m = update(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NoError(t, m.Err())

	saved, err := conversation.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, m.Transcript(), saved)
	require.Contains(t, m.View(), "saved 2 messages")
}

func TestTitleIsShownInHeader(t *testing.T) {
	h, err := turn.NewHandler(mock.NewBackend())
	require.NoError(t, err)
	m := NewModel(turn.NewSessions(h), WithMarkdownStyle("notty"), WithTitle("YES MAN"))
	m = update(m, tea.WindowSizeMsg{Width: 80, Height: 40})
	require.Contains(t, m.View(), "YES MAN")

	m = NewModel(turn.NewSessions(h), WithMarkdownStyle("notty"), WithTitle(""))
	m = update(m, tea.WindowSizeMsg{Width: 80, Height: 40})
	require.Contains(t, m.View(), "AI CHATBOT AT YOUR SERVICE:")
}
