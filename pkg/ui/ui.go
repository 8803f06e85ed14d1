package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

// states:
// - user input
// - user scrolling through the transcript
// - stream completion
// - showing error

type State string

const (
	StateUserInput        State = "user_input"
	StateMovingAround     State = "moving_around"
	StateStreamCompletion State = "stream_completion"
	StateError            State = "error"
)

// Model is a single conversation in the terminal. Its context (history or continuation token)
// lives in a turn.Sessions under the model's own session id.
type Model struct {
	sessions  *turn.Sessions
	sessionID string
	params    turn.Params
	title     string
	saveFile  string
	status    string

	// transcript is what is shown on screen. Only successful turns are added to it.
	transcript conversation.Conversation

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	keyMap   KeyMap
	style    *Style
	markdown *markdownRenderer

	width  int
	height int

	// not nil while a reply is streaming
	stream  *turn.ReplyStream
	pending string
	current string

	err          error
	state        State
	quitReceived bool
}

type Option func(*Model)

func WithParams(p turn.Params) Option {
	return func(m *Model) {
		m.params = p
	}
}

// WithTitle replaces the header line. An empty title keeps the default.
func WithTitle(title string) Option {
	return func(m *Model) {
		if title != "" {
			m.title = title
		}
	}
}

// WithSaveFile sets where the transcript is written on ctrl+s. The extension picks JSON or YAML.
func WithSaveFile(path string) Option {
	return func(m *Model) {
		m.saveFile = path
	}
}

// WithMarkdownStyle selects the glamour style used for replies ("auto", "dark", "light", "notty", ...).
func WithMarkdownStyle(style string) Option {
	return func(m *Model) {
		m.markdown.style = style
	}
}

type streamPartialMsg struct {
	Completion string
}

type streamDoneMsg struct {
	Reply *turn.Reply
}

type streamErrorMsg struct {
	Err error
}

type streamCanceledMsg struct{}

type refreshMessageMsg struct {
	GoToBottom bool
}

func NewModel(sessions *turn.Sessions, options ...Option) Model {
	ret := Model{
		sessions:  sessions,
		sessionID: uuid.NewString(),
		params:    turn.DefaultParams(),
		title:     "AI CHATBOT AT YOUR SERVICE:",
		style:     DefaultStyles(),
		keyMap:    DefaultKeyMap,
		viewport:  viewport.New(0, 0),
		help:      help.New(),
		markdown:  &markdownRenderer{style: "auto"},
	}
	for _, o := range options {
		o(&ret)
	}

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Ask me anything…"
	ret.textArea.ShowLineNumbers = false
	// enter sends the message
	ret.textArea.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ret.textArea.Focus()
	ret.state = StateUserInput

	ret.viewport.SetContent(ret.messageView())
	ret.viewport.GotoBottom()
	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Transcript returns the messages of the successful turns so far.
func (m Model) Transcript() conversation.Conversation {
	return m.transcript.Clone()
}

func (m Model) State() State {
	return m.state
}

func (m Model) Err() error {
	return m.err
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			m.quitReceived = true
			if m.stream != nil {
				s := m.stream
				m.stream = nil
				return m, tea.Sequence(closeStream(s), tea.Quit)
			}
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.state = StateUserInput
			cmds = append(cmds, m.textArea.Focus())
			m.updateKeyBindings()
			m.recomputeSize()

		case key.Matches(msg, m.keyMap.CancelCompletion):
			if m.stream != nil {
				cmds = append(cmds, closeStream(m.stream))
			}

		case key.Matches(msg, m.keyMap.SubmitMessage):
			cmds = append(cmds, m.submit())

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			m.state = StateMovingAround
			m.updateKeyBindings()

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmds = append(cmds, m.textArea.Focus())
			m.state = StateUserInput
			m.updateKeyBindings()

		case key.Matches(msg, m.keyMap.NewConversation):
			m.sessions.Reset(m.sessionID)
			m.transcript = nil
			m.refresh(true)

		case key.Matches(msg, m.keyMap.SaveToFile):
			if err := m.transcript.SaveToFile(m.saveFile); err != nil {
				m.err = err
				m.state = StateError
				m.textArea.Blur()
				m.updateKeyBindings()
			} else {
				m.status = fmt.Sprintf("saved %d messages to %s", len(m.transcript), m.saveFile)
			}
			m.recomputeSize()

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()

		default:
			switch m.state {
			case StateUserInput:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateStreamCompletion, StateError:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case streamPartialMsg:
		m.current = msg.Completion
		m.refresh(true)
		cmds = append(cmds, m.nextFragment())

	case streamDoneMsg:
		m.transcript = m.transcript.Append(
			conversation.NewUserMessage(m.pending),
			conversation.NewAssistantMessage(msg.Reply.Text),
		)
		m.textArea.SetValue("")
		cmds = append(cmds, m.endStream(StateUserInput))

	case streamCanceledMsg:
		// the prompt stays in the input box so it can be edited and sent again
		cmds = append(cmds, m.endStream(StateUserInput))

	case streamErrorMsg:
		m.err = msg.Err
		cmds = append(cmds, m.endStream(StateError))

	case refreshMessageMsg:
		m.refresh(msg.GoToBottom)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) updateKeyBindings() {
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.FocusMessage.SetEnabled(m.state == StateMovingAround)
	m.keyMap.NewConversation.SetEnabled(m.state == StateUserInput || m.state == StateMovingAround)
	m.keyMap.SaveToFile.SetEnabled(m.saveFile != "" && m.state != StateStreamCompletion)
	m.keyMap.DismissError.SetEnabled(m.state == StateError)
	m.keyMap.CancelCompletion.SetEnabled(m.state == StateStreamCompletion)
}

func (m *Model) refresh(goToBottom bool) {
	m.recomputeSize()
	if goToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedInput.GetFrameSize()
	m.textArea.SetWidth(m.width - h)
	m.markdown.resize(m.contentWidth())

	m.viewport.SetContent(m.messageView())
}

func (m Model) contentWidth() int {
	w, _ := m.style.AssistantMessage.GetFrameSize()
	return m.width - w
}

func (m Model) headerView() string {
	if m.status != "" {
		return m.style.Header.Render(m.title + "  " + m.status)
	}
	return m.style.Header.Render(m.title)
}

func (m Model) messageView() string {
	var sb strings.Builder
	width := m.contentWidth()

	render := func(style lipgloss.Style, body string) {
		if m.width > 0 {
			style = style.Width(m.width - style.GetHorizontalFrameSize() + style.GetHorizontalPadding())
		}
		sb.WriteString(style.Render(body))
		sb.WriteString("\n")
	}

	for _, msg := range m.transcript {
		switch msg.Role {
		case conversation.RoleAssistant:
			render(m.style.AssistantMessage, m.markdown.render(msg.Content))
		default:
			render(m.style.UserMessage, wrapWords(fmt.Sprintf("[%s]: %s", msg.Role, msg.Content), width))
		}
	}

	if m.stream != nil {
		render(m.style.UserMessage, wrapWords(fmt.Sprintf("[%s]: %s", conversation.RoleUser, m.pending), width))
		render(m.style.StreamingMessage, wrapWords(m.current, width))
	}

	return sb.String()
}

func (m Model) textAreaView() string {
	if m.err != nil {
		w, _ := m.style.ErrorBox.GetFrameSize()
		return m.style.ErrorBox.Render(wrapWords(errorText(m.err), m.width-w))
	}

	v := m.textArea.View()
	switch m.state {
	case StateUserInput:
		return m.style.FocusedInput.Render(v)
	default:
		return m.style.UnfocusedInput.Render(v)
	}
}

func errorText(err error) string {
	return fmt.Sprintf("Error (%s): %s", turn.KindOf(err), err.Error())
}

func (m Model) View() string {
	return m.headerView() + "\n" +
		m.viewport.View() + "\n" +
		m.textAreaView() + "\n" +
		m.help.View(m.keyMap)
}

func (m *Model) submit() tea.Cmd {
	if m.stream != nil {
		return nil
	}
	text := strings.TrimSpace(m.textArea.Value())
	if text == "" {
		return nil
	}

	s, err := m.sessions.Stream(context.Background(), m.sessionID, turn.Request{
		Message: text,
		Params:  m.params,
	})
	if err != nil {
		m.err = err
		m.state = StateError
		m.textArea.Blur()
		m.updateKeyBindings()
		m.recomputeSize()
		return nil
	}

	m.stream = s
	m.pending = text
	m.current = ""
	m.state = StateStreamCompletion
	m.textArea.Blur()
	m.updateKeyBindings()
	m.refresh(true)

	return m.nextFragment()
}

// nextFragment waits for the next progressive update of the running stream.
func (m Model) nextFragment() tea.Cmd {
	s := m.stream
	if s == nil {
		return nil
	}
	return func() tea.Msg {
		for r := range s.Chan() {
			p, err := r.Value()
			if err != nil {
				// the stream closes right after a failure, Wait reports it
				continue
			}
			return streamPartialMsg{Completion: p.Completion}
		}

		reply, err := s.Wait()
		switch {
		case errors.Is(err, context.Canceled):
			return streamCanceledMsg{}
		case err != nil:
			return streamErrorMsg{Err: err}
		default:
			return streamDoneMsg{Reply: reply}
		}
	}
}

func closeStream(s *turn.ReplyStream) tea.Cmd {
	return func() tea.Msg {
		if err := s.Close(); err != nil {
			log.Debug().Err(err).Msg("stream finished with an error while closing")
		}
		return nil
	}
}

func (m *Model) endStream(next State) tea.Cmd {
	m.stream = nil
	m.pending = ""
	m.current = ""
	m.state = next
	var cmd tea.Cmd
	if next == StateUserInput {
		cmd = m.textArea.Focus()
	}
	m.updateKeyBindings()
	m.refresh(true)

	if m.quitReceived {
		return tea.Quit
	}
	return cmd
}

// Run starts the terminal chat and blocks until the user quits or ctx is done.
func Run(ctx context.Context, sessions *turn.Sessions, programOptions []tea.ProgramOption, options ...Option) error {
	m := NewModel(sessions, options...)
	opts := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, programOptions...)
	p := tea.NewProgram(m, opts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "chat ui failed")
	}
	return nil
}
