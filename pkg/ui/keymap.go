package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	UnfocusMessage   key.Binding
	FocusMessage     key.Binding
	SubmitMessage    key.Binding
	ScrollUp         key.Binding
	ScrollDown       key.Binding
	CancelCompletion key.Binding
	DismissError     key.Binding
	NewConversation  key.Binding
	SaveToFile       key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	UnfocusMessage: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "scroll mode"),
	),
	FocusMessage: key.NewBinding(
		key.WithKeys("enter", "i"),
		key.WithHelp("enter", "type"),
	),
	SubmitMessage: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	ScrollUp: key.NewBinding(
		key.WithKeys("shift+up", "pgup"),
		key.WithHelp("pgup", "scroll up"),
	),
	ScrollDown: key.NewBinding(
		key.WithKeys("shift+down", "pgdown"),
		key.WithHelp("pgdown", "scroll down"),
	),
	CancelCompletion: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	DismissError: key.NewBinding(
		key.WithKeys("esc", "enter"),
		key.WithHelp("esc", "dismiss"),
	),
	NewConversation: key.NewBinding(
		key.WithKeys("ctrl+n"),
		key.WithHelp("ctrl+n", "new conversation"),
	),
	SaveToFile: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("ctrl+s", "save transcript"),
	),
	Help: key.NewBinding(
		key.WithKeys("f1"),
		key.WithHelp("f1", "help"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.CancelCompletion, k.DismissError, k.UnfocusMessage, k.FocusMessage,
		k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SubmitMessage, k.UnfocusMessage, k.FocusMessage},
		{k.ScrollUp, k.ScrollDown},
		{k.CancelCompletion, k.DismissError, k.NewConversation, k.SaveToFile},
		{k.Help, k.Quit},
	}
}
