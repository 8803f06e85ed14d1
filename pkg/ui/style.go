package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	StreamingMessage lipgloss.Style
	FocusedInput     lipgloss.Style
	UnfocusedInput   lipgloss.Style
	ErrorBox         lipgloss.Style
	Header           lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
	Error      string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1",
		Focused:    "#FFFF99",
		Error:      "#D70000",
	}
	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090",
		Focused:    "#DDDD77",
		Error:      "#FF5F5F",
	}
	color := func(light, dark string) lipgloss.AdaptiveColor {
		return lipgloss.AdaptiveColor{Light: light, Dark: dark}
	}

	return &Style{
		UserMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Unselected, darkModeColors.Unselected)),
		AssistantMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Selected, darkModeColors.Selected)),
		StreamingMessage: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Selected, darkModeColors.Selected)),
		FocusedInput: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Focused, darkModeColors.Focused)),
		UnfocusedInput: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Unselected, darkModeColors.Unselected)),
		ErrorBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Foreground(color(lightModeColors.Error, darkModeColors.Error)).
			BorderForeground(color(lightModeColors.Error, darkModeColors.Error)),
		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
	}
}
