package cmds

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/factory"
	"github.com/go-go-golems/chatbot/pkg/turn"
	"github.com/go-go-golems/chatbot/pkg/ui"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}

			s, err := stepSettingsFromViper()
			if err != nil {
				return err
			}
			h, err := factory.NewHandler(s)
			if err != nil {
				return err
			}

			// the chat owns the terminal, log lines would end up in the middle of the transcript
			if viper.GetString("log-file") == "" && zerolog.GlobalLevel() < zerolog.ErrorLevel {
				zerolog.SetGlobalLevel(zerolog.ErrorLevel)
			}

			var programOptions []tea.ProgramOption
			if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				tty, err := ui.OpenTTY()
				if err != nil {
					return err
				}
				defer func() { _ = tty.Close() }()
				programOptions = append(programOptions, tea.WithInput(tty))
			}

			return ui.Run(cmd.Context(), turn.NewSessions(h), programOptions,
				ui.WithParams(factory.DefaultParams(s)),
				ui.WithTitle(viper.GetString("title")),
				ui.WithMarkdownStyle(viper.GetString("markdown-style")),
				ui.WithSaveFile(viper.GetString("save-to")),
			)
		},
	}
	addChatFlags(cmd)
	cmd.Flags().String("save-to", "chatbot-transcript.json", "File the transcript is saved to on ctrl+s (.json or .yaml)")
	cmd.Flags().String("title", "", "Header shown above the transcript")
	cmd.Flags().String("markdown-style", "auto", "Glamour style of the replies (auto, dark, light, notty)")
	return cmd
}
