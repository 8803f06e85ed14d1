package cmds

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens [text...]",
		Short: "Estimate how many tokens a message costs (reads stdin without arguments)",
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _ := cmd.Flags().GetString("model")

			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "could not read stdin")
				}
				text = string(b)
			}
			return countTokens(cmd.OutOrStdout(), model, text)
		},
	}
	cmd.Flags().String("model", settings.DefaultEngine, "Model used for encoding")
	return cmd
}

func countTokens(w io.Writer, model string, text string) error {
	counter, err := turn.NewTiktokenCounter(model)
	if err != nil {
		return err
	}
	n, err := counter.Count(text)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Model: %s\nCodec: %s\nTotal tokens: %d\n", model, counter.Codec(), n)
	return errors.Wrap(err, "could not write to output")
}
