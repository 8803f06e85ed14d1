package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/factory"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/settings"
	"github.com/go-go-golems/chatbot/pkg/turn"
)

const defaultPrompt = "Say hello world."

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Send a single prompt and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			s, err := stepSettingsFromViper()
			if err != nil {
				return err
			}
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt = defaultPrompt
			}
			var history conversation.Conversation
			if path := viper.GetString("history"); path != "" {
				history, err = conversation.LoadFromFile(path)
				if err != nil {
					return err
				}
			}
			return ask(cmd.Context(), s, prompt, history, cmd.OutOrStdout())
		},
	}
	addChatFlags(cmd)
	cmd.Flags().String("history", "", "Conversation (.json or .yaml) sent before the prompt in history mode")
	return cmd
}

func ask(ctx context.Context, s *settings.StepSettings, prompt string, history conversation.Conversation, w io.Writer) error {
	h, err := factory.NewHandler(s)
	if err != nil {
		return err
	}
	if len(history) > 0 && h.Mode() != turn.ModeHistory {
		return errors.Errorf("--history needs context mode %s", turn.ModeHistory)
	}
	req := turn.Request{Message: prompt, History: history, Params: factory.DefaultParams(s)}

	if !s.Chat.Stream {
		reply, err := h.Run(ctx, req)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, reply.Text)
		return errors.Wrap(err, "could not write reply")
	}

	stream, err := h.Stream(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()
	for r := range stream.Chan() {
		p, err := r.Value()
		if err != nil {
			break
		}
		if _, err := io.WriteString(w, p.Delta); err != nil {
			return errors.Wrap(err, "could not write reply")
		}
	}
	if _, err := stream.Wait(); err != nil {
		return err
	}
	_, err = fmt.Fprintln(w)
	return errors.Wrap(err, "could not write reply")
}
