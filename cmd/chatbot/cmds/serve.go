package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatbot/pkg/events"
	"github.com/go-go-golems/chatbot/pkg/helpers"
	"github.com/go-go-golems/chatbot/pkg/responders"
	"github.com/go-go-golems/chatbot/pkg/steps/ai/factory"
	"github.com/go-go-golems/chatbot/pkg/turn"
	"github.com/go-go-golems/chatbot/pkg/web"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the browser chat page",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}
	addChatFlags(cmd)
	flags := cmd.Flags()
	flags.String("addr", ":7860", "Address to listen on")
	flags.String("css", "styles.css", "Stylesheet served with the chat page")
	flags.String("responder", "handler", "Reply callback (handler, yes-man, random, greeter)")
	flags.Int("greeting-intensity", 3, "Exclamation marks used by the greeter responder")
	flags.Bool("allow-any-origin", false, "Accept websocket connections from any origin")
	flags.Duration("session-idle", 30*time.Minute, "Forget sessions idle for longer than this (0 keeps them forever)")
	return cmd
}

type serveSetup struct {
	cfg       web.Config
	responder web.Responder
	sessions  *turn.Sessions
}

// setupResponder builds the reply callback. For the model handler a missing credential
// is reported here, before anything is listening.
func setupResponder(name string, publisher *events.PublisherManager) (*serveSetup, error) {
	if name != "handler" {
		r, cfg, err := responders.Lookup(name, viper.GetInt("greeting-intensity"))
		if err != nil {
			return nil, err
		}
		return &serveSetup{cfg: cfg, responder: r}, nil
	}

	s, err := stepSettingsFromViper()
	if err != nil {
		return nil, err
	}
	h, err := factory.NewHandler(s, turn.WithPublisher(publisher))
	if err != nil {
		return nil, err
	}
	hr := web.NewHandlerResponder(h)
	cfg := web.DefaultConfig()
	cfg.DefaultParams = factory.DefaultParams(s)

	var r web.Responder = hr
	if !s.Chat.Stream {
		// hide the StreamResponder side so the page falls back to plain requests
		r = web.ResponderFunc(hr.Respond)
	}
	return &serveSetup{cfg: cfg, responder: r, sessions: hr.Sessions()}, nil
}

func serve(ctx context.Context) error {
	router, err := events.NewEventRouter(events.WithLogger(helpers.NewWatermill(log.Logger)))
	if err != nil {
		return errors.Wrap(err, "could not create event router")
	}
	defer func() { _ = router.Close() }()

	publisher := events.NewPublisherManager()
	publisher.RegisterPublisher(events.TopicChat, router.Publisher)

	setup, err := setupResponder(viper.GetString("responder"), publisher)
	if err != nil {
		return err
	}

	metrics := web.NewMetrics("chatbot", nil)
	router.AddChatEventHandler("metrics", web.NewTurnMetricsHandler(metrics))

	cfg := setup.cfg
	cfg.Stylesheet = web.LoadStylesheet(viper.GetString("css"))
	cfg.AllowAnyOrigin = viper.GetBool("allow-any-origin")
	srv := web.NewServer(cfg, setup.responder, metrics)

	httpServer := &http.Server{
		Addr:              viper.GetString("addr"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return router.Run(ctx)
	})

	eg.Go(func() error {
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		log.Info().Str("addr", httpServer.Addr).Str("responder", viper.GetString("responder")).Msg("serving chat page")
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	})

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if idle := viper.GetDuration("session-idle"); setup.sessions != nil && idle > 0 {
		eg.Go(func() error {
			ticker := time.NewTicker(idle / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := setup.sessions.Sweep(idle); n > 0 {
						log.Debug().Int("dropped", n).Int("remaining", setup.sessions.Len()).Msg("dropped idle sessions")
					}
				}
			}
		})
	}

	return eg.Wait()
}
