package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatbot/pkg/helpers"
)

// TopicChat is the topic turn events are published on.
const TopicChat = "chat"

// ChatEventHandler receives decoded turn events.
type ChatEventHandler interface {
	HandleStart(ctx context.Context, e *EventStart) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = helpers.SessionPublisherDecorator{Publisher: goPubSub}
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	if err := e.Publisher.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
	}
	if err := e.router.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close router")
	}
	return nil
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// AddChatEventHandler registers handler for all turn events published on TopicChat.
func (e *EventRouter) AddChatEventHandler(name string, handler ChatEventHandler) {
	e.AddHandler(name, TopicChat, NewChatDispatchHandler(handler))
}

// NewChatDispatchHandler parses chat events and dispatches them to handler.
// Undecodable messages are logged and dropped so a single bad payload does not stop the router.
func NewChatDispatchHandler(handler ChatEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse chat event")
			return nil
		}

		ctx := msg.Context()
		if id := msg.Metadata.Get(helpers.SessionIDMessageMetadataKey); id != "" {
			ctx = helpers.ContextWithSessionID(ctx, id)
		}

		switch ev := e.(type) {
		case *EventStart:
			return handler.HandleStart(ctx, ev)
		case *EventPartialCompletion:
			return handler.HandlePartialCompletion(ctx, ev)
		case *EventFinal:
			return handler.HandleFinal(ctx, ev)
		case *EventError:
			return handler.HandleError(ctx, ev)
		default:
			log.Warn().Str("event_type", string(e.Type())).Msg("Unhandled chat event type")
		}
		return nil
	}
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
