package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes events to a set of watermill publishers.
// Every registered publisher receives each event on the topic it was registered with.
//
// The manager keeps a sequence number for each outgoing message,
// in the order they are handled by Publish.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) RegisterPublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], pub)
}

// Publish serializes the event to JSON and hands it to every registered publisher.
// ctx is attached to the watermill message, so decorators can pick up values such as the session id.
func (s *PublisherManager) Publish(ctx context.Context, event Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var firstErr error
	for topic, pubs := range s.Publishers {
		for _, pub := range pubs {
			msg := message.NewMessage(watermill.NewUUID(), b)
			msg.Metadata.Set("sequence_number", strconv.FormatUint(s.sequenceNumber, 10))
			msg.Metadata.Set("event_type", string(event.Type()))
			msg.SetContext(ctx)
			if err := pub.Publish(topic, msg); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	s.sequenceNumber++

	return firstErr
}

func (s *PublisherManager) PublishBlind(ctx context.Context, event Event) {
	if s == nil {
		return
	}
	if err := s.Publish(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish")
	}
}
