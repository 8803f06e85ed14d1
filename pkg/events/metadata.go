package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventMetadata identifies the turn an event belongs to and the parameters it ran with.
type EventMetadata struct {
	ID          uuid.UUID `json:"message_id" yaml:"message_id"`
	SessionID   string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Mode        string    `json:"mode,omitempty" yaml:"mode,omitempty"`
	Model       string    `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	DurationMs  *int64    `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.SessionID != "" {
		e.Str("session_id", em.SessionID)
	}
	if em.Mode != "" {
		e.Str("mode", em.Mode)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Temperature != nil {
		e.Float64("temperature", *em.Temperature)
	}
	if em.MaxTokens != nil {
		e.Int("max_tokens", *em.MaxTokens)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
}
