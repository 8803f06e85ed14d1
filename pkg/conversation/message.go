package conversation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	default:
		return false
	}
}

// Message is a single chat message. Messages are treated as immutable once created;
// helpers in this package always return copies instead of modifying a message in place.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func NewChatMessage(role Role, content string) *Message {
	return &Message{
		Role:    role,
		Content: content,
	}
}

func NewUserMessage(content string) *Message {
	return NewChatMessage(RoleUser, content)
}

func NewAssistantMessage(content string) *Message {
	return NewChatMessage(RoleAssistant, content)
}

func NewSystemMessage(content string) *Message {
	return NewChatMessage(RoleSystem, content)
}

func (m *Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Conversation is an ordered history of messages, oldest first.
type Conversation []*Message

// Append returns a new conversation with msgs added at the end. The receiver is left untouched,
// so callers can keep using the previous history after a failed turn.
func (c Conversation) Append(msgs ...*Message) Conversation {
	ret := make(Conversation, 0, len(c)+len(msgs))
	ret = append(ret, c...)
	return append(ret, msgs...)
}

func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	ret := make(Conversation, 0, len(c))
	for _, m := range c {
		if m == nil {
			continue
		}
		m_ := *m
		ret = append(ret, &m_)
	}
	return ret
}

// Last returns the most recent message, or nil for an empty conversation.
func (c Conversation) Last() *Message {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func (c Conversation) Validate() error {
	for i, m := range c {
		if m == nil {
			return errors.Errorf("message %d is nil", i)
		}
		if !m.Role.Valid() {
			return errors.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}
	return nil
}
