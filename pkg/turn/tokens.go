package turn

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/chatbot/pkg/conversation"
)

// TokenCounter estimates how many tokens a text costs.
type TokenCounter interface {
	Count(text string) (int, error)
}

type TiktokenCounter struct {
	codec tokenizer.Codec
}

var _ TokenCounter = (*TiktokenCounter)(nil)

// NewTiktokenCounter picks the codec of model, falling back to cl100k_base for models
// the tokenizer does not know about.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, errors.Wrap(err, "could not load tokenizer")
		}
	}
	return &TiktokenCounter{codec: codec}, nil
}

func (t *TiktokenCounter) Codec() string {
	return t.codec.GetName()
}

func (t *TiktokenCounter) Count(text string) (int, error) {
	ids, _, err := t.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "could not encode text")
	}
	return len(ids), nil
}

// per-message framing overhead of the chat format
const messageOverheadTokens = 4

// CountConversation estimates the prompt size of history followed by a new user message.
func CountConversation(counter TokenCounter, history conversation.Conversation, message string) (int, error) {
	total := 0
	for _, m := range history.Append(conversation.NewUserMessage(message)) {
		if m == nil {
			continue
		}
		n, err := counter.Count(m.Content)
		if err != nil {
			return 0, err
		}
		total += n + messageOverheadTokens
	}
	return total, nil
}
