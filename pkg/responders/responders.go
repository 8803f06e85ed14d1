// Package responders holds small reply callbacks that need no model at all.
// They are handy for demos and for exercising the chat surfaces offline.
package responders

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot/pkg/web"
)

// YesMan answers "Yes" to anything that looks like a question.
func YesMan(_ context.Context, req web.ChatRequest) (string, error) {
	if strings.HasSuffix(req.Message, "?") {
		return "Yes", nil
	}
	return "Ask me anything!", nil
}

// RandomYesNo answers "Yes" or "No" at random.
type RandomYesNo struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomYesNo(seed int64) *RandomYesNo {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomYesNo{rnd: rand.New(rand.NewSource(seed))}
}

func (r *RandomYesNo) Respond(_ context.Context, _ web.ChatRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rnd.Intn(2) == 0 {
		return "Yes", nil
	}
	return "No", nil
}

const MaxGreetingIntensity = 100

// Greeter greets the name sent as message, with intensity exclamation marks.
func Greeter(intensity int) (web.ResponderFunc, error) {
	if intensity < 0 || intensity > MaxGreetingIntensity {
		return nil, errors.Errorf("greeting intensity must be between 0 and %d, got %d", MaxGreetingIntensity, intensity)
	}
	return func(_ context.Context, req web.ChatRequest) (string, error) {
		return "Hello, " + strings.TrimSpace(req.Message) + strings.Repeat("!", intensity), nil
	}, nil
}

// YesManConfig is the page setup that goes with YesMan.
func YesManConfig() web.Config {
	cfg := web.DefaultConfig()
	cfg.Title = "Yes Man"
	cfg.Description = "Ask Yes Man any question"
	cfg.Placeholder = "Ask me a yes or no question"
	cfg.MaxMessageLength = 100
	cfg.Examples = []string{"Hello", "Am I cool?", "Are tomatoes vegetables?"}
	return cfg
}

// Lookup returns the responder registered under name, and the page config that goes with it.
func Lookup(name string, intensity int) (web.Responder, web.Config, error) {
	switch name {
	case "yes-man":
		return web.ResponderFunc(YesMan), YesManConfig(), nil
	case "random":
		cfg := web.DefaultConfig()
		cfg.Title = "Yes or No"
		cfg.Description = "Ask a question, get a coin flip"
		return NewRandomYesNo(0), cfg, nil
	case "greeter":
		g, err := Greeter(intensity)
		if err != nil {
			return nil, web.Config{}, err
		}
		cfg := web.DefaultConfig()
		cfg.Title = "Greeter"
		cfg.Description = "Type your name"
		cfg.Placeholder = "Your name"
		cfg.Examples = []string{"World", "Gopher"}
		return g, cfg, nil
	default:
		return nil, web.Config{}, errors.Errorf("unknown responder %q", name)
	}
}
