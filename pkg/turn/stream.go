package turn

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatbot/pkg/events"
	"github.com/go-go-golems/chatbot/pkg/helpers"
)

// Partial is one progressive update of a streamed reply.
type Partial struct {
	Delta string
	// Completion is the concatenation of all fragments received so far.
	Completion string
}

// ReplyStream is a streamed turn in progress. Fragments are delivered on Chan in arrival order;
// the channel is closed once the turn has finished, successfully or not.
// A failure is delivered as the last result on the channel and is also returned by Wait.
type ReplyStream struct {
	c      chan helpers.Result[Partial]
	done   chan struct{}
	cancel context.CancelFunc

	reply *Reply
	err   error
}

func (s *ReplyStream) Chan() <-chan helpers.Result[Partial] {
	return s.c
}

// Wait consumes any fragments not yet read and returns the final reply.
func (s *ReplyStream) Wait() (*Reply, error) {
	for range s.c {
	}
	<-s.done
	return s.reply, s.err
}

// Close aborts the turn if it is still running and waits for it to finish.
func (s *ReplyStream) Close() error {
	s.cancel()
	_, err := s.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Collect is a convenience to consume a stream entirely.
func Collect(s *ReplyStream) (*Reply, error) {
	return s.Wait()
}

// Stream executes one streaming turn. Validation and connection failures are returned directly;
// failures after the stream has been opened are delivered through the ReplyStream.
func (h *Handler) Stream(ctx context.Context, req Request) (*ReplyStream, error) {
	return h.stream(ctx, req, nil)
}

func (h *Handler) stream(
	ctx context.Context,
	req Request,
	onFinish func(*Reply, error),
) (*ReplyStream, error) {
	start := time.Now()
	md := h.metadata(req)

	creq, err := h.prepare(req)
	if err != nil {
		return nil, h.fail(ctx, "stream", md, req, start, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.publisher.PublishBlind(ctx, events.NewStartEvent(md))
	src, err := h.backend.Stream(ctx, creq)
	if err != nil {
		cancel()
		return nil, h.fail(ctx, "stream", md, req, start, err)
	}

	s := &ReplyStream{
		c:      make(chan helpers.Result[Partial]),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(s.done)
		defer close(s.c)
		defer cancel()
		defer func() {
			if onFinish != nil {
				onFinish(s.reply, s.err)
			}
		}()
		defer func() {
			if err := src.Close(); err != nil {
				h.log().Debug().Err(err).Msg("could not close fragment source")
			}
		}()

		var completion strings.Builder
		for {
			frag, err := src.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				s.err = h.fail(ctx, "stream", md, req, start, err)
				s.send(ctx, helpers.NewErrorResult[Partial](s.err))
				return
			}
			if frag == "" {
				continue
			}
			completion.WriteString(frag)
			p := Partial{Delta: frag, Completion: completion.String()}
			h.publisher.PublishBlind(ctx, events.NewPartialCompletionEvent(md, p.Delta, p.Completion))
			if !s.send(ctx, helpers.NewValueResult(p)) {
				s.err = h.fail(ctx, "stream", md, req, start, ctx.Err())
				return
			}
		}

		reply, err := h.finish(req, src.ID(), completion.String())
		if err != nil {
			s.err = h.fail(ctx, "stream", md, req, start, err)
			s.send(ctx, helpers.NewErrorResult[Partial](s.err))
			return
		}
		s.reply = reply
		h.succeed(ctx, md, req, reply, start)
	}()

	return s, nil
}

func (s *ReplyStream) send(ctx context.Context, r helpers.Result[Partial]) bool {
	select {
	case s.c <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
