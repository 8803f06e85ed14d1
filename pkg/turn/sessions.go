package turn

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/chatbot/pkg/conversation"
	"github.com/go-go-golems/chatbot/pkg/helpers"
)

type session struct {
	mu      sync.Mutex
	token   ContinuationToken
	history conversation.Conversation

	// guarded by Sessions.mu
	lastActive time.Time
}

// Sessions keeps the context of many independent conversations on top of a Handler.
// Turns of the same session are serialized. Context is only updated after a successful turn,
// so a failed turn leaves the session exactly as it was.
type Sessions struct {
	handler *Handler

	mu       sync.Mutex
	sessions map[string]*session

	now func() time.Time
}

func NewSessions(handler *Handler) *Sessions {
	return &Sessions{
		handler:  handler,
		sessions: map[string]*session{},
		now:      time.Now,
	}
}

func (s *Sessions) Handler() *Handler {
	return s.handler
}

// get returns the session for id and marks it active, so a Sweep running before the caller
// locks the session does not drop it.
func (s *Sessions) get(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.lastActive = s.now()
	return sess
}

func (s *Sessions) touch(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.lastActive = s.now()
}

// request fills in the stored context. An explicit history in history mode takes precedence
// over the stored one, which lets callers that own their history use Sessions for serialization only.
func (s *Sessions) request(sess *session, id string, req Request) Request {
	req.SessionID = id
	switch s.handler.Mode() {
	case ModeContinuation:
		req.Token = sess.token
		req.History = nil
	default:
		if req.History == nil {
			req.History = sess.history
		}
	}
	return req
}

func (s *Sessions) store(sess *session, reply *Reply) {
	sess.token = reply.Token
	sess.history = reply.History
	s.touch(sess)
}

func (s *Sessions) Run(ctx context.Context, id string, req Request) (*Reply, error) {
	sess := s.get(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	reply, err := s.handler.Run(helpers.ContextWithSessionID(ctx, id), s.request(sess, id, req))
	if err != nil {
		s.touch(sess)
		return nil, err
	}
	s.store(sess, reply)
	return reply, nil
}

// Stream holds the session until the returned stream has finished.
func (s *Sessions) Stream(ctx context.Context, id string, req Request) (*ReplyStream, error) {
	sess := s.get(id)
	sess.mu.Lock()

	stream, err := s.handler.stream(
		helpers.ContextWithSessionID(ctx, id),
		s.request(sess, id, req),
		func(reply *Reply, err error) {
			defer sess.mu.Unlock()
			if err != nil {
				s.touch(sess)
				return
			}
			s.store(sess, reply)
		})
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	return stream, nil
}

// Reset forgets everything about a session. The next turn starts a new conversation.
func (s *Sessions) Reset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Sessions) Token(id string) ContinuationToken {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return ""
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.token
}

func (s *Sessions) History(id string) conversation.Conversation {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.history.Clone()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops the sessions idle for longer than olderThan and returns how many were dropped.
// Sessions with a turn in flight are kept.
func (s *Sessions) Sweep(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	n := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			n++
		}
		sess.mu.Unlock()
	}
	return n
}
