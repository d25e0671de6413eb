package sessions

import (
	"context"
	"strconv"
	"sync"

	"github.com/mcpgate/mcpgate/mcp"
)

// Session is one logical client conversation. It survives across HTTP
// exchanges under an opaque id and owns an ordered message stream that a
// single push channel may drain at a time.
type Session struct {
	id     string
	userID string

	mu              sync.Mutex
	state           State
	clientInfo      mcp.ImplementationInfo
	protocolVersion string
	counter         int64
	messages        []sessionMessage
	sub             *subscription
	closed          chan struct{}
	onClose         []func()
}

type sessionMessage struct {
	id   string
	data []byte
}

type subscription struct {
	cursor     int
	notify     chan struct{}
	superseded chan struct{}
}

func newSession(id, userID string) *Session {
	return &Session{
		id:     id,
		userID: userID,
		state:  StateUninitialized,
		closed: make(chan struct{}),
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated principal bound at creation, or the
// anonymous principal when auth is disabled.
func (s *Session) UserID() string { return s.userID }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the client identity captured during the handshake.
func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// ProtocolVersion returns the version negotiated during the handshake.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Initialize completes the handshake, moving the session to Active. The
// transition is irreversible; a repeat handshake fails.
func (s *Session) Initialize(clientInfo mcp.ImplementationInfo, protocolVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateActive:
		return ErrAlreadyInitialized
	}
	s.state = StateActive
	s.clientInfo = clientInfo
	s.protocolVersion = protocolVersion
	return nil
}

// Active reports whether the session completed its handshake and is not
// closed.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive
}

// Publish appends data to the session's ordered stream and wakes any bound
// push channel. The returned event id is the resume cursor for the message.
func (s *Session) Publish(data []byte) (string, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.counter++
	evID := strconv.FormatInt(s.counter, 10)
	s.messages = append(s.messages, sessionMessage{id: evID, data: append([]byte(nil), data...)})
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
	return evID, nil
}

// Subscribe binds the session's push channel and drains the stream through
// handler, starting after lastEventID (or at the live tail when empty). It
// blocks until ctx is canceled, the session closes, a newer subscriber takes
// the channel over, or the handler fails. Messages are delivered in publish
// order. At most one channel is bound at a time: a second Subscribe
// supersedes the first, which returns ErrStreamSuperseded.
func (s *Session) Subscribe(ctx context.Context, lastEventID string, handler MessageHandlerFunction) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	cursor := len(s.messages)
	if lastEventID != "" {
		found := false
		for i := range s.messages {
			if s.messages[i].id == lastEventID {
				cursor = i + 1
				found = true
				break
			}
		}
		if !found {
			s.mu.Unlock()
			return ErrEventNotFound
		}
	}

	sub := &subscription{cursor: cursor, notify: make(chan struct{}, 1), superseded: make(chan struct{})}
	if s.sub != nil {
		close(s.sub.superseded)
	}
	s.sub = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.sub == sub {
			s.sub = nil
		}
		s.mu.Unlock()
	}()

	for {
		for {
			s.mu.Lock()
			if s.sub != sub {
				s.mu.Unlock()
				return ErrStreamSuperseded
			}
			if sub.cursor >= len(s.messages) {
				s.mu.Unlock()
				break
			}
			msg := s.messages[sub.cursor]
			sub.cursor++
			s.mu.Unlock()
			if err := handler(msg.id, msg.data); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrSessionClosed
		case <-sub.superseded:
			return ErrStreamSuperseded
		case <-sub.notify:
		}
	}
}

// OnClose registers fn to run when the session closes. Hooks run once, after
// the state flips to Closed.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		fn()
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Close moves the session to Closed, releasing any bound push channel.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	hooks := s.onClose
	s.onClose = nil
	close(s.closed)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
