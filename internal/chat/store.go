// Package chat keeps the client-side view of chatrooms and messages in sync with the chat server.
//
// A Store merges three sources per chatroom: REST history, realtime "newMessage" pushes and
// "missedMessages" backlogs delivered after a reconnect, plus messages inserted optimistically on send.
// Realtime appends keep arrival order; readers get messages sorted by timestamp.
package chat

import (
	"context"
	"errors"
	"sync"

	"chat-sync-client/internal/popup"
	"chat-sync-client/internal/session"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Transport event names
const (
	EventConnect        = "connect"
	EventJoin           = "join"
	EventSendMessage    = "sendMessage"
	EventNewMessage     = "newMessage"
	EventMissedMessages = "missedMessages"
)

var (
	ErrNotLoggedIn       = errors.New("no user is logged in")
	ErrMissingChatroomID = errors.New("chatroom id is empty")
	ErrMissingUserID     = errors.New("user id is empty")
)

// Sessions supplies the current authentication state
type Sessions interface {
	Current() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
}

// API is the REST boundary. Chatrooms and Messages return raw JSON bodies.
type API interface {
	Chatrooms(ctx context.Context, userID string) ([]byte, error)
	Messages(ctx context.Context, chatroomID string) ([]byte, error)
	CreateChatroom(ctx context.Context, user1, user2 string) (string, error)
}

// Transport is a bidirectional named-event channel. Handlers receive the raw JSON payload.
// OnConnect registers a "connect" handler and, in the same step, reports whether a link is
// already up; the handler is not called for that link.
type Transport interface {
	Connect() error
	Disconnect()
	Connected() bool
	Emit(event string, payload interface{}) error
	On(event string, fn func([]byte)) uint64
	OnConnect(fn func()) (id uint64, connected bool)
	Off(id uint64)
}

// Notifier surfaces incoming messages to the user
type Notifier interface {
	Notify(n popup.Notice)
}

// Store defines fields used in keeping chatrooms and messages of the current user
type Store struct {
	logger    *zap.SugaredLogger
	sessions  Sessions
	api       API
	transport Transport
	cfg       config

	// bindMu serializes Bind, Unbind and Close
	bindMu      sync.Mutex
	unsubscribe func()
	listeners   []uint64

	mu         sync.Mutex
	userID     string
	generation uint64
	chatrooms  []Chatroom
	rooms      map[string]*room
	// fetchSeq numbers chatroom fetches; chatroomsSeq is the fetch the list came from
	fetchSeq     uint64
	chatroomsSeq uint64

	pending *cache.Cache
	fetches singleflight.Group
	wg      sync.WaitGroup
}

// NewStore returns a Store. Nothing is bound until Start or Bind is called.
func NewStore(logger *zap.SugaredLogger, sessions Sessions, api API, transport Transport, opts ...Option) *Store {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	return &Store{
		logger:    logger,
		sessions:  sessions,
		api:       api,
		transport: transport,
		cfg:       *cfg,
		chatrooms: []Chatroom{},
		rooms:     make(map[string]*room),
		pending:   cache.New(cfg.dedupWindow, 2*cfg.dedupWindow),
	}
}

// Start follows the session: LoggedIn binds the transport for that user, LoggedOut unbinds.
// Unknown leaves everything as it is.
func (s *Store) Start() {
	unsubscribe := s.sessions.Subscribe(func(st session.State) {
		switch st.Kind() {
		case session.LoggedIn:
			userID, _ := st.UserID()
			s.Bind(userID)
		case session.LoggedOut:
			s.Unbind()
		}
	})

	s.bindMu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = unsubscribe
	s.bindMu.Unlock()
}

// Close stops following the session, detaches every transport listener and waits for
// background fetches. The transport itself is left as it is.
func (s *Store) Close() {
	s.bindMu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.detachLocked()

	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	s.bindMu.Unlock()

	s.wg.Wait()
}

// Bind attaches exactly one listener per realtime event for userID, replacing any previous ones,
// makes sure the transport is connected and routed into the user's channel, and refreshes
// the chatroom list in the background.
func (s *Store) Bind(userID string) {
	if userID == "" {
		s.logger.Warn("Ignoring bind without user id")
		return
	}

	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	s.detachLocked()

	s.mu.Lock()
	if s.userID != userID {
		s.resetLocked()
	}
	s.userID = userID
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	connectID, connected := s.transport.OnConnect(func() {
		s.join(gen)
	})
	s.listeners = []uint64{
		s.transport.On(EventNewMessage, func(data []byte) {
			if s.current(gen) {
				s.HandleNewMessage(data)
			}
		}),
		s.transport.On(EventMissedMessages, func(data []byte) {
			if s.current(gen) {
				s.HandleMissedMessages(data)
			}
		}),
		connectID,
	}

	s.logger.Infof("Bound chat to user %s", userID)

	// every later link fires the handler; a link that was already up is joined here
	if connected {
		s.join(gen)
	}
	if err := s.transport.Connect(); err != nil {
		s.logger.Errorf("Connecting transport: %v", err)
	}

	// a list requested for an earlier binding is discarded when it lands
	s.fetches.Forget(chatroomsKey(userID))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.fetchTimeout)
		defer cancel()
		s.FetchChatrooms(ctx)
	}()
}

// Unbind detaches the realtime listeners, disconnects the transport and forgets everything
// cached for the previous user
func (s *Store) Unbind() {
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	wasBound := len(s.listeners) > 0
	s.detachLocked()

	s.mu.Lock()
	s.generation++
	s.userID = ""
	s.resetLocked()
	s.mu.Unlock()

	if wasBound || s.transport.Connected() {
		s.transport.Disconnect()
		s.logger.Info("Unbound chat, transport disconnected")
	}
}

func (s *Store) detachLocked() {
	for _, id := range s.listeners {
		s.transport.Off(id)
	}
	s.listeners = nil
}

// resetLocked drops every cached chatroom and message
func (s *Store) resetLocked() {
	s.chatrooms = []Chatroom{}
	s.rooms = make(map[string]*room)
	s.pending.Flush()
}

// current reports whether a listener created for binding gen is still the live one
func (s *Store) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

func (s *Store) join(gen uint64) {
	s.mu.Lock()
	if s.generation != gen || s.userID == "" {
		s.mu.Unlock()
		return
	}
	userID := s.userID
	s.mu.Unlock()

	if err := s.transport.Emit(EventJoin, userID); err != nil {
		s.logger.Errorf("Emitting join for user %s: %v", userID, err)
		return
	}
	s.logger.Debugf("Joined channel of user %s", userID)
}

// boundUser returns the user the store is bound to
func (s *Store) boundUser() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

// roomLocked returns the room for chatroomID, creating an empty one
func (s *Store) roomLocked(chatroomID string) *room {
	r, ok := s.rooms[chatroomID]
	if !ok {
		r = &room{}
		s.rooms[chatroomID] = r
	}
	return r
}
