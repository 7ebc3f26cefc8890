package chat

import (
	"context"
	"fmt"
	"strings"

	"chat-sync-client/internal/popup"

	"github.com/patrickmn/go-cache"
	"github.com/valyala/fastjson"
)

const optimisticPrefix = "tmp-"

// GetMessages replaces the cached messages of chatroomID with the server history.
// On failure the cached messages are left untouched. Messages that arrived while the
// request was in flight and are missing from the history are kept after it.
func (s *Store) GetMessages(ctx context.Context, chatroomID string) {
	if chatroomID == "" {
		s.logger.Warn("Ignoring message fetch without chatroom id")
		return
	}

	s.mu.Lock()
	since := s.roomLocked(chatroomID).version
	gen := s.generation
	s.mu.Unlock()

	body, err := s.api.Messages(ctx, chatroomID)
	if err != nil {
		s.logger.Errorf("Fetching messages of chatroom %s: %v", chatroomID, err)
		return
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		s.logger.Errorf("Fetching messages of chatroom %s: %v: %v", chatroomID, ErrMalformedPayload, err)
		return
	}

	history, dropped, err := decodeMessageList(v, chatroomID)
	if err != nil {
		s.logger.Errorf("Fetching messages of chatroom %s: %v, got %s", chatroomID, err, v.Type())
		return
	}
	if dropped > 0 {
		s.logger.Warnf("Dropped %d malformed messages of chatroom %s", dropped, chatroomID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		s.logger.Debugf("Discarding messages of chatroom %s, binding changed", chatroomID)
		return
	}

	r := s.roomLocked(chatroomID)
	kept := r.resync(history, since, s.keepAfterResync(history, r))
	if kept > 0 {
		s.logger.Debugf("Kept %d messages of chatroom %s that arrived during the fetch", kept, chatroomID)
	}
	s.logger.Debugf("Loaded %d messages of chatroom %s", len(history), chatroomID)
}

// keepAfterResync drops optimistic messages whose confirmed copy is in history when echo dedup is on.
// A history message confirms at most one optimistic message, sent within the dedup window of it,
// and none when it is cached already as a confirmed message.
func (s *Store) keepAfterResync(history []Message, r *room) func(Message) bool {
	if s.cfg.dedup != DedupEcho {
		return nil
	}
	confirmed := make(map[string]struct{}, len(r.messages))
	for _, m := range r.messages {
		if !m.Optimistic && m.ID != "" {
			confirmed[m.ID] = struct{}{}
		}
	}
	used := make([]bool, len(history))
	for i, h := range history {
		_, used[i] = confirmed[h.ID]
	}
	return func(m Message) bool {
		if !m.Optimistic {
			return true
		}
		for i, h := range history {
			if used[i] || h.Sender.ID != m.Sender.ID || h.Text != m.Text {
				continue
			}
			if d := h.Timestamp.Sub(m.Timestamp); d < -s.cfg.dedupWindow || d > s.cfg.dedupWindow {
				continue
			}
			used[i] = true
			s.forgetPending(m)
			return false
		}
		return true
	}
}

// SendMessage inserts an optimistic message into the cache and emits it to the server
// without waiting for an acknowledgement. The returned message is in the cache even when
// the emit fails; the error only reports that the server may never see it.
func (s *Store) SendMessage(chatroomID, text string) (Message, error) {
	if chatroomID == "" {
		return Message{}, ErrMissingChatroomID
	}

	userID, ok := s.boundUser()
	if !ok {
		return Message{}, ErrNotLoggedIn
	}

	id, err := s.cfg.newID()
	if err != nil {
		return Message{}, fmt.Errorf("generating message id: %w", err)
	}

	m := Message{
		ID:         optimisticPrefix + id,
		ChatroomID: chatroomID,
		Sender:     UserRef{ID: userID},
		Text:       text,
		Timestamp:  s.cfg.now().UTC(),
		Optimistic: true,
	}

	s.mu.Lock()
	s.roomLocked(chatroomID).append(m)
	if s.cfg.dedup == DedupEcho {
		s.rememberPendingLocked(m)
	}
	s.mu.Unlock()

	err = s.transport.Emit(EventSendMessage, outgoingMessage{ChatroomID: chatroomID, Sender: userID, Text: text})
	if err != nil {
		s.logger.Errorf("Emitting message to chatroom %s: %v", chatroomID, err)
		return m, fmt.Errorf("emitting message: %w", err)
	}

	return m, nil
}

// HandleNewMessage appends a realtime message to its chatroom in arrival order.
// Payloads without a chatroom id are logged and dropped.
func (s *Store) HandleNewMessage(data []byte) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		s.logger.Errorf("Invalid message received: %v", err)
		return
	}

	m, err := decodeMessage(v, "")
	if err != nil {
		s.logger.Errorf("Invalid message received: %v", err)
		return
	}
	if m.ChatroomID == "" {
		s.logger.Errorf("Invalid message received: %s", data)
		return
	}

	s.mu.Lock()
	r := s.roomLocked(m.ChatroomID)
	replaced := false
	if s.cfg.dedup == DedupEcho && m.Sender.ID != "" && m.Sender.ID == s.userID {
		if tempID, ok := s.takePendingLocked(m); ok {
			replaced = r.swap(tempID, m)
		}
	}
	if !replaced {
		r.append(m)
	}
	s.mu.Unlock()

	if s.cfg.notifier != nil {
		s.cfg.notifier.Notify(popup.Notice{
			SenderName: m.Sender.Name,
			Text:       m.Text,
			ChatroomID: m.ChatroomID,
		})
	}
}

// HandleMissedMessages appends a backlog delivered after a reconnect, in the order delivered.
// Payloads without a chatroom id or a messages array are logged and dropped.
func (s *Store) HandleMissedMessages(data []byte) {
	var p fastjson.Parser
	v, err := p.ParseBytes(data)
	if err != nil {
		s.logger.Errorf("Invalid missed messages received: %v", err)
		return
	}

	batch, err := decodeMissedBatch(v)
	if err != nil {
		s.logger.Errorf("Invalid missed messages received: %v", err)
		return
	}
	if batch.Dropped > 0 {
		s.logger.Warnf("Dropped %d malformed missed messages of chatroom %s", batch.Dropped, batch.ChatroomID)
	}

	s.mu.Lock()
	s.roomLocked(batch.ChatroomID).append(batch.Messages...)
	s.mu.Unlock()

	s.logger.Debugf("Appended %d missed messages to chatroom %s", len(batch.Messages), batch.ChatroomID)
}

// Messages returns the cached messages of chatroomID sorted by timestamp ascending
func (s *Store) Messages(chatroomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatroomID]
	if !ok {
		return []Message{}
	}
	return r.sorted()
}

// RawMessages returns the cached messages of chatroomID in cache order
func (s *Store) RawMessages(chatroomID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[chatroomID]
	if !ok {
		return []Message{}
	}
	return r.raw()
}

// AllMessages returns a copy of the whole cache, chatroom id to messages in cache order
func (s *Store) AllMessages() map[string][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Message, len(s.rooms))
	for id, r := range s.rooms {
		out[id] = r.raw()
	}
	return out
}

// SetMessages overwrites the cached messages of chatroomID.
// It exists for callers doing their own optimistic updates; prefer SendMessage and GetMessages.
func (s *Store) SetMessages(chatroomID string, msgs []Message) {
	if chatroomID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLocked(chatroomID).replace(msgs)
}

// IsOptimistic reports whether id was generated locally by SendMessage
func IsOptimistic(id string) bool {
	return strings.HasPrefix(id, optimisticPrefix)
}

func pendingKey(m Message) string {
	return m.ChatroomID + "\x00" + m.Sender.ID + "\x00" + m.Text
}

// rememberPendingLocked queues an optimistic message id under its content key until the echo arrives
func (s *Store) rememberPendingLocked(m Message) {
	key := pendingKey(m)
	var ids []string
	if v, ok := s.pending.Get(key); ok {
		ids = v.([]string)
	}
	s.pending.Set(key, append(ids, m.ID), cache.DefaultExpiration)
}

// takePendingLocked pops the oldest optimistic id waiting for an echo of m
func (s *Store) takePendingLocked(m Message) (string, bool) {
	key := pendingKey(m)
	v, ok := s.pending.Get(key)
	if !ok {
		return "", false
	}
	ids := v.([]string)
	if len(ids) <= 1 {
		s.pending.Delete(key)
	} else {
		s.pending.Set(key, ids[1:], cache.DefaultExpiration)
	}
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

func (s *Store) forgetPending(m Message) {
	key := pendingKey(m)
	v, ok := s.pending.Get(key)
	if !ok {
		return
	}
	ids := v.([]string)
	for i, id := range ids {
		if id == m.ID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		s.pending.Delete(key)
		return
	}
	s.pending.Set(key, ids, cache.DefaultExpiration)
}
