package chat

import (
	"context"
	"fmt"

	"github.com/valyala/fastjson"
)

// FetchChatrooms replaces the chatroom list with the server's list for the logged in user.
// It is a no-op while no user is logged in. Any failure, including a response that is not
// an array, leaves an empty list behind and is only logged.
//
// Overlapping calls for the same user share one request. The request is not tied to ctx:
// a caller whose ctx is done stops waiting, the others still get the result.
// A list older than the one already stored, or fetched for a previous binding, is discarded.
func (s *Store) FetchChatrooms(ctx context.Context) {
	userID, ok := s.sessions.Current().UserID()
	if !ok {
		return
	}

	s.logger.Debugf("Fetching chatrooms for user %s", userID)

	ch := s.fetches.DoChan(chatroomsKey(userID), func() (interface{}, error) {
		n, err := s.fetchChatrooms(userID)
		return n, err
	})

	select {
	case <-ctx.Done():
		s.logger.Debugf("Stopped waiting for chatrooms of user %s: %v", userID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			s.logger.Errorf("Fetching chatrooms for user %s: %v", userID, res.Err)
			return
		}
		if !res.Shared {
			s.logger.Debugf("Fetched %d chatrooms for user %s", res.Val.(int), userID)
		}
	}
}

// fetchChatrooms performs one request and stores its outcome, an empty list on failure.
// It returns the number of chatrooms received.
func (s *Store) fetchChatrooms(userID string) (int, error) {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	gen := s.generation
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.fetchTimeout)
	defer cancel()

	rooms, err := s.requestChatrooms(ctx, userID)
	if err != nil {
		rooms = []Chatroom{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions.Current().UserID()
	switch {
	case s.generation != gen:
		s.logger.Debugf("Discarding chatrooms of user %s, binding changed", userID)
	case !ok || current != userID:
		s.logger.Debugf("Discarding chatrooms of user %s, session changed", userID)
	case seq < s.chatroomsSeq:
		s.logger.Debugf("Discarding chatrooms of user %s, a newer list is stored", userID)
	default:
		s.chatrooms = rooms
		s.chatroomsSeq = seq
	}

	return len(rooms), err
}

func (s *Store) requestChatrooms(ctx context.Context, userID string) ([]Chatroom, error) {
	body, err := s.api.Chatrooms(ctx, userID)
	if err != nil {
		return nil, err
	}

	var p fastjson.Parser
	parsed, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	rooms, dropped, err := decodeChatroomList(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w, got %s", err, parsed.Type())
	}
	if dropped > 0 {
		s.logger.Warnf("Dropped %d malformed chatrooms for user %s", dropped, userID)
	}
	return rooms, nil
}

func chatroomsKey(userID string) string {
	return "chatrooms:" + userID
}

// StartChat creates, or finds, the chatroom between the logged in user and otherUserID,
// refreshes the chatroom list and returns the chatroom id
func (s *Store) StartChat(ctx context.Context, otherUserID string) (string, error) {
	userID, ok := s.sessions.Current().UserID()
	if !ok {
		return "", ErrNotLoggedIn
	}
	if otherUserID == "" {
		return "", ErrMissingUserID
	}

	id, err := s.api.CreateChatroom(ctx, userID, otherUserID)
	if err != nil {
		return "", fmt.Errorf("creating chatroom with user %s: %w", otherUserID, err)
	}

	// a request already in flight may predate the new chatroom
	s.fetches.Forget(chatroomsKey(userID))
	s.FetchChatrooms(ctx)

	return id, nil
}

// Chatrooms returns a copy of the cached chatroom list
func (s *Store) Chatrooms() []Chatroom {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chatroom, len(s.chatrooms))
	copy(out, s.chatrooms)
	return out
}
