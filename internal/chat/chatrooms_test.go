package chat

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-sync-client/internal/api"
	mytesting "chat-sync-client/internal/testing"

	"github.com/stretchr/testify/require"
)

func TestFetchChatrooms(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	h.sessions.Login(userID)
	h.api.SetChatrooms(userID, http.StatusOK, `[
		{"_id":"c1","participants":[{"_id":"`+userID+`","name":"Me"},"u2"],"lastMessage":{"_id":"m9","sender":"u2","text":"hey","timestamp":"2024-05-01T10:00:00Z"}},
		{"id":42,"participants":[]},
		{"participants":["no id"]}
	]`)

	h.store.FetchChatrooms(context.Background())

	rooms := h.store.Chatrooms()
	require.Len(t, rooms, 2)

	require.Equal(t, "c1", rooms[0].ID)
	require.Equal(t, []UserRef{{ID: userID, Name: "Me"}, {ID: "u2"}}, rooms[0].Participants)
	require.NotNil(t, rooms[0].LastMessage)
	require.Equal(t, "hey", rooms[0].LastMessage.Text)
	require.Equal(t, "c1", rooms[0].LastMessage.ChatroomID)

	require.Equal(t, "42", rooms[1].ID)
	require.Nil(t, rooms[1].LastMessage)
}

func TestFetchChatroomsDegradesToEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"error object", http.StatusOK, `{"error":"Internal Server Error"}`},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"null", http.StatusOK, `null`},
		{"invalid json", http.StatusOK, `[{`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := bootstrap(t)
			userID := mytesting.RandObjectID()
			h.sessions.Login(userID)

			h.api.SetChatrooms(userID, http.StatusOK, `[{"_id":"c1"}]`)
			h.store.FetchChatrooms(context.Background())
			require.Len(t, h.store.Chatrooms(), 1)

			h.api.SetChatrooms(userID, tt.status, tt.body)
			h.store.FetchChatrooms(context.Background())

			rooms := h.store.Chatrooms()
			require.NotNil(t, rooms)
			require.Empty(t, rooms)
		})
	}
}

func TestFetchChatroomsWithoutSessionIsNoop(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	var hits int32
	h.api.SetBefore(func(*http.Request) { atomic.AddInt32(&hits, 1) })

	h.store.FetchChatrooms(context.Background())

	h.sessions.Logout()
	h.store.FetchChatrooms(context.Background())

	require.Zero(t, atomic.LoadInt32(&hits))
	require.Empty(t, h.store.Chatrooms())
}

func TestFetchChatroomsDiscardedAfterSessionChange(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	h.sessions.Login(userID)
	h.api.SetChatrooms(userID, http.StatusOK, `[{"_id":"c1"}]`)
	h.api.SetBefore(func(r *http.Request) {
		if strings.HasSuffix(r.URL.Path, userID) {
			h.sessions.Login(mytesting.RandObjectID())
		}
	})

	h.store.FetchChatrooms(context.Background())

	require.Empty(t, h.store.Chatrooms())
}

func TestStartChat(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := h.login(t)

	id, err := h.store.StartChat(context.Background(), "other")
	require.NoError(t, err)
	require.Len(t, id, 24)
	require.Equal(t, 2, h.api.Requests("/api/chat/"+userID))

	again, err := h.store.StartChat(context.Background(), "other")
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 2, h.api.Requests("/api/chat/chatrooms"))
}

func TestStartChatErrors(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)

	_, err := h.store.StartChat(context.Background(), "other")
	require.ErrorIs(t, err, ErrNotLoggedIn)

	h.login(t)
	_, err = h.store.StartChat(context.Background(), "")
	require.ErrorIs(t, err, ErrMissingUserID)

	h.api.SetBefore(func(r *http.Request) {
		if r.URL.Path == "/api/chat/chatrooms" {
			r.Header.Set("Content-Type", "text/plain")
		}
	})
	_, err = h.store.StartChat(context.Background(), "other")
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnsupportedMediaType, statusErr.Code)
}

func TestChatroomsReturnsCopy(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	h.sessions.Login(userID)
	h.api.SetChatrooms(userID, http.StatusOK, `[{"_id":"c1"}]`)
	h.store.FetchChatrooms(context.Background())

	rooms := h.store.Chatrooms()
	rooms[0].ID = "changed"

	require.Equal(t, "c1", h.store.Chatrooms()[0].ID)
}

func TestStartChatWithSeveralUsers(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := h.login(t)

	users := []string{userID, mytesting.RandObjectID(), mytesting.RandObjectID(), mytesting.RandObjectID()}
	seen := make(map[string]struct{})
	for _, pair := range mytesting.PairUserIDs(users) {
		id, err := h.store.StartChat(context.Background(), pair[1])
		require.NoError(t, err)
		seen[id] = struct{}{}
	}

	require.Len(t, seen, len(users)-1)
}

func chatroomIDs(rooms []Chatroom) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.ID)
	}
	return out
}

// holdChatrooms holds the first GET of userID's chatrooms until the returned release is called.
// The held request is answered from the chatrooms canned for stale.
func holdChatrooms(h *harness, userID, stale string) (held <-chan struct{}, release func()) {
	heldCh := make(chan struct{})
	releaseCh := make(chan struct{})
	var once sync.Once

	h.api.SetBefore(func(r *http.Request) {
		if r.URL.Path != "/api/chat/"+userID {
			return
		}
		first := false
		once.Do(func() { first = true })
		if !first {
			return
		}
		r.URL.Path = "/api/chat/" + stale
		close(heldCh)
		<-releaseCh
	})

	return heldCh, func() { close(releaseCh) }
}

func TestStartChatRefreshesPastRequestInFlight(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	stale := mytesting.RandObjectID()
	h.sessions.Login(userID)
	h.api.SetChatrooms(stale, http.StatusOK, `[{"_id":"old"}]`)
	held, release := holdChatrooms(h, userID, stale)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.store.FetchChatrooms(context.Background())
	}()
	<-held

	h.api.SetChatrooms(userID, http.StatusOK, `[{"_id":"old"},{"_id":"new"}]`)
	_, err := h.store.StartChat(context.Background(), "other")
	require.NoError(t, err)

	require.Equal(t, 2, h.api.Requests("/api/chat/"+userID))
	require.Equal(t, []string{"old", "new"}, chatroomIDs(h.store.Chatrooms()))

	// the older response lands last and is discarded
	release()
	<-done
	require.Equal(t, []string{"old", "new"}, chatroomIDs(h.store.Chatrooms()))
}

func TestFetchChatroomsOutlivesCanceledCaller(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	stale := mytesting.RandObjectID()
	h.sessions.Login(userID)
	h.api.SetChatrooms(stale, http.StatusOK, `[{"_id":"c1"}]`)
	held, release := holdChatrooms(h, userID, stale)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.store.FetchChatrooms(ctx)
	}()
	<-held

	cancel()
	<-done
	require.Empty(t, h.store.Chatrooms())

	release()
	require.Eventually(t, func() bool { return len(h.store.Chatrooms()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "c1", h.store.Chatrooms()[0].ID)
}

func TestFetchChatroomsDiscardedAfterUnbind(t *testing.T) {
	t.Parallel()

	h := bootstrap(t)
	userID := mytesting.RandObjectID()
	stale := mytesting.RandObjectID()
	h.api.SetChatrooms(stale, http.StatusOK, `[{"_id":"c1"}]`)
	held, release := holdChatrooms(h, userID, stale)

	h.sessions.Login(userID)
	h.store.Start()
	<-held

	h.store.Unbind()
	release()
	h.store.Close()

	require.Empty(t, h.store.Chatrooms())
}
