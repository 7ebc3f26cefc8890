package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

// fakeServer accepts websocket connections, records received frames and client ids
// and hands out the live connections so tests can push frames or drop them.
type fakeServer struct {
	*httptest.Server

	mu        sync.Mutex
	conns     []*websocket.Conn
	clientIDs []string
	frames    []string
}

func newFakeServer(t *testing.T) *fakeServer {
	s := &fakeServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.clientIDs = append(s.clientIDs, r.URL.Query().Get("clientId"))
		s.mu.Unlock()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, string(msg))
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *fakeServer) lastConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *fakeServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func (s *fakeServer) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clientIDs...)
}

func bootstrapTransport(t *testing.T, s *fakeServer) *Transport {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	tr, err := New(logger.Sugar(), URL(s.wsURL()), ReconnectDelay(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(tr.Disconnect)

	return tr
}

func TestNewValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := New(zap.NewNop().Sugar())
	require.Equal(t, ErrNoURL, err)

	_, err = New(zap.NewNop().Sugar(), URL("http://example.com"))
	require.Error(t, err)
}

func TestConnectFiresConnect(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	connected := make(chan struct{}, 1)
	tr.On(EventConnect, func([]byte) { connected <- struct{}{} })

	require.NoError(t, tr.Connect())
	require.NoError(t, tr.Connect()) // second call is a no-op

	select {
	case <-connected:
	case <-time.After(waitFor):
		t.Fatal("connect was not fired")
	}
	require.True(t, tr.Connected())
	require.Equal(t, []string{tr.ClientID()}, s.ids())
}

func TestEmitBuffersUntilConnected(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	require.NoError(t, tr.Emit("join", "u1"))
	require.NoError(t, tr.Connect())

	require.Eventually(t, func() bool { return len(s.received()) == 1 }, waitFor, 5*time.Millisecond)
	require.JSONEq(t, `{"event":"join","data":"u1"}`, s.received()[0])
}

func TestBufferFull(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop().Sugar()
	tr, err := New(logger, URL("ws://127.0.0.1:1"), BufferSize(1))
	require.NoError(t, err)

	require.NoError(t, tr.Emit("a", 1))
	require.ErrorIs(t, tr.Emit("b", 2), ErrBufferFull)
}

func TestServerEventsReachHandlers(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	got := make(chan string, 4)
	id := tr.On("newMessage", func(data []byte) { got <- string(data) })
	require.NoError(t, tr.Connect())
	require.Eventually(t, tr.Connected, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.lastConn() != nil }, waitFor, 5*time.Millisecond)

	conn := s.lastConn()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"connect"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"newMessage","data":{"text":"hi"}}`)))

	select {
	case data := <-got:
		require.JSONEq(t, `{"text":"hi"}`, data)
	case <-time.After(waitFor):
		t.Fatal("newMessage was not delivered")
	}

	tr.Off(id)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"newMessage","data":{}}`)))
	select {
	case <-got:
		t.Fatal("handler fired after Off")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectKeepsClientID(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	var mu sync.Mutex
	connects, disconnects := 0, 0
	tr.On(EventConnect, func([]byte) { mu.Lock(); connects++; mu.Unlock() })
	tr.On(EventDisconnect, func([]byte) { mu.Lock(); disconnects++; mu.Unlock() })

	require.NoError(t, tr.Connect())
	require.Eventually(t, func() bool { return len(s.ids()) == 1 }, waitFor, 5*time.Millisecond)

	// server drops the link
	require.NoError(t, s.lastConn().Close())

	require.Eventually(t, func() bool { return len(s.ids()) == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connects == 2 && disconnects == 1
	}, waitFor, 5*time.Millisecond)

	ids := s.ids()
	require.Equal(t, ids[0], ids[1])
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	require.NoError(t, tr.Connect())
	require.Eventually(t, tr.Connected, waitFor, 5*time.Millisecond)

	tr.Disconnect()
	tr.Disconnect()
	require.Eventually(t, func() bool { return !tr.Connected() }, waitFor, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Len(t, s.ids(), 1)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tr := &Transport{}
	for _, tc := range []struct {
		frame string
		event string
		data  string
		fails bool
	}{
		{frame: `{"event":"missedMessages","data":{"chatroomId":"r","messages":[]}}`, event: "missedMessages", data: `{"chatroomId":"r","messages":[]}`},
		{frame: `{"event":"ping"}`, event: "ping"},
		{frame: `{"event":42}`, fails: true},
		{frame: `{"event":""}`, fails: true},
		{frame: `[`, fails: true},
	} {
		event, data, err := tr.decode([]byte(tc.frame))
		if tc.fails {
			require.Error(t, err, tc.frame)
			continue
		}
		require.NoError(t, err, tc.frame)
		require.Equal(t, tc.event, event)
		if tc.data == "" {
			require.Nil(t, data)
		} else {
			require.True(t, fastjson.Exists(data, "chatroomId"))
			require.JSONEq(t, tc.data, string(data))
		}
	}
}

func TestConnectAfterDisconnectDialsAgain(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	require.NoError(t, tr.Connect())
	require.Eventually(t, tr.Connected, waitFor, 5*time.Millisecond)

	tr.Disconnect()
	require.False(t, tr.Connected())

	require.NoError(t, tr.Emit("join", "bob"))
	require.NoError(t, tr.Connect())

	require.Eventually(t, func() bool { return len(s.ids()) == 2 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, frame := range s.received() {
			if frame == `{"event":"join","data":"bob"}` {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)
	require.True(t, tr.Connected())
}

func TestOnConnectReportsLiveLink(t *testing.T) {
	t.Parallel()

	s := newFakeServer(t)
	tr := bootstrapTransport(t, s)

	var mu sync.Mutex
	early, late := 0, 0

	_, connected := tr.OnConnect(func() { mu.Lock(); early++; mu.Unlock() })
	require.False(t, connected)

	require.NoError(t, tr.Connect())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return early == 1
	}, waitFor, 5*time.Millisecond)

	id, connected := tr.OnConnect(func() { mu.Lock(); late++; mu.Unlock() })
	require.True(t, connected)

	// the registered link never fires for late, the next one does
	require.NoError(t, s.lastConn().Close())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return early == 2 && late == 1
	}, waitFor, 5*time.Millisecond)

	tr.Off(id)
}
