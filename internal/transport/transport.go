// Package transport implements a named-event channel over a websocket with automatic reconnection.
//
// Every frame is a JSON text message {"event": name, "data": payload}. The local events
// "connect" and "disconnect" are fired by the Transport itself on link state changes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

var (
	ErrNoURL      = errors.New("websocket url is not set")
	ErrBufferFull = errors.New("outgoing buffer is full")
)

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type handler struct {
	id    uint64
	event string
	fn    func([]byte)
}

// link is a single established websocket connection
type link struct {
	out chan []byte
}

// Transport defines fields used in websocket interaction with the chat server
type Transport struct {
	logger   *zap.SugaredLogger
	cfg      config
	endpoint string
	clientID string

	mu       sync.Mutex
	handlers []handler
	nextID   uint64
	link     *link
	stop     chan struct{}
	pending  [][]byte

	parsers fastjson.ParserPool
}

// New returns a disconnected Transport. The client id is generated once and sent on every dial,
// so the server sees the same identity across reconnects.
func New(logger *zap.SugaredLogger, opts ...Option) (*Transport, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.url == "" {
		return nil, ErrNoURL
	}

	clientID := xid.New().String()

	u, err := url.Parse(cfg.url)
	if err != nil {
		return nil, fmt.Errorf("parsing websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url %q: scheme must be ws or wss", cfg.url)
	}
	q := u.Query()
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()

	return &Transport{
		logger:   logger.With("client_id", clientID),
		cfg:      *cfg,
		endpoint: u.String(),
		clientID: clientID,
	}, nil
}

// ClientID returns the identity presented to the server on every dial
func (t *Transport) ClientID() string {
	return t.clientID
}

// Connect starts dialing in the background and keeps the link up until Disconnect is called.
// It returns immediately; "connect" handlers fire once the link is established.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return nil
	}
	t.stop = make(chan struct{})
	go t.run(t.stop)

	return nil
}

// Disconnect closes the link and stops reconnecting. Connected reports false as soon as it returns,
// and a following Connect dials again.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
	t.link = nil
	t.pending = nil
}

// Connected reports whether a link is established
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.link != nil
}

// Emit sends event with payload encoded as JSON. While the link is down the frame is buffered
// and flushed after the next connect.
func (t *Transport) Emit(event string, payload interface{}) error {
	frame, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encoding %q event: %w", event, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link != nil {
		select {
		case t.link.out <- frame:
			return nil
		default:
			return fmt.Errorf("emitting %q: %w", event, ErrBufferFull)
		}
	}

	if len(t.pending) >= t.cfg.bufferSize {
		return fmt.Errorf("buffering %q: %w", event, ErrBufferFull)
	}
	t.pending = append(t.pending, frame)
	return nil
}

// On registers fn for event and returns an id for Off
func (t *Transport) On(event string, fn func([]byte)) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.handlers = append(t.handlers, handler{id: t.nextID, event: event, fn: fn})
	return t.nextID
}

// OnConnect registers fn for "connect" and reports whether a link is up already.
// When it is, fn is not called for that link, only for the following ones.
func (t *Transport) OnConnect(fn func()) (id uint64, connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.handlers = append(t.handlers, handler{id: t.nextID, event: EventConnect, fn: func([]byte) { fn() }})
	return t.nextID, t.link != nil
}

// Off removes the handler registered under id
func (t *Transport) Off(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, h := range t.handlers {
		if h.id == id {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

func (t *Transport) fire(event string, data []byte) {
	t.mu.Lock()
	fns := t.handlersLocked(event)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(data)
	}
}

func (t *Transport) handlersLocked(event string) []func([]byte) {
	var fns []func([]byte)
	for _, h := range t.handlers {
		if h.event == event {
			fns = append(fns, h.fn)
		}
	}
	return fns
}

// run dials and serves links until stop is closed
func (t *Transport) run(stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.reconnectMin
	b.MaxInterval = t.cfg.reconnectMax
	b.Reset()

	for {
		conn, _, err := t.cfg.dialer.DialContext(ctx, t.endpoint, nil)
		if err == nil {
			b.Reset()
			t.serve(conn, stop)
		} else if ctx.Err() == nil {
			t.logger.Warnf("Dialing %s: %v", t.cfg.url, err)
		}

		select {
		case <-stop:
			return
		default:
		}

		delay := b.NextBackOff()
		t.logger.Debugf("Reconnecting in %s", delay)

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// serve owns conn until it breaks or stop is closed
func (t *Transport) serve(conn *websocket.Conn, stop chan struct{}) {
	l := &link{out: make(chan []byte, t.cfg.bufferSize)}

	t.mu.Lock()
	if t.stop != stop {
		// Disconnect won the race with the dial
		t.mu.Unlock()
		conn.Close()
		return
	}
	for _, frame := range t.pending {
		l.out <- frame
	}
	t.pending = nil
	t.link = l
	// handlers registered after this point learn about the link from OnConnect
	onConnect := t.handlersLocked(EventConnect)
	t.mu.Unlock()

	t.logger.Infof("Connected to %s", t.cfg.url)
	for _, fn := range onConnect {
		fn(nil)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		t.readPump(conn)
	}()

	t.writePump(conn, l, stop, readDone)
	conn.Close()
	<-readDone

	t.mu.Lock()
	if t.link == l {
		t.link = nil
	}
	if t.stop == stop {
		// frames accepted but never written go out after the next connect
	drain:
		for len(t.pending) < t.cfg.bufferSize {
			select {
			case frame := <-l.out:
				t.pending = append(t.pending, frame)
			default:
				break drain
			}
		}
	}
	t.mu.Unlock()

	t.logger.Infof("Disconnected from %s", t.cfg.url)
	t.fire(EventDisconnect, nil)
}

func (t *Transport) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(t.cfg.maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warnf("Reading websocket: %v", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.pongWait))

		event, data, err := t.decode(message)
		if err != nil {
			t.logger.Warnf("Dropping frame: %v", err)
			continue
		}
		if event == EventConnect || event == EventDisconnect {
			t.logger.Warnf("Dropping frame with reserved event %q", event)
			continue
		}

		t.fire(event, data)
	}
}

func (t *Transport) writePump(conn *websocket.Conn, l *link, stop, readDone chan struct{}) {
	ticker := time.NewTicker(t.cfg.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.writeWait))
			return

		case <-readDone:
			return

		case frame := <-l.out:
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Warnf("Writing websocket: %v", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// decode splits a frame into its event name and the raw JSON of its data
func (t *Transport) decode(frame []byte) (string, []byte, error) {
	parser := t.parsers.Get()
	defer t.parsers.Put(parser)

	v, err := parser.ParseBytes(frame)
	if err != nil {
		return "", nil, fmt.Errorf("malformed JSON: %w", err)
	}

	eventValue := v.Get("event")
	if eventValue == nil || eventValue.Type() != fastjson.TypeString {
		return "", nil, errors.New(`field "event" must be a string`)
	}
	event := string(eventValue.GetStringBytes())
	if event == "" {
		return "", nil, errors.New(`field "event" must have non-zero length`)
	}

	var data []byte
	if dataValue := v.Get("data"); dataValue != nil {
		// MarshalTo copies, the parser is reused once decode returns
		data = dataValue.MarshalTo(nil)
	}

	return event, data, nil
}
