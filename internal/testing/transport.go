package testing

import (
	"encoding/json"
	"sync"
)

// Emitted is one event recorded by FakeTransport.Emit
type Emitted struct {
	Event   string
	Payload json.RawMessage
}

type fakeHandler struct {
	id    uint64
	event string
	fn    func([]byte)
}

// FakeTransport is an in-process transport. Handlers run synchronously on the goroutine
// that calls Connect, Reconnect or Deliver.
type FakeTransport struct {
	mu          sync.Mutex
	connected   bool
	nextID      uint64
	handlers    []fakeHandler
	emitted     []Emitted
	connects    int
	disconnects int
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) Connect() error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connected = true
	f.connects++
	fns := f.handlersLocked("connect")
	f.mu.Unlock()

	call(fns, nil)
	return nil
}

func (f *FakeTransport) Disconnect() {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.connected = false
	f.disconnects++
	f.mu.Unlock()

	f.fire("disconnect", nil)
}

func (f *FakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeTransport) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.emitted = append(f.emitted, Emitted{Event: event, Payload: data})
	f.mu.Unlock()
	return nil
}

func (f *FakeTransport) On(event string, fn func([]byte)) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers = append(f.handlers, fakeHandler{id: f.nextID, event: event, fn: fn})
	return f.nextID
}

// OnConnect registers fn for "connect" and reports whether the transport is connected already
func (f *FakeTransport) OnConnect(fn func()) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers = append(f.handlers, fakeHandler{id: f.nextID, event: "connect", fn: func([]byte) { fn() }})
	return f.nextID, f.connected
}

func (f *FakeTransport) Off(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, h := range f.handlers {
		if h.id == id {
			f.handlers = append(f.handlers[:i], f.handlers[i+1:]...)
			return
		}
	}
}

// Reconnect simulates a dropped and restored link: it fires "disconnect" and then "connect"
func (f *FakeTransport) Reconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire("disconnect", nil)

	f.mu.Lock()
	f.connected = true
	f.connects++
	fns := f.handlersLocked("connect")
	f.mu.Unlock()
	call(fns, nil)
}

// Deliver simulates a server pushed event with raw JSON payload
func (f *FakeTransport) Deliver(event, payload string) {
	f.fire(event, []byte(payload))
}

// Emitted returns every recorded emission of event
func (f *FakeTransport) Emitted(event string) []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Emitted
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// HandlerCount returns the number of handlers attached for event
func (f *FakeTransport) HandlerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handlers {
		if h.event == event {
			n++
		}
	}
	return n
}

func (f *FakeTransport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *FakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *FakeTransport) fire(event string, data []byte) {
	f.mu.Lock()
	fns := f.handlersLocked(event)
	f.mu.Unlock()
	call(fns, data)
}

func (f *FakeTransport) handlersLocked(event string) []func([]byte) {
	var fns []func([]byte)
	for _, h := range f.handlers {
		if h.event == event {
			fns = append(fns, h.fn)
		}
	}
	return fns
}

func call(fns []func([]byte), data []byte) {
	for _, fn := range fns {
		fn(data)
	}
}
