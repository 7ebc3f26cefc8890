// Package popup surfaces transient "new message" notices.
package popup

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDuration is how long a notice stays visible
const DefaultDuration = 4 * time.Second

// Notice is what the renderer shows for an incoming message
type Notice struct {
	SenderName string
	Text       string
	ChatroomID string
}

// Bridge keeps at most one visible Notice and hides it after a fixed duration.
// A newer notice replaces the visible one and restarts the timer.
type Bridge struct {
	logger   *zap.SugaredLogger
	duration time.Duration

	mu       sync.Mutex
	current  *Notice
	timer    *time.Timer
	seq      uint64
	onChange func(n *Notice)
}

// NewBridge returns a Bridge. A non-positive duration means DefaultDuration.
func NewBridge(logger *zap.SugaredLogger, duration time.Duration) *Bridge {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Bridge{logger: logger, duration: duration}
}

// OnChange sets the callback invoked with the visible notice, or nil once it is hidden
func (b *Bridge) OnChange(fn func(n *Notice)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Notify shows n
func (b *Bridge) Notify(n Notice) {
	if n.SenderName == "" {
		n.SenderName = "New Message"
	}

	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.current = &n
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.duration, func() { b.hide(seq) })
	onChange := b.onChange
	b.mu.Unlock()

	b.logger.Debugf("Showing popup for chatroom %s", n.ChatroomID)
	if onChange != nil {
		shown := n
		onChange(&shown)
	}
}

// Current returns the visible notice
func (b *Bridge) Current() (Notice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Notice{}, false
	}
	return *b.current, true
}

// Dismiss hides the visible notice right away, e.g. when the user taps it
func (b *Bridge) Dismiss() {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	b.hide(seq)
}

func (b *Bridge) hide(seq uint64) {
	b.mu.Lock()
	if seq != b.seq || b.current == nil {
		b.mu.Unlock()
		return
	}
	b.current = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(nil)
	}
}
