package chat

import (
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DedupPolicy decides what happens when the server echoes back a message this client sent
type DedupPolicy int

const (
	// DedupNone keeps the optimistic copy next to the echoed one. Both bubbles stay visible
	// until the next history fetch.
	DedupNone DedupPolicy = iota
	// DedupEcho replaces a pending optimistic message in place by the echo with the same
	// chatroom, sender and text received within the dedup window.
	DedupEcho
)

func (p DedupPolicy) String() string {
	if p == DedupEcho {
		return "echo"
	}
	return "none"
}

// ParseDedupPolicy parses "none" or "echo"
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch s {
	case "", "none":
		return DedupNone, nil
	case "echo":
		return DedupEcho, nil
	default:
		return DedupNone, fmt.Errorf("unknown dedup policy %q", s)
	}
}

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Store instance
type config struct {
	notifier     Notifier
	dedup        DedupPolicy
	dedupWindow  time.Duration
	now          func() time.Time
	newID        func() (string, error)
	fetchTimeout time.Duration
}

func defaultConfig() *config {
	return &config{
		dedup:        DedupNone,
		dedupWindow:  30 * time.Second,
		now:          time.Now,
		newID:        func() (string, error) { return gonanoid.New() },
		fetchTimeout: 15 * time.Second,
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	Dedup       string        `env:"CHAT_DEDUP" envDefault:"none"`
	DedupWindow time.Duration `env:"CHAT_DEDUP_WINDOW" envDefault:"30s"`
}

// WithEnvConfig enables processing exported EnvConfig struct to act as a source of config parameters for Store.
// An unknown policy name keeps DedupNone.
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		if p, err := ParseDedupPolicy(cfg.Dedup); err == nil {
			c.dedup = p
		}
		if cfg.DedupWindow > 0 {
			c.dedupWindow = cfg.DedupWindow
		}
	})
}

// WithNotifier sets the receiver of "new message arrived" notices
func WithNotifier(n Notifier) Option {
	return optionFunc(func(c *config) {
		c.notifier = n
	})
}

// WithDedupPolicy sets how server echoes of optimistic messages are handled
func WithDedupPolicy(p DedupPolicy) Option {
	return optionFunc(func(c *config) {
		c.dedup = p
	})
}

// WithDedupWindow sets how long an optimistic message waits for its echo
func WithDedupWindow(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.dedupWindow = d
	})
}

// WithClock replaces time.Now for optimistic message timestamps
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		c.now = now
	})
}

// WithIDGenerator replaces the generator of optimistic message ids
func WithIDGenerator(fn func() (string, error)) Option {
	return optionFunc(func(c *config) {
		c.newID = fn
	})
}

// FetchTimeout bounds the background chatroom fetch issued on session bind
func FetchTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.fetchTimeout = d
	})
}
