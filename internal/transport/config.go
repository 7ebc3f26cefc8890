package transport

import (
	"time"

	"github.com/gorilla/websocket"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Transport instance
type config struct {
	url            string
	dialer         *websocket.Dialer
	reconnectMin   time.Duration
	reconnectMax   time.Duration
	pingInterval   time.Duration
	pongWait       time.Duration
	writeWait      time.Duration
	maxMessageSize int64
	bufferSize     int
}

func defaultConfig() *config {
	return &config{
		dialer:         websocket.DefaultDialer,
		reconnectMin:   time.Second,
		reconnectMax:   5 * time.Second,
		pingInterval:   25 * time.Second,
		pongWait:       60 * time.Second,
		writeWait:      10 * time.Second,
		maxMessageSize: 1 << 20,
		bufferSize:     256,
	}
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	URL          string        `env:"WS_URL" envDefault:"wss://actlocal-server.onrender.com/ws"`
	ReconnectMin time.Duration `env:"WS_RECONNECT_MIN" envDefault:"1s"`
	ReconnectMax time.Duration `env:"WS_RECONNECT_MAX" envDefault:"5s"`
}

// WithEnvConfig enables processing exported EnvConfig struct to act as a source of config parameters for Transport
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		if cfg.URL != "" {
			c.url = cfg.URL
		}
		if cfg.ReconnectMin > 0 {
			c.reconnectMin = cfg.ReconnectMin
		}
		if cfg.ReconnectMax >= c.reconnectMin {
			c.reconnectMax = cfg.ReconnectMax
		}
	})
}

// URL sets the websocket endpoint
func URL(u string) Option {
	return optionFunc(func(c *config) {
		c.url = u
	})
}

// ReconnectDelay sets the bounds of the exponential reconnection delay
func ReconnectDelay(min, max time.Duration) Option {
	return optionFunc(func(c *config) {
		c.reconnectMin = min
		c.reconnectMax = max
	})
}

// Keepalive sets the ping interval and how long to wait for a pong before the link is considered dead
func Keepalive(ping, pongWait time.Duration) Option {
	return optionFunc(func(c *config) {
		c.pingInterval = ping
		c.pongWait = pongWait
	})
}

// BufferSize sets how many outgoing events are kept while the link is down
func BufferSize(n int) Option {
	return optionFunc(func(c *config) {
		c.bufferSize = n
	})
}

// Dialer replaces websocket.DefaultDialer
func Dialer(d *websocket.Dialer) Option {
	return optionFunc(func(c *config) {
		c.dialer = d
	})
}
