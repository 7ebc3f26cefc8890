package api

import (
	"net/http"
	"time"
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Client instance
type config struct {
	baseURL    string
	httpClient *http.Client
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	BaseURL string        `env:"API_BASE_URL" envDefault:"https://actlocal-server.onrender.com"`
	Timeout time.Duration `env:"API_TIMEOUT" envDefault:"15s"`
}

// WithEnvConfig enables processing exported EnvConfig struct to act as a source of config parameters for Client
func WithEnvConfig(cfg EnvConfig) Option {
	return optionFunc(func(c *config) {
		if cfg.BaseURL != "" {
			c.baseURL = cfg.BaseURL
		}
		if cfg.Timeout > 0 {
			c.httpClient.Timeout = cfg.Timeout
		}
	})
}

// BaseURL sets the scheme and host every request path is resolved against
func BaseURL(u string) Option {
	return optionFunc(func(c *config) {
		c.baseURL = u
	})
}

// Timeout sets the overall timeout of a single request
func Timeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.httpClient.Timeout = d
	})
}

// HTTPClient replaces the underlying http.Client. Options applied after it modify the provided client.
func HTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *config) {
		c.httpClient = hc
	})
}
