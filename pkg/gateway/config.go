// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config collects gateway settings. Every field can be supplied from
// the environment; command-line flags override the parsed values.
type Config struct {
	// Transport selection: a WebSocket URL takes precedence over a
	// serial port when both are set.
	Port        string `env:"ZIPBRIDGE_PORT"`
	Baud        int    `env:"ZIPBRIDGE_BAUD" envDefault:"115200"`
	URL         string `env:"ZIPBRIDGE_URL"`
	Username    string `env:"ZIPBRIDGE_USERNAME"`
	NoSSLVerify bool   `env:"ZIPBRIDGE_NO_SSL_VERIFY"`

	// Request handling.
	ReplyTimeout time.Duration `env:"ZIPBRIDGE_REPLY_TIMEOUT" envDefault:"3s"`
	TagPoolSize  int           `env:"ZIPBRIDGE_TAG_POOL" envDefault:"16"`
	DiagWindow   time.Duration `env:"ZIPBRIDGE_DIAG_WINDOW" envDefault:"80ms"`

	// Setpoint streaming.
	StreamRateHz int `env:"ZIPBRIDGE_STREAM_HZ" envDefault:"10"`
	StreamTTLMs  int `env:"ZIPBRIDGE_STREAM_TTL_MS" envDefault:"250"`

	// Session server.
	ListenAddr string `env:"ZIPBRIDGE_LISTEN" envDefault:":8530"`
	LogFile    string `env:"ZIPBRIDGE_LOG_FILE"`
}

// LoadConfig reads settings from the environment and validates them.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings against protocol limits.
func (c *Config) Validate() error {
	if c.StreamRateHz <= 0 {
		c.StreamRateHz = DefaultStreamRateHz
	}
	if c.StreamRateHz > MaxStreamRateHz {
		return fmt.Errorf("stream rate %d Hz exceeds ceiling of %d Hz", c.StreamRateHz, MaxStreamRateHz)
	}
	if c.TagPoolSize <= 0 {
		c.TagPoolSize = DefaultTagPoolSize
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 3 * time.Second
	}
	if c.DiagWindow <= 0 {
		c.DiagWindow = 80 * time.Millisecond
	}
	return nil
}
