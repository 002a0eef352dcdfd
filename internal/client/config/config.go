// Package config handles configuration for the client, including
// defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the messaging client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the TCP messaging endpoint.
//   - ServerEndpointHTTP: base URL of the HTTP collaborators.
//   - DatabaseDSN: path of the local sqlite store.
//   - KeyFile: path of the sealed private-key file.
//   - UserID: the identity this client speaks for.
//   - Token: session token minted by the identity service.
//   - AckTimeout: how long to wait for a server ack before a send
//     attempt counts as failed.
type Config struct {
	ServerEndpointAddr string
	ServerEndpointHTTP string
	DatabaseDSN        string
	KeyFile            string
	UserID             string
	Token              string
	AckTimeout         time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:9090"
	c.ServerEndpointHTTP = "http://127.0.0.1:8080"
	c.DatabaseDSN = "messages.db"
	c.KeyFile = "identity.key"
	c.AckTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present), command-line flags and environment variables.
// Later sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	parseEnv(cfg)
	return cfg
}
