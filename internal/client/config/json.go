package config

import (
	"encoding/json"
	"os"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/flagx"
)

// JSONConfig is the DTO for reading a JSON configuration file.
type JSONConfig struct {
	ServerEndpointAddr string          `json:"server_endpoint_addr"`
	ServerEndpointHTTP string          `json:"server_endpoint_http"`
	DatabaseDSN        string          `json:"database_dsn"`
	KeyFile            string          `json:"key_file"`
	UserID             string          `json:"user_id"`
	Token              string          `json:"token"`
	AckTimeout         common.Duration `json:"ack_timeout"`
}

// parseJSON overlays values from the JSON file named by -c/-config.
func parseJSON(config *Config) {
	jsonConfigFile := flagx.ConfigFilePath()
	if jsonConfigFile == "" {
		return
	}

	c := &JSONConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.ServerEndpointAddr = c.ServerEndpointAddr
	config.ServerEndpointHTTP = c.ServerEndpointHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.KeyFile = c.KeyFile
	config.UserID = c.UserID
	config.Token = c.Token
	if c.AckTimeout.Duration > 0 {
		config.AckTimeout = c.AckTimeout.Duration
	}
}
