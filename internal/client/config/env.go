package config

import (
	"os"
	"time"
)

// parseEnv overlays Config fields from environment variables. Applied
// last, so they win over flags and files.
//
// Recognized variables:
//
//	ADDRESS         messaging endpoint host:port
//	HTTP_ADDRESS    HTTP endpoint base URL
//	DATABASE_DSN    local sqlite database path
//	KEY_FILE        sealed private-key file path
//	USER_ID         user id
//	TOKEN           session token
//	ACK_TIMEOUT     ack wait duration ("10s")
func parseEnv(config *Config) {
	setString := func(name string, target *string) {
		if v, ok := os.LookupEnv(name); ok {
			*target = v
		}
	}

	setString("ADDRESS", &config.ServerEndpointAddr)
	setString("HTTP_ADDRESS", &config.ServerEndpointHTTP)
	setString("DATABASE_DSN", &config.DatabaseDSN)
	setString("KEY_FILE", &config.KeyFile)
	setString("USER_ID", &config.UserID)
	setString("TOKEN", &config.Token)

	if v, ok := os.LookupEnv("ACK_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			config.AckTimeout = d
		}
	}
}
