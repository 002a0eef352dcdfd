package config

import (
	"encoding/json"
	"os"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/flagx"
)

// JSONConfig is the DTO for reading a JSON configuration file. Duration
// fields accept both strings such as "24h" and integer nanoseconds; the
// values are copied into the runtime Config after unmarshalling.
type JSONConfig struct {
	EndpointAddr          string          `json:"endpoint_addr"`
	EndpointAddrHTTP      string          `json:"endpoint_addr_http"`
	DatabaseDSN           string          `json:"database_dsn"`
	RedisAddr             string          `json:"redis_addr"`
	AMQPURL               string          `json:"amqp_url"`
	ExchangeName          string          `json:"exchange_name"`
	SecretKey             string          `json:"secret_key"`
	TokenValidityDuration common.Duration `json:"token_validity_duration"`
	BufferMaxLen          int             `json:"buffer_max_len"`
	S3RootUser            string          `json:"s3_root_user"`
	S3RootPassword        string          `json:"s3_root_password"`
	S3Bucket              string          `json:"s3_bucket"`
	S3Region              string          `json:"s3_region"`
	S3BaseEndpoint        string          `json:"s3_base_endpoint"`
}

// parseJSON overlays values from the JSON file named by -c/-config onto
// config. No file flag means nothing is loaded. An unreadable or invalid
// file panics: a misconfigured server must not start.
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

	config.EndpointAddr = c.EndpointAddr
	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.RedisAddr = c.RedisAddr
	config.AMQPURL = c.AMQPURL
	config.ExchangeName = c.ExchangeName
	config.SecretKey = c.SecretKey
	config.TokenValidityDuration = c.TokenValidityDuration.Duration
	config.BufferMaxLen = c.BufferMaxLen
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
