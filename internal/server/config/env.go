package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays Config fields from environment variables. Applied
// last, so deployment environments win over flags and files.
//
// Recognized variables:
//
//	ADDRESS            TCP messaging bind address
//	HTTP_ADDRESS       HTTP bind address
//	DATABASE_DSN       PostgreSQL DSN
//	REDIS_ADDR         redis host:port
//	AMQP_URL           AMQP broker URL
//	EXCHANGE_NAME      AMQP exchange name
//	SECRET_KEY         JWT HMAC secret
//	TOKEN_VALIDITY     session token lifetime, hours
//	BUFFER_MAX_LEN     per-recipient buffer cap
//	S3_ROOT_USER, S3_ROOT_PASSWORD, S3_BUCKET, S3_REGION, S3_BASE_ENDPOINT
func parseEnv(config *Config) {
	setString := func(name string, target *string) {
		if v, ok := os.LookupEnv(name); ok {
			*target = v
		}
	}

	setString("ADDRESS", &config.EndpointAddr)
	setString("HTTP_ADDRESS", &config.EndpointAddrHTTP)
	setString("DATABASE_DSN", &config.DatabaseDSN)
	setString("REDIS_ADDR", &config.RedisAddr)
	setString("AMQP_URL", &config.AMQPURL)
	setString("EXCHANGE_NAME", &config.ExchangeName)
	setString("SECRET_KEY", &config.SecretKey)
	setString("S3_ROOT_USER", &config.S3RootUser)
	setString("S3_ROOT_PASSWORD", &config.S3RootPassword)
	setString("S3_BUCKET", &config.S3Bucket)
	setString("S3_REGION", &config.S3Region)
	setString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)

	if v, ok := os.LookupEnv("TOKEN_VALIDITY"); ok {
		if hours, err := strconv.Atoi(v); err == nil {
			config.TokenValidityDuration = time.Duration(hours) * time.Hour
		}
	}
	if v, ok := os.LookupEnv("BUFFER_MAX_LEN"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.BufferMaxLen = n
		}
	}
}
