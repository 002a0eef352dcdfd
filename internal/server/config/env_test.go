package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_parseEnv(t *testing.T) {
	t.Setenv("ADDRESS", ":7777")
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("TOKEN_VALIDITY", "12")
	t.Setenv("BUFFER_MAX_LEN", "250")
	t.Setenv("S3_BUCKET", "env-bucket")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, ":7777", cfg.EndpointAddr)
	assert.Equal(t, "postgres://env", cfg.DatabaseDSN)
	assert.Equal(t, 12*time.Hour, cfg.TokenValidityDuration)
	assert.Equal(t, 250, cfg.BufferMaxLen)
	assert.Equal(t, "env-bucket", cfg.S3Bucket)
	// Untouched variables keep their previous values.
	assert.Equal(t, ":8080", cfg.EndpointAddrHTTP)
}

func Test_parseEnv_InvalidNumbersIgnored(t *testing.T) {
	t.Setenv("TOKEN_VALIDITY", "soon")
	t.Setenv("BUFFER_MAX_LEN", "lots")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, 24*time.Hour, cfg.TokenValidityDuration)
	assert.Equal(t, 1000, cfg.BufferMaxLen)
}
