package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_parseEnv(t *testing.T) {
	t.Setenv("ADDRESS", "chat.example:9090")
	t.Setenv("USER_ID", "alice")
	t.Setenv("TOKEN", "tok")
	t.Setenv("ACK_TIMEOUT", "3s")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, "chat.example:9090", cfg.ServerEndpointAddr)
	assert.Equal(t, "alice", cfg.UserID)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, 3*time.Second, cfg.AckTimeout)
	assert.Equal(t, "messages.db", cfg.DatabaseDSN)
}

func Test_parseEnv_InvalidDurationIgnored(t *testing.T) {
	t.Setenv("ACK_TIMEOUT", "whenever")

	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)

	assert.Equal(t, 10*time.Second, cfg.AckTimeout)
}
