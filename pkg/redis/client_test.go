package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig(t *testing.T) {
	assert.False(t, Config{}.Enabled())

	cfg := Config{Host: "cache", DB: 2}
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "cache:6379", cfg.Addr())
	opts := cfg.Options()
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)

	cfg.Port = 6380
	assert.Equal(t, "cache:6380", cfg.Addr())
}

func TestNewClient_Unreachable(t *testing.T) {
	_, err := NewClient(Config{Host: "127.0.0.1", Port: 1, DialTimeout: 50 * time.Millisecond})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}
