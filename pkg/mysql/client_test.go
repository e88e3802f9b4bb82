package mysql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 3306, User: "ledger", Password: "secret", DBName: "credits"}
	assert.Equal(t, "ledger:secret@tcp(db:3306)/credits?charset=utf8mb4&parseTime=True&loc=UTC", cfg.DSN())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Driver: DriverSQLite}
	cfg.ApplyDefaults()
	assert.Equal(t, ":memory:", cfg.Path)
	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowThreshold)
	assert.NoError(t, cfg.Validate())

	cfg = Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DriverMySQL, cfg.Driver)
	assert.Equal(t, 3306, cfg.Port)
	assert.Error(t, cfg.Validate())

	cfg = Config{Driver: "postgres"}
	assert.Error(t, cfg.Validate())
}

func TestNewClient_SQLite(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, LogLevel: "silent"}
	cfg.ApplyDefaults()

	client, err := NewClient(cfg, nil)
	require.NoError(t, err)
	defer client.Close()

	var one int
	require.NoError(t, client.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)

	sqlDB, err := client.DB().DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}
