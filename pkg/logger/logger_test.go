package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	l, err := New(Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("credit account initialized", zap.String("tenant_id", "t1"))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tenant_id":"t1"`)
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestNew_BadOutput(t *testing.T) {
	_, err := New(Config{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestGormLogger_Trace(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, 100*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(context.Background(), time.Now(), fc, nil)
	gl.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	gl.Trace(context.Background(), time.Now(), fc, errors.New("deadlock"))
	gl.Trace(context.Background(), time.Now(), fc, gormlogger.ErrRecordNotFound)

	logs := recorded.All()
	require.Len(t, logs, 3)
	assert.Equal(t, "SQL Query", logs[0].Message)
	assert.Equal(t, "SLOW SQL >= 100ms", logs[1].Message)
	assert.Equal(t, "SQL Error", logs[2].Message)
	assert.Equal(t, "gorm", logs[0].LoggerName)
}

func TestGormLogger_LogMode(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Info, 0)

	silent := gl.LogMode(gormlogger.Silent)
	silent.Info(context.Background(), "hidden %d", 1)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "", 0 }, nil)
	assert.Empty(t, recorded.All())

	gl.Warn(context.Background(), "visible %d", 2)
	require.Len(t, recorded.All(), 1)
	assert.Equal(t, "visible 2", recorded.All()[0].Message)
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, gormlogger.Silent, GormLevel("silent"))
	assert.Equal(t, gormlogger.Warn, GormLevel("warn"))
	assert.Equal(t, gormlogger.Info, GormLevel("info"))
	assert.Equal(t, gormlogger.Error, GormLevel(""))
}
