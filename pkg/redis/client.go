package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config Redis 連線設定
type Config struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Enabled 未設定 host 時視為不使用 Redis
func (c Config) Enabled() bool {
	return c.Host != ""
}

func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Options 轉成 go-redis 的連線參數
func (c Config) Options() *goredis.Options {
	dial := c.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	return &goredis.Options{
		Addr:        c.Addr(),
		Password:    c.Password,
		DB:          c.DB,
		DialTimeout: dial,
	}
}

// NewClient 建立 Redis client 並以 Ping 確認連線
func NewClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Options().DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
