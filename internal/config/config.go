package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/redis"
)

// DefaultPath 預設設定檔位置
const DefaultPath = "config/config.yaml"

// 帳本儲存實作
const (
	StoreMySQL     = "mysql"
	StoreMemory    = "memory"
	StoreSequencer = "sequencer"
)

// 轉換率來源
const (
	RateSourceMySQL = "mysql"
	RateSourceRedis = "redis"
	RateSourceNone  = "none"
)

type Config struct {
	MySQL   mysql.Config  `yaml:"mysql"`
	Redis   redis.Config  `yaml:"redis"`
	GRPC    GRPCConfig    `yaml:"grpc"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
	Ledger  LedgerConfig  `yaml:"ledger"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LedgerConfig 帳本行為設定
type LedgerConfig struct {
	// Store mysql | memory | sequencer
	Store string `yaml:"store"`
	// WALPath memory / sequencer 使用的 WAL 檔案
	WALPath string `yaml:"wal_path"`
	// SequencerBuffer sequencer 的請求佇列容量
	SequencerBuffer int `yaml:"sequencer_buffer"`

	// RateSource mysql | redis | none
	RateSource        string        `yaml:"rate_source"`
	RateKey           string        `yaml:"rate_key"`
	DefaultRate       int64         `yaml:"default_rate"`
	RateCacheTTL      time.Duration `yaml:"rate_cache_ttl"`
	RateLookupTimeout time.Duration `yaml:"rate_lookup_timeout"`

	SyncQueueSize int           `yaml:"sync_queue_size"`
	SyncTimeout   time.Duration `yaml:"sync_timeout"`

	// EventQueueSize / EventTimeout 事件非同步發送；有設定 Redis 時發到 EventChannel
	EventQueueSize int           `yaml:"event_queue_size"`
	EventTimeout   time.Duration `yaml:"event_timeout"`
	EventChannel   string        `yaml:"event_channel"`

	// InitDefaults Initialize 未帶參數時的初始設定，未設定使用 domain.DefaultInitOptions
	InitDefaults *domain.InitOptions `yaml:"init_defaults"`
}

// Load 讀取並解析設定檔，補上預設值後驗證
//
// path 為空時只使用預設值。
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 補全 yaml 沒寫的欄位
func (c *Config) applyDefaults() {
	c.MySQL.ApplyDefaults()

	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	def := logger.DefaultConfig()
	if c.Log.Level == "" {
		c.Log.Level = def.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = def.Output
	}

	l := &c.Ledger
	if l.Store == "" {
		l.Store = StoreMySQL
	}
	if l.WALPath == "" {
		l.WALPath = "wal.log"
	}
	if l.SequencerBuffer <= 0 {
		l.SequencerBuffer = 1000
	}
	if l.RateSource == "" {
		if c.Redis.Enabled() {
			l.RateSource = RateSourceRedis
		} else {
			l.RateSource = RateSourceMySQL
		}
	}
	if l.DefaultRate <= 0 {
		l.DefaultRate = 2000
	}
	if l.RateCacheTTL <= 0 {
		l.RateCacheTTL = 30 * time.Second
	}
	if l.RateLookupTimeout <= 0 {
		l.RateLookupTimeout = 500 * time.Millisecond
	}
	if l.SyncQueueSize <= 0 {
		l.SyncQueueSize = 1024
	}
	if l.SyncTimeout <= 0 {
		l.SyncTimeout = 2 * time.Second
	}
	if l.EventQueueSize <= 0 {
		l.EventQueueSize = 256
	}
	if l.EventTimeout <= 0 {
		l.EventTimeout = 2 * time.Second
	}
	if l.InitDefaults == nil {
		d := domain.DefaultInitOptions()
		l.InitDefaults = &d
	} else {
		if l.InitDefaults.InstanceType == "" {
			l.InitDefaults.InstanceType = domain.InstanceTypeTrial
		}
		if l.InitDefaults.InstanceType == domain.InstanceTypeTrial && l.InitDefaults.TrialDays == 0 {
			l.InitDefaults.TrialDays = domain.DefaultTrialDays
		}
	}
}

// Validate 檢查設定組合是否可用
func (c *Config) Validate() error {
	var errs []error
	switch c.Ledger.Store {
	case StoreMySQL, StoreMemory, StoreSequencer:
	default:
		errs = append(errs, fmt.Errorf("ledger.store: unknown store %q", c.Ledger.Store))
	}
	switch c.Ledger.RateSource {
	case RateSourceMySQL, RateSourceNone:
	case RateSourceRedis:
		if !c.Redis.Enabled() {
			errs = append(errs, errors.New("ledger.rate_source: redis requires redis.host"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.rate_source: unknown source %q", c.Ledger.RateSource))
	}
	if err := c.Ledger.InitDefaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ledger.init_defaults: %w", err))
	}
	if c.NeedsDatabase() {
		if err := c.MySQL.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NeedsDatabase 是否需要連線資料庫 (儲存、轉換率或租戶目錄)
//
// 租戶目錄 (instances 表) 一律在資料庫中；記憶體儲存搭配 none 來源且未設定資料庫時不連線。
func (c *Config) NeedsDatabase() bool {
	if c.Ledger.Store == StoreMySQL || c.Ledger.RateSource == RateSourceMySQL {
		return true
	}
	return c.MySQL.Driver != "" && (c.MySQL.Host != "" || c.MySQL.Driver == mysql.DriverSQLite)
}
