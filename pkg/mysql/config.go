package mysql

import (
	"fmt"
	"time"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config 定義資料庫連線與連線池的配置
type Config struct {
	// Driver mysql (正式環境) 或 sqlite (單機 / 測試)
	Driver string `yaml:"driver"`

	Host     string `yaml:"host"`     // 資料庫主機地址
	Port     int    `yaml:"port"`     // 資料庫埠號 (預設 3306)
	User     string `yaml:"user"`     // 使用者名稱
	Password string `yaml:"password"` // 密碼
	DBName   string `yaml:"db_name"`  // 資料庫名稱

	// Path sqlite 檔案路徑，":memory:" 代表記憶體資料庫
	Path string `yaml:"path"`

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns"`    // 最大開啟連線數
	MaxIdleConns    int           `yaml:"max_idle_conns"`    // 最大閒置連線數
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"` // 連線最大存活時間

	// 連線重試
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`

	// GORM 設定
	LogLevel      string        `yaml:"log_level"`      // Log 等級: "silent", "error", "warn", "info"
	SlowThreshold time.Duration `yaml:"slow_threshold"` // 慢查詢門檻
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// ApplyDefaults 補上未設定的欄位
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Driver == DriverSQLite && c.Path == "" {
		c.Path = ":memory:"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 50
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.SlowThreshold == 0 {
		c.SlowThreshold = 200 * time.Millisecond
	}
}

// Validate 檢查必要欄位
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMySQL:
		if c.Host == "" || c.DBName == "" {
			return fmt.Errorf("mysql: host and db_name are required")
		}
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("sqlite: path is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Driver)
	}
	return nil
}
