package mysql

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 建立並回傳一個新的資料庫客戶端實例 (GORM)
//
// 參數:
//
//	cfg: Config - 連線配置 (已套用 ApplyDefaults)
//	log: zap logger，作為 gorm 的 logger
//
// 回傳值:
//
//	*Client: 封裝後的客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		dialector = sqlite.Open(cfg.Path)
	default:
		dialector = mysql.Open(cfg.DSN())
	}
	return Open(dialector, cfg, log)
}

// Open 以指定的 dialector 建立客戶端 (測試可傳入 sqlmock 連線)
func Open(dialector gorm.Dialector, cfg Config, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gormConfig := &gorm.Config{
		// 帳本寫入一律明確使用 Transaction，其餘單筆操作不需要預設事務
		SkipDefaultTransaction: true,
		// 唯一鍵衝突轉為 gorm.ErrDuplicatedKey，讓上層判斷帳戶已存在
		TranslateError: true,
		Logger:         logger.NewGormLogger(log, logger.GormLevel(cfg.LogLevel), cfg.SlowThreshold),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	maxRetries := max(cfg.MaxRetries, 1)

	var db *gorm.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector, gormConfig)
		if err == nil {
			// Try pinging to ensure connection is actually alive
			rawDB, pingErr := db.DB()
			if pingErr == nil {
				if err = rawDB.Ping(); err == nil {
					break // Connection successful
				}
			} else {
				err = pingErr
			}
		}

		if i < maxRetries-1 {
			log.Warn("database connect failed, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_retries", maxRetries),
				zap.Duration("retry_in", cfg.RetryInterval),
				zap.Error(err),
			)
			time.Sleep(cfg.RetryInterval)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// sqlite 只允許單一寫入者，":memory:" 每條連線各自一個資料庫
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &Client{db: db}, nil
}

// DB 回傳底層的 *gorm.DB 實例，供 repository 使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
