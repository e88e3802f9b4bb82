package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/memory"
	mysqladapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/mysql"
	redisadapter "github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/redis"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/internal/config"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/redis"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// app 組裝好的執行期元件
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	ledger   *usecase.LedgerService

	db        *mysql.Client
	redis     *goredis.Client
	wal       *wal.WAL
	sequencer *memory.SequencerStore
	stopStore context.CancelFunc
	sync      *usecase.InstanceSync
	events    *usecase.EventDispatcher
}

// newApp 依設定建立基礎設施與 LedgerService
//
// 1. 連線資料庫 / Redis
// 2. 建立帳戶儲存 (mysql / memory / sequencer)
// 3. 轉換率、事件、租戶目錄同步
// 4. 組裝 LedgerService
func newApp(cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewLedger(a.registry)

	// 1. 基礎連線
	if cfg.NeedsDatabase() {
		a.db, err = mysql.NewClient(cfg.MySQL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := mysqladapter.Migrate(a.db.DB()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("database connected", zap.String("driver", cfg.MySQL.Driver))
	}
	if cfg.Redis.Enabled() {
		a.redis, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// 2. 帳戶儲存
	store, err := a.newStore()
	if err != nil {
		return nil, err
	}

	// 3. 周邊元件
	policy := usecase.NewConversionPolicy(a.rateSource(),
		usecase.WithDefaultRate(cfg.Ledger.DefaultRate),
		usecase.WithRateCacheTTL(cfg.Ledger.RateCacheTTL),
		usecase.WithRateLookupTimeout(cfg.Ledger.RateLookupTimeout),
		usecase.WithPolicyLogger(logger),
		usecase.WithPolicyMetrics(m),
	)

	var sink usecase.EventSink = usecase.NewLogSink(logger)
	if a.redis != nil {
		sink = redisadapter.NewPublisher(a.redis, cfg.Ledger.EventChannel, logger)
	}
	a.events = usecase.NewEventDispatcher(sink, cfg.Ledger.EventQueueSize, cfg.Ledger.EventTimeout, logger)
	alerts := usecase.NewAlertMonitor(store, a.events, logger, m)

	opts := []usecase.Option{
		usecase.WithAlertMonitor(alerts),
		usecase.WithMetrics(m),
		usecase.WithLogger(logger),
		usecase.WithInitDefaults(*cfg.Ledger.InitDefaults),
	}
	if a.db != nil {
		a.sync = usecase.NewInstanceSync(mysqladapter.NewInstanceDirectory(a.db),
			usecase.WithSyncQueueSize(cfg.Ledger.SyncQueueSize),
			usecase.WithSyncTimeout(cfg.Ledger.SyncTimeout),
			usecase.WithSyncLogger(logger),
			usecase.WithSyncMetrics(m),
		)
		opts = append(opts, usecase.WithUsagePusher(a.sync))
	}

	// 4. LedgerService
	a.ledger = usecase.NewLedgerService(store, policy, opts...)
	return a, nil
}

func (a *app) newStore() (usecase.AccountStore, error) {
	switch a.cfg.Ledger.Store {
	case config.StoreMySQL:
		return mysqladapter.NewStore(a.db), nil
	case config.StoreMemory, config.StoreSequencer:
		w, err := wal.Open(a.cfg.Ledger.WALPath)
		if err != nil {
			return nil, fmt.Errorf("open wal: %w", err)
		}
		a.wal = w

		if a.cfg.Ledger.Store == config.StoreMemory {
			return memory.NewMutexStore(w)
		}
		s, err := memory.NewSequencerStore(w, a.cfg.Ledger.SequencerBuffer)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.Start(ctx)
		a.sequencer, a.stopStore = s, cancel
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store %q", a.cfg.Ledger.Store)
	}
}

// rateSource 回傳 nil 代表固定使用預設轉換率
func (a *app) rateSource() usecase.RateSource {
	switch a.cfg.Ledger.RateSource {
	case config.RateSourceMySQL:
		return mysqladapter.NewSettingsSource(a.db)
	case config.RateSourceRedis:
		return redisadapter.NewRateSource(a.redis, a.cfg.Ledger.RateKey)
	default:
		return nil
	}
}

// Close 依相依順序關閉：先停止背景 worker，再停儲存，最後關閉連線
func (a *app) Close() error {
	var errs []error
	if a.sync != nil {
		a.sync.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.stopStore != nil {
		a.stopStore()
		<-a.sequencer.Done()
	}
	if a.wal != nil {
		errs = append(errs, a.wal.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
