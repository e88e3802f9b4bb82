package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
)

// usageDelta 待推送的用量差額
type usageDelta struct {
	tenantID   string
	creditType domain.CreditType
	n          int64
}

// InstanceSync 把用量差額盡力推送到租戶目錄
//
// 帳本本身才是權威來源，推送失敗只記錄 log。
// Push 永不阻塞：佇列滿時丟棄該筆差額。
type InstanceSync struct {
	dir     InstanceDirectory
	queue   chan usageDelta
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Ledger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// SyncOption InstanceSync 設定選項
type SyncOption func(*InstanceSync)

func WithSyncQueueSize(n int) SyncOption {
	return func(s *InstanceSync) {
		if n > 0 {
			s.queue = make(chan usageDelta, n)
		}
	}
}

func WithSyncTimeout(d time.Duration) SyncOption {
	return func(s *InstanceSync) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithSyncLogger(logger *zap.Logger) SyncOption {
	return func(s *InstanceSync) {
		if logger != nil {
			s.logger = logger.Named("sync")
		}
	}
}

func WithSyncMetrics(m *metrics.Ledger) SyncOption {
	return func(s *InstanceSync) { s.metrics = m }
}

// NewInstanceSync 建立並啟動背景 worker
func NewInstanceSync(dir InstanceDirectory, opts ...SyncOption) *InstanceSync {
	s := &InstanceSync{
		dir:     dir,
		queue:   make(chan usageDelta, 1024),
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// PushAudits 推送稽核額度使用量
func (s *InstanceSync) PushAudits(tenantID string, n int64) {
	s.push(usageDelta{tenantID: tenantID, creditType: domain.CreditTypeAudit, n: n})
}

// PushTokens 推送 token 使用量
func (s *InstanceSync) PushTokens(tenantID string, n int64) {
	s.push(usageDelta{tenantID: tenantID, creditType: domain.CreditTypeToken, n: n})
}

func (s *InstanceSync) push(d usageDelta) {
	if d.n <= 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- d:
	default:
		s.metrics.ObserveSyncDropped()
		s.logger.Warn("sync queue full, usage delta dropped",
			zap.String("tenant_id", d.tenantID),
			zap.String("credit_type", d.creditType.String()),
			zap.Int64("n", d.n),
		)
	}
}

func (s *InstanceSync) run() {
	defer s.wg.Done()
	for d := range s.queue {
		if err := s.apply(d); err != nil {
			s.metrics.ObserveSyncFailure()
			s.logger.Warn("instance sync failed",
				zap.String("tenant_id", d.tenantID),
				zap.String("credit_type", d.creditType.String()),
				zap.Int64("n", d.n),
				zap.Error(err),
			)
		}
	}
}

func (s *InstanceSync) apply(d usageDelta) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var err error
	switch d.creditType {
	case domain.CreditTypeAudit:
		err = s.dir.IncrementUsedAudits(ctx, d.tenantID, d.n)
	case domain.CreditTypeToken:
		err = s.dir.IncrementUsedTokens(ctx, d.tenantID, d.n)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSyncFailure, err)
	}
	return nil
}

// Close 停止接收並等待佇列清空
func (s *InstanceSync) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

var _ UsagePusher = (*InstanceSync)(nil)
