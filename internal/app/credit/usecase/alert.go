package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
)

// AlertMonitor 低額度警示，每次跌破門檻最多發一次
type AlertMonitor struct {
	store   AccountStore
	sink    EventSink
	logger  *zap.Logger
	metrics *metrics.Ledger
	now     func() time.Time
}

// NewAlertMonitor sink 建議使用 EventDispatcher 讓交付非同步
func NewAlertMonitor(store AccountStore, sink EventSink, logger *zap.Logger, m *metrics.Ledger) *AlertMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertMonitor{
		store:   store,
		sink:    sink,
		logger:  logger.Named("alert"),
		metrics: m,
		now:     time.Now,
	}
}

// CheckLowCreditAlert 剩餘百分比 <= 門檻且尚未警示時，設定旗標並發出 low_credit_alert
//
// 旗標的設定在 store 的原子單位內完成，併發呼叫只有一個會觸發。
// 事件發送失敗只記錄 log。
//
// 回傳:
//
//	bool: 是否發出警示
//	error: store 錯誤
func (m *AlertMonitor) CheckLowCreditAlert(ctx context.Context, tenantID string) (bool, error) {
	var (
		fired bool
		pct   float64
	)
	acc, err := m.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		fired, pct = acc.MarkLowCreditAlert(m.now())
		if !fired {
			return nil, ErrNoChange
		}
		return nil, nil
	})
	if err != nil {
		return false, fmt.Errorf("check low credit alert: %w", err)
	}
	if !fired {
		return false, nil
	}

	m.emit(ctx, domain.NewLowCreditAlert(tenantID, pct, acc.LowCreditAlertThreshold, m.now()))
	return true, nil
}

// NotifyExhausted 餘額由正轉 0 時發出 credits_exhausted
func (m *AlertMonitor) NotifyExhausted(ctx context.Context, tenantID string, ct domain.CreditType) {
	m.emit(ctx, domain.NewCreditsExhausted(tenantID, ct, m.now()))
}

func (m *AlertMonitor) emit(ctx context.Context, event domain.Event) {
	if m.sink == nil {
		return
	}
	m.metrics.ObserveEvent(string(event.Name))
	if err := m.sink.Publish(ctx, event); err != nil {
		m.logger.Error("publish event failed",
			zap.String("event", string(event.Name)),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("event emitted",
		zap.String("event", string(event.Name)),
		zap.String("tenant_id", event.TenantID),
	)
}
