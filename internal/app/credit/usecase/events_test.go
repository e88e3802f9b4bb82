package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
)

// blockingSink 每筆都要等待 gate 放行
type blockingSink struct {
	recordingSink
	gate    chan struct{}
	entered chan struct{}
}

func (s *blockingSink) Publish(ctx context.Context, event domain.Event) error {
	s.entered <- struct{}{}
	<-s.gate
	return s.recordingSink.Publish(ctx, event)
}

func TestEventDispatcher_Delivers(t *testing.T) {
	next := &recordingSink{}
	d := usecase.NewEventDispatcher(next, 8, time.Second, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Publish(context.Background(), domain.NewCreditsExhausted("t1", domain.CreditTypeAudit, testNow)))
	}
	d.Close()
	assert.Equal(t, 3, next.count(domain.EventCreditsExhausted))

	// 關閉後丟棄，不回傳錯誤
	assert.NoError(t, d.Publish(context.Background(), domain.NewCreditsExhausted("t1", domain.CreditTypeAudit, testNow)))
	assert.Equal(t, 3, next.count(domain.EventCreditsExhausted))
}

func TestEventDispatcher_DropWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	next := &blockingSink{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	d := usecase.NewEventDispatcher(next, 1, time.Second, zap.New(core))
	event := domain.NewLowCreditAlert("t1", 15, 20, testNow)

	require.NoError(t, d.Publish(context.Background(), event))
	<-next.entered
	require.NoError(t, d.Publish(context.Background(), event))
	require.NoError(t, d.Publish(context.Background(), event))
	assert.Equal(t, 1, logs.FilterMessage("event queue full, event dropped").Len())

	go func() {
		for range next.entered {
		}
	}()
	close(next.gate)
	d.Close()
	close(next.entered)
	assert.Equal(t, 2, next.count(domain.EventLowCreditAlert))
}

func TestEventDispatcher_DeliveryFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	next := &recordingSink{err: errBoom}
	d := usecase.NewEventDispatcher(next, 0, 0, zap.New(core))

	require.NoError(t, d.Publish(context.Background(), domain.NewCreditsExhausted("t1", domain.CreditTypeToken, testNow)))
	d.Close()
	assert.Equal(t, 1, logs.FilterMessage("event delivery failed").Len())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := usecase.NewLogSink(zap.New(core))

	require.NoError(t, sink.Publish(context.Background(), domain.NewLowCreditAlert("t1", 10, 20, testNow)))
	entries := logs.FilterMessage("ledger event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "low_credit_alert", entries[0].ContextMap()["event"])
}

// 非同步發送時，警示旗標仍然在扣款後立即設定
func TestAlertMonitor_WithDispatcher(t *testing.T) {
	ctx := context.Background()
	next := &recordingSink{}
	d := usecase.NewEventDispatcher(next, 16, time.Second, zap.NewNop())
	f := newFixture(t)
	monitor := usecase.NewAlertMonitor(f.store, d, zap.NewNop(), nil)
	svc := usecase.NewLedgerService(f.store, nil, usecase.WithAlertMonitor(monitor))

	_, err := svc.Initialize(ctx, "t1", nil)
	require.NoError(t, err)
	_, err = svc.UseAuditCredits(ctx, "t1", 100, "")
	require.NoError(t, err)

	fired, err := monitor.CheckLowCreditAlert(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, fired)

	d.Close()
	assert.Equal(t, 1, next.count(domain.EventLowCreditAlert))
	assert.Equal(t, 1, next.count(domain.EventCreditsExhausted))
}

func TestNilLoggerDefaultsToNop(t *testing.T) {
	ctx := context.Background()
	event := domain.NewCreditsExhausted("t1", domain.CreditTypeAudit, testNow)

	assert.NotPanics(t, func() {
		require.NoError(t, usecase.NewLogSink(nil).Publish(ctx, event))
	})

	next := &recordingSink{}
	var d *usecase.EventDispatcher
	assert.NotPanics(t, func() {
		d = usecase.NewEventDispatcher(next, 1, time.Second, nil)
	})
	require.NoError(t, d.Publish(ctx, event))
	d.Close()
	assert.Equal(t, 1, next.count(domain.EventCreditsExhausted))

	assert.NotPanics(t, func() {
		p := usecase.NewConversionPolicy(nil, usecase.WithPolicyLogger(nil))
		assert.Equal(t, usecase.DefaultConversionRate, p.Rate(ctx))
	})
}
