package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// clock 可手動推進的時間
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: testNow} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink 同步記錄收到的事件
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) count(name domain.EventName) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (s *recordingSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// recordingPusher 同步記錄用量推送
type recordingPusher struct {
	mu     sync.Mutex
	audits int64
	tokens int64
}

func (p *recordingPusher) PushAudits(_ string, n int64) {
	p.mu.Lock()
	p.audits += n
	p.mu.Unlock()
}

func (p *recordingPusher) PushTokens(_ string, n int64) {
	p.mu.Lock()
	p.tokens += n
	p.mu.Unlock()
}

type fixture struct {
	svc     *usecase.LedgerService
	store   *memory.MutexStore
	sink    *recordingSink
	pusher  *recordingPusher
	clock   *clock
	reg     *prometheus.Registry
	metrics *metrics.Ledger
}

func newFixture(t *testing.T, opts ...usecase.Option) *fixture {
	t.Helper()
	store, err := memory.NewMutexStore(nil)
	require.NoError(t, err)

	f := &fixture{
		store:  store,
		sink:   &recordingSink{},
		pusher: &recordingPusher{},
		clock:  newClock(),
		reg:    prometheus.NewRegistry(),
	}
	f.metrics = metrics.NewLedger(f.reg)

	all := []usecase.Option{
		usecase.WithAlertMonitor(usecase.NewAlertMonitor(store, f.sink, nil, f.metrics)),
		usecase.WithUsagePusher(f.pusher),
		usecase.WithMetrics(f.metrics),
		usecase.WithClock(f.clock.Now),
	}
	f.svc = usecase.NewLedgerService(store, usecase.NewConversionPolicy(nil), append(all, opts...)...)
	return f
}

func (f *fixture) init(t *testing.T, tenantID string, mutate func(*domain.InitOptions)) *domain.CreditAccount {
	t.Helper()
	opts := domain.DefaultInitOptions()
	if mutate != nil {
		mutate(&opts)
	}
	acc, err := f.svc.Initialize(context.Background(), tenantID, &opts)
	require.NoError(t, err)
	return acc
}

func (f *fixture) transactions(t *testing.T, tenantID string) []domain.Transaction {
	t.Helper()
	txs, _, err := f.store.ListTransactions(context.Background(), usecase.TransactionFilter{TenantID: tenantID})
	require.NoError(t, err)
	return txs
}

// counterValue 加總某 counter 所有 label 組合的值
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

// rateSource 可設定回傳值的 RateSource
type rateSource struct {
	mu    sync.Mutex
	rate  int64
	ok    bool
	err   error
	delay time.Duration
	calls int
}

func (s *rateSource) ConversionRate(context.Context) (int64, bool, error) {
	s.mu.Lock()
	s.calls++
	rate, ok, err, delay := s.rate, s.ok, s.err, s.delay
	s.mu.Unlock()
	if delay > 0 {
		// 故意不理會 ctx
		time.Sleep(delay)
	}
	return rate, ok, err
}

func (s *rateSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")
