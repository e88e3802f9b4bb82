package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
)

const (
	// DefaultConversionRate 幾個 token 等於一點稽核額度
	DefaultConversionRate int64 = 2000

	defaultRateCacheTTL      = 30 * time.Second
	defaultRateLookupTimeout = 500 * time.Millisecond

	rateFlightKey = "conversion_rate"
)

// ConversionPolicy 解析目前的 token 轉換率
//
// 查詢有時間上限且結果會快取；查不到、查詢失敗或值 <= 0 時改用預設值並記錄警告，
// 永遠不會讓 token 扣款因為這個查詢而失敗。快取過期時同時進來的呼叫共用同一次查詢。
type ConversionPolicy struct {
	source      RateSource
	defaultRate int64
	ttl         time.Duration
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *metrics.Ledger
	now         func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	cached    int64
	expiresAt time.Time
	// generation Invalidate 時遞增，舊的查詢結果不寫回快取
	generation uint64
}

// PolicyOption ConversionPolicy 的設定選項
type PolicyOption func(*ConversionPolicy)

// WithDefaultRate 覆寫預設轉換率 (<= 0 時忽略)
func WithDefaultRate(rate int64) PolicyOption {
	return func(p *ConversionPolicy) {
		if rate > 0 {
			p.defaultRate = rate
		}
	}
}

// WithRateCacheTTL 快取時間，0 代表不快取
func WithRateCacheTTL(ttl time.Duration) PolicyOption {
	return func(p *ConversionPolicy) { p.ttl = ttl }
}

// WithRateLookupTimeout 單次查詢的時間上限
func WithRateLookupTimeout(timeout time.Duration) PolicyOption {
	return func(p *ConversionPolicy) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithPolicyLogger(logger *zap.Logger) PolicyOption {
	return func(p *ConversionPolicy) {
		if logger != nil {
			p.logger = logger.Named("conversion")
		}
	}
}

func WithPolicyMetrics(m *metrics.Ledger) PolicyOption {
	return func(p *ConversionPolicy) { p.metrics = m }
}

func WithPolicyClock(now func() time.Time) PolicyOption {
	return func(p *ConversionPolicy) { p.now = now }
}

// NewConversionPolicy source 可為 nil，此時永遠使用預設值
func NewConversionPolicy(source RateSource, opts ...PolicyOption) *ConversionPolicy {
	p := &ConversionPolicy{
		source:      source,
		defaultRate: DefaultConversionRate,
		ttl:         defaultRateCacheTTL,
		timeout:     defaultRateLookupTimeout,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rate 取得目前轉換率，保證 > 0
func (p *ConversionPolicy) Rate(ctx context.Context) int64 {
	p.mu.Lock()
	if p.cached > 0 && p.now().Before(p.expiresAt) {
		rate := p.cached
		p.mu.Unlock()
		return rate
	}
	generation := p.generation
	p.mu.Unlock()

	// 查詢期間不持有 mu；查詢本身有 timeout，不受單一呼叫端取消影響
	v, _, _ := p.group.Do(rateFlightKey, func() (any, error) {
		return p.refresh(context.WithoutCancel(ctx), generation), nil
	})
	return v.(int64)
}

// refresh 查詢並寫回快取
func (p *ConversionPolicy) refresh(ctx context.Context, generation uint64) int64 {
	rate, err := p.lookup(ctx)
	if err != nil {
		p.logger.Warn("conversion rate lookup failed, using default",
			zap.Int64("default_rate", p.defaultRate),
			zap.Error(err),
		)
		p.metrics.ObserveRateFallback()
		rate = p.defaultRate
	}

	p.mu.Lock()
	if p.generation == generation {
		p.cached = rate
		p.expiresAt = p.now().Add(p.ttl)
	}
	p.mu.Unlock()
	return rate
}

// Invalidate 清除快取，下次 Rate 會重新查詢
func (p *ConversionPolicy) Invalidate() {
	p.mu.Lock()
	p.cached = 0
	p.generation++
	p.mu.Unlock()
	p.group.Forget(rateFlightKey)
}

func (p *ConversionPolicy) lookup(ctx context.Context) (int64, error) {
	if p.source == nil {
		return p.defaultRate, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// source 不一定尊重 ctx，另開 goroutine 確保等待有上限
	type lookupResult struct {
		rate int64
		ok   bool
		err  error
	}
	done := make(chan lookupResult, 1)
	go func() {
		rate, ok, err := p.source.ConversionRate(ctx)
		done <- lookupResult{rate: rate, ok: ok, err: err}
	}()

	var res lookupResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %w", domain.ErrConversionRateUnavailable, ctx.Err())
	}

	rate, ok, err := res.rate, res.ok, res.err
	switch {
	case err != nil:
		return 0, fmt.Errorf("%w: %w", domain.ErrConversionRateUnavailable, err)
	case !ok:
		// 未設定屬於正常情況，不算 fallback
		return p.defaultRate, nil
	case rate <= 0:
		return 0, fmt.Errorf("%w: non-positive rate %d", domain.ErrConversionRateUnavailable, rate)
	}
	return rate, nil
}
