package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
)

// DefaultRateKey 轉換率在 Redis 中的 key
const DefaultRateKey = "ledger:settings:audit_token_conversion_rate"

// RateSource 從 Redis 讀取轉換率
//
// 由營運端直接 SET 覆寫，key 不存在視為未設定。
type RateSource struct {
	client *goredis.Client
	key    string
}

// NewRateSource key 為空時使用 DefaultRateKey
func NewRateSource(client *goredis.Client, key string) *RateSource {
	if key == "" {
		key = DefaultRateKey
	}
	return &RateSource{client: client, key: key}
}

func (s *RateSource) ConversionRate(ctx context.Context) (int64, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", s.key, err)
	}
	return parseRate(raw)
}

// SetConversionRate 寫入轉換率 (CLI 使用)
func (s *RateSource) SetConversionRate(ctx context.Context, rate int64) error {
	if rate <= 0 {
		return fmt.Errorf("conversion rate must be positive, got %d", rate)
	}
	return s.client.Set(ctx, s.key, rate, 0).Err()
}

func parseRate(raw string) (int64, bool, error) {
	rate, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse conversion rate %q: %w", raw, err)
	}
	return rate, true, nil
}

var _ usecase.RateSource = (*RateSource)(nil)
