package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
)

// unreachableClient 指向不存在的位址，所有指令都會失敗
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{name: "plain", raw: "2000", want: 2000},
		{name: "whitespace", raw: " 1500\n", want: 1500},
		{name: "not a number", raw: "abc", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseRate(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateSource_Unreachable(t *testing.T) {
	src := NewRateSource(unreachableClient(t), "")
	assert.Equal(t, DefaultRateKey, src.key)

	_, ok, err := src.ConversionRate(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)

	assert.Error(t, src.SetConversionRate(context.Background(), 0))
}

func TestPublisher_Unreachable(t *testing.T) {
	p := NewPublisher(unreachableClient(t), "", nil)
	assert.Equal(t, DefaultChannel, p.channel)

	err := p.Publish(context.Background(), domain.NewCreditsExhausted("t1", domain.CreditTypeAudit, time.Now()))
	assert.ErrorContains(t, err, "failed to publish event")
}
