package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
)

// DefaultChannel 帳本事件的 Pub/Sub channel
const DefaultChannel = "ledger:events"

// Publisher 以 Redis Pub/Sub 發送帳本事件 (JSON)
type Publisher struct {
	client  *goredis.Client
	channel string
	logger  *zap.Logger
}

func NewPublisher(client *goredis.Client, channel string, logger *zap.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		channel: channel,
		logger:  logger.Named("redis_publisher"),
	}
}

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	p.logger.Debug("published ledger event",
		zap.String("event", string(event.Name)),
		zap.String("tenant_id", event.TenantID),
		zap.String("channel", p.channel),
	)
	return nil
}

var _ usecase.EventSink = (*Publisher)(nil)
