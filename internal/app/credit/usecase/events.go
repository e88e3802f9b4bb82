package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
)

// LogSink 只把事件寫進 log，未設定外部通知時使用
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(_ context.Context, event domain.Event) error {
	s.logger.Info("ledger event",
		zap.String("event", string(event.Name)),
		zap.String("tenant_id", event.TenantID),
		zap.Any("payload", event.Payload),
	)
	return nil
}

// EventDispatcher 非同步的 EventSink 包裝
//
// Publish 只把事件放進佇列後立即返回；佇列滿時丟棄並記錄警告。
// 背景 worker 依序交給下游 sink，每筆有獨立的 timeout。
type EventDispatcher struct {
	next    EventSink
	queue   chan domain.Event
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewEventDispatcher 建立並啟動 dispatcher
//
// 參數:
//
//	next: 下游 sink
//	size: 佇列容量
//	timeout: 每筆交付的時間上限
func NewEventDispatcher(next EventSink, size int, timeout time.Duration, logger *zap.Logger) *EventDispatcher {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &EventDispatcher{
		next:    next,
		queue:   make(chan domain.Event, size),
		timeout: timeout,
		logger:  logger.Named("dispatcher"),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Publish 非阻塞；dispatcher 已關閉或佇列滿時丟棄
func (d *EventDispatcher) Publish(_ context.Context, event domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, event dropped", zap.String("event", string(event.Name)))
		return nil
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event queue full, event dropped",
			zap.String("event", string(event.Name)),
			zap.String("tenant_id", event.TenantID),
		)
	}
	return nil
}

func (d *EventDispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.next.Publish(ctx, event); err != nil {
			d.logger.Error("event delivery failed",
				zap.String("event", string(event.Name)),
				zap.String("tenant_id", event.TenantID),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close 停止接收並等待佇列內的事件送完
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

var (
	_ EventSink = (*LogSink)(nil)
	_ EventSink = (*EventDispatcher)(nil)
)
