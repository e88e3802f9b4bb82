package grpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Pool 每個目標位址共用一條 gRPC 連線，可供多個 goroutine 同時使用
type Pool struct {
	conns        sync.Map // map[string]*grpc.ClientConn
	mu           sync.Mutex
	interceptors []grpc.UnaryClientInterceptor
	dialOpts     []grpc.DialOption
	callOpts     []grpc.CallOption
	keepalive    keepalive.ClientParameters
}

// PoolOption Pool 設定選項
type PoolOption func(*Pool)

// WithInterceptor 加入 UnaryClientInterceptor，依加入順序串接
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithDialOptions 額外的連線選項，附加在預設值之後
func WithDialOptions(opts ...grpc.DialOption) PoolOption {
	return func(p *Pool) {
		p.dialOpts = append(p.dialOpts, opts...)
	}
}

// WithCallOptions 每條連線的預設呼叫選項 (例如 content-subtype)
func WithCallOptions(opts ...grpc.CallOption) PoolOption {
	return func(p *Pool) {
		p.callOpts = append(p.callOpts, opts...)
	}
}

// WithKeepalive 覆寫 keepalive 參數
func WithKeepalive(params keepalive.ClientParameters) PoolOption {
	return func(p *Pool) {
		p.keepalive = params
	}
}

// NewPool 建立連線池
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		keepalive: keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             time.Second,
			PermitWithoutStream: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 取得目標的連線，不存在或已關閉時建立新連線
//
// 參數:
//
//	target: 目標位址 (e.g. "localhost:50051")
//
// 回傳值:
//
//	*grpc.ClientConn: 連線 (lazy，第一次呼叫才真正連線)
//	error: 建立失敗
func (p *Pool) GetConnection(target string) (*grpc.ClientConn, error) {
	// 1. Fast path
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	// 2. Double-check locking
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.load(target); ok {
		return conn, nil
	}

	// 3. 建立新連線，內部網路預設不加密
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(p.keepalive),
	}
	if len(p.interceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(p.interceptors...))
	}
	if len(p.callOpts) > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(p.callOpts...))
	}
	opts = append(opts, p.dialOpts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}
	p.conns.Store(target, conn)
	return conn, nil
}

// load 取出尚未關閉的連線；已關閉的連線從 map 移除
func (p *Pool) load(target string) (*grpc.ClientConn, bool) {
	v, ok := p.conns.Load(target)
	if !ok {
		return nil, false
	}
	conn := v.(*grpc.ClientConn)
	if conn.GetState() == connectivity.Shutdown {
		p.conns.Delete(target)
		return nil, false
	}
	return conn, true
}

// Close 關閉所有連線，回傳第一個錯誤
func (p *Pool) Close() error {
	var firstErr error
	p.conns.Range(func(key, value any) bool {
		if err := value.(*grpc.ClientConn).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conns.Delete(key)
		return true
	})
	return firstErr
}

// LoggingInterceptor 記錄失敗的呼叫與耗時
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryClientInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("grpc_client")
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			logger.Warn("grpc call failed",
				zap.String("method", method),
				zap.String("code", status.Code(err).String()),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
		}
		return err
	}
}
