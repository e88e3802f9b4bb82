package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

type requestKind int

// 請求狀態: 呼叫端放棄與 run loop 接手只會有一方成功
const (
	statePending int32 = iota
	stateTaken
	stateAbandoned
)

const (
	requestCreate requestKind = iota
	requestGet
	requestApply
	requestList
)

// storeRequest 請求包裝，呼叫端透過 Result 等待 run loop 的結果
type storeRequest struct {
	kind     requestKind
	tenantID string
	account  *domain.CreditAccount
	txs      []domain.Transaction
	mutate   usecase.Mutation
	filter   usecase.TransactionFilter
	state    atomic.Int32
	Result   chan storeResponse
}

type storeResponse struct {
	account *domain.CreditAccount
	txs     []domain.Transaction
	total   int64
	err     error
}

// SequencerStore 單一寫入者 (LMAX 風格) 的帳戶儲存
//
// 所有讀寫都經由 requestChan 送進同一個 goroutine 依序執行，
// tenants 不需要任何 Lock。必須先呼叫 Start 才能使用。
type SequencerStore struct {
	tenants map[string]*tenantLedger
	// Write-Ahead Logging
	wal *wal.WAL
	// 輸送帶 負責接收請求
	requestChan chan *storeRequest
	// Pool 減少 GC 壓力
	requestPool sync.Pool
	// done run loop 結束後關閉
	done chan struct{}
}

// NewSequencerStore 建立 SequencerStore 並從 WAL 恢復
//
// 參數:
//
//	w: Write-Ahead Log 實例，可為 nil
//	buffer: 輸送帶容量
func NewSequencerStore(w *wal.WAL, buffer int) (*SequencerStore, error) {
	if buffer <= 0 {
		buffer = 1000
	}
	s := &SequencerStore{
		tenants:     make(map[string]*tenantLedger),
		wal:         w,
		requestChan: make(chan *storeRequest, buffer),
		requestPool: sync.Pool{
			New: func() interface{} {
				return &storeRequest{Result: make(chan storeResponse, 1)}
			},
		},
		done: make(chan struct{}),
	}

	// 在啟動前先恢復資料
	if err := replay(w, s.tenants); err != nil {
		return nil, err
	}
	return s, nil
}

// Start 啟動核心引擎 (非同步)；ctx 取消後處理完剩餘請求並停止
func (s *SequencerStore) Start(ctx context.Context) {
	go s.run(ctx)
}

// Done run loop 停止後關閉，關閉 WAL 前應先等待
func (s *SequencerStore) Done() <-chan struct{} {
	return s.done
}

// Create 建立帳戶與初始交易
func (s *SequencerStore) Create(ctx context.Context, acc *domain.CreditAccount, txs []domain.Transaction) error {
	resp := s.submit(ctx, func(req *storeRequest) {
		req.kind = requestCreate
		req.account = acc.Clone()
		req.txs = append([]domain.Transaction(nil), txs...)
	})
	return resp.err
}

// Get 取得帳戶快照
func (s *SequencerStore) Get(ctx context.Context, tenantID string) (*domain.CreditAccount, error) {
	resp := s.submit(ctx, func(req *storeRequest) {
		req.kind = requestGet
		req.tenantID = tenantID
	})
	return resp.account, resp.err
}

// Apply 在 run loop 內執行 mutation，天然與同租戶的其他請求互斥
func (s *SequencerStore) Apply(ctx context.Context, tenantID string, mutate usecase.Mutation) (*domain.CreditAccount, error) {
	resp := s.submit(ctx, func(req *storeRequest) {
		req.kind = requestApply
		req.tenantID = tenantID
		req.mutate = mutate
	})
	return resp.account, resp.err
}

// ListTransactions 依條件查詢交易
func (s *SequencerStore) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]domain.Transaction, int64, error) {
	resp := s.submit(ctx, func(req *storeRequest) {
		req.kind = requestList
		req.filter = filter
	})
	return resp.txs, resp.total, resp.err
}

// submit 放入輸送帶並等待結果
//
// Submit(等待) -> Channel -> Run Loop -> WAL -> Map Update -> Result Channel -> Submit(收到結果)
func (s *SequencerStore) submit(ctx context.Context, fill func(req *storeRequest)) storeResponse {
	req := s.requestPool.Get().(*storeRequest)
	fill(req)

	select {
	case s.requestChan <- req:
	case <-ctx.Done():
		s.release(req)
		return storeResponse{err: ctx.Err()}
	case <-s.done:
		s.release(req)
		return storeResponse{err: ErrStoreClosed}
	}

	select {
	case resp := <-req.Result:
		s.release(req)
		return resp
	case <-ctx.Done():
		if req.state.CompareAndSwap(statePending, stateAbandoned) {
			// run loop 尚未接手，不會被執行；由 run loop 回收
			return storeResponse{err: ctx.Err()}
		}
		// 已在執行中，結果可能已落盤，必須等到結果才能回覆
		resp := <-req.Result
		s.release(req)
		return resp
	case <-s.done:
		// drain 完成前送出的請求，結果已在 buffer 中
		select {
		case resp := <-req.Result:
			s.release(req)
			return resp
		default:
			// 停止後才進入輸送帶，不會被處理；req 仍在 channel 中，不可放回 Pool
			return storeResponse{err: ErrStoreClosed}
		}
	}
}

func (s *SequencerStore) release(req *storeRequest) {
	req.kind = 0
	req.tenantID = ""
	req.account = nil
	req.txs = nil
	req.mutate = nil
	req.filter = usecase.TransactionFilter{}
	req.state.Store(statePending)
	s.requestPool.Put(req)
}

// handle 接手並處理請求；呼叫端已放棄的請求略過且不做任何變更
func (s *SequencerStore) handle(req *storeRequest) {
	if !req.state.CompareAndSwap(statePending, stateTaken) {
		s.release(req)
		return
	}
	req.Result <- s.process(req)
}

func (s *SequencerStore) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的請求處理完
			s.drain()
			return
		case req := <-s.requestChan:
			s.handle(req)
		}
	}
}

func (s *SequencerStore) drain() {
	for {
		select {
		case req := <-s.requestChan:
			s.handle(req)
		default:
			return
		}
	}
}

// process 處理單筆請求
func (s *SequencerStore) process(req *storeRequest) storeResponse {
	switch req.kind {
	case requestCreate:
		return s.handleCreate(req)
	case requestGet:
		t, ok := s.tenants[req.tenantID]
		if !ok {
			return storeResponse{err: domain.ErrAccountNotFound}
		}
		return storeResponse{account: t.account.Clone()}
	case requestApply:
		return s.handleApply(req)
	case requestList:
		t, ok := s.tenants[req.filter.TenantID]
		if !ok {
			return storeResponse{txs: []domain.Transaction{}}
		}
		items, total := t.list(req.filter)
		return storeResponse{txs: items, total: total}
	default:
		return storeResponse{}
	}
}

func (s *SequencerStore) handleCreate(req *storeRequest) storeResponse {
	if _, ok := s.tenants[req.account.TenantID]; ok {
		return storeResponse{err: domain.ErrAccountAlreadyExists}
	}
	if err := appendWAL(s.wal, walOpCreate, req.account, req.txs); err != nil {
		return storeResponse{err: err}
	}
	t := &tenantLedger{}
	t.commit(req.account, req.txs)
	s.tenants[req.account.TenantID] = t
	return storeResponse{}
}

func (s *SequencerStore) handleApply(req *storeRequest) storeResponse {
	t, ok := s.tenants[req.tenantID]
	if !ok {
		return storeResponse{err: domain.ErrAccountNotFound}
	}

	// 1. 在副本上執行業務邏輯
	next := t.account.Clone()
	txs, err := req.mutate(next)
	if errors.Is(err, usecase.ErrNoChange) {
		return storeResponse{account: t.account.Clone()}
	}
	if err != nil {
		return storeResponse{err: err}
	}

	// 2. 寫入 WAL (Critical Path)
	if err := appendWAL(s.wal, walOpApply, next, txs); err != nil {
		return storeResponse{err: err}
	}

	// 3. 更新 State
	t.commit(next, txs)
	return storeResponse{account: next.Clone()}
}

var _ usecase.AccountStore = (*SequencerStore)(nil)
