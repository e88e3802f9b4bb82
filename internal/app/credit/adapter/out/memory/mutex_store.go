package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

// MutexStore 以 Mutex 實現的帳戶儲存
//
// 結構:
//
//	tenants: 租戶帳本 Map，mu 只保護 Map 本身
//	tenantLedger.mu: 租戶層級的獨占鎖，不同租戶互不阻塞
//	wal: Write-Ahead Log 實例 (nil 代表純記憶體)
type MutexStore struct {
	tenants map[string]*tenantLedger
	mu      sync.RWMutex
	wal     *wal.WAL
}

// NewMutexStore 建立 MutexStore 並從 WAL 恢復
//
// 參數:
//
//	w: Write-Ahead Log 實例，可為 nil
//
// 回傳:
//
//	*MutexStore: MutexStore 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewMutexStore(w *wal.WAL) (*MutexStore, error) {
	s := &MutexStore{
		tenants: make(map[string]*tenantLedger),
		wal:     w,
	}
	if err := replay(w, s.tenants); err != nil {
		return nil, err
	}
	return s, nil
}

// Create 建立帳戶與初始交易
func (s *MutexStore) Create(ctx context.Context, acc *domain.CreditAccount, txs []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[acc.TenantID]; ok {
		return domain.ErrAccountAlreadyExists
	}

	snapshot := acc.Clone()
	if err := appendWAL(s.wal, walOpCreate, snapshot, txs); err != nil {
		return err
	}
	t := &tenantLedger{}
	t.commit(snapshot, append([]domain.Transaction(nil), txs...))
	s.tenants[acc.TenantID] = t
	return nil
}

// Get 取得帳戶快照
func (s *MutexStore) Get(ctx context.Context, tenantID string) (*domain.CreditAccount, error) {
	t, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.account.Clone(), nil
}

// Apply 在租戶鎖內執行 mutation
//
// 流程: Clone -> mutate -> WAL -> Swap
// mutation 失敗或 WAL 寫入失敗時，記憶體中的帳戶保持原樣。
func (s *MutexStore) Apply(ctx context.Context, tenantID string, mutate usecase.Mutation) (*domain.CreditAccount, error) {
	t, err := s.tenant(tenantID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. 在副本上執行業務邏輯
	next := t.account.Clone()
	txs, err := mutate(next)
	if errors.Is(err, usecase.ErrNoChange) {
		return t.account.Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	// 2. 寫入 WAL
	if err := appendWAL(s.wal, walOpApply, next, txs); err != nil {
		return nil, err
	}

	// 3. 替換
	t.commit(next, txs)
	return next.Clone(), nil
}

// ListTransactions 依條件查詢交易
func (s *MutexStore) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]domain.Transaction, int64, error) {
	t, err := s.tenant(filter.TenantID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return []domain.Transaction{}, 0, nil
		}
		return nil, 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	items, total := t.list(filter)
	return items, total, nil
}

func (s *MutexStore) tenant(tenantID string) (*tenantLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return t, nil
}

var _ usecase.AccountStore = (*MutexStore)(nil)
