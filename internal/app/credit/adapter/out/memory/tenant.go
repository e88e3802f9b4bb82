package memory

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

var (
	// ErrWALWriteFailed WAL 寫入失敗，本次提交已放棄
	ErrWALWriteFailed = errors.New("wal write failed")
	// ErrStoreClosed SequencerStore 已停止
	ErrStoreClosed = errors.New("store closed")
)

const (
	walOpCreate = "create"
	walOpApply  = "apply"
)

// walRecord WAL 中的一筆提交
//
// Account 為提交後的完整快照，重放時直接覆蓋，不需要重新執行業務邏輯。
type walRecord struct {
	Op           string                `json:"op"`
	Account      *domain.CreditAccount `json:"account"`
	Transactions []domain.Transaction  `json:"transactions,omitempty"`
}

// tenantLedger 單一租戶的帳戶與帳本
//
// txs 依寫入順序 (舊到新) 保存。
// mu 只有 MutexStore 使用；SequencerStore 由單一 goroutine 存取。
type tenantLedger struct {
	mu      sync.Mutex
	account *domain.CreditAccount
	txs     []domain.Transaction
}

// commit 以新快照取代帳戶並追加交易
func (t *tenantLedger) commit(acc *domain.CreditAccount, txs []domain.Transaction) {
	t.account = acc
	t.txs = append(t.txs, txs...)
}

// list 新到舊排序後分頁
//
// 回傳:
//
//	[]domain.Transaction: 當頁資料
//	int64: 符合條件的總數
func (t *tenantLedger) list(filter usecase.TransactionFilter) ([]domain.Transaction, int64) {
	matched := make([]domain.Transaction, 0)
	for i := len(t.txs) - 1; i >= 0; i-- {
		if filter.Match(t.txs[i]) {
			matched = append(matched, t.txs[i])
		}
	}
	total := int64(len(matched))

	if filter.PageSize <= 0 {
		return matched, total
	}
	page := max(filter.Page, 1)
	start := (page - 1) * filter.PageSize
	if start >= len(matched) {
		return []domain.Transaction{}, total
	}
	end := min(start+filter.PageSize, len(matched))
	return matched[start:end], total
}

// replay 從 WAL 還原所有租戶
// 只在建構時呼叫，無需 Lock (單執行緒)
func replay(w *wal.WAL, tenants map[string]*tenantLedger) error {
	if w == nil {
		return nil
	}
	return w.Replay(func(raw json.RawMessage) error {
		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.Account == nil {
			return nil
		}
		t, ok := tenants[rec.Account.TenantID]
		if !ok {
			t = &tenantLedger{}
			tenants[rec.Account.TenantID] = t
		}
		t.commit(rec.Account, rec.Transactions)
		return nil
	})
}

// appendWAL 寫入 WAL (Critical Path)，必須在記憶體更新之前完成
func appendWAL(w *wal.WAL, op string, acc *domain.CreditAccount, txs []domain.Transaction) error {
	if w == nil {
		return nil
	}
	if err := w.Append(walRecord{Op: op, Account: acc, Transactions: txs}); err != nil {
		return errors.Join(ErrWALWriteFailed, err)
	}
	return nil
}
