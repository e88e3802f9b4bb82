package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
)

// ErrNoChange Mutation 回傳此錯誤表示不需寫入，store 放棄本次提交且不回傳錯誤
var ErrNoChange = errors.New("no change")

// Mutation 在 store 的原子單位內執行的帳戶修改
//
// acc 為該租戶目前狀態的可修改副本；回傳的交易與修改後的帳戶會一併提交。
// 回傳錯誤則整筆放棄，帳戶與帳本皆不會有任何變更。
type Mutation func(acc *domain.CreditAccount) ([]domain.Transaction, error)

// AccountStore 帳戶與帳本的儲存層，LedgerService 是唯一寫入者
type AccountStore interface {
	// Create 建立帳戶與初始交易；租戶已存在時回傳 domain.ErrAccountAlreadyExists
	Create(ctx context.Context, acc *domain.CreditAccount, txs []domain.Transaction) error
	// Get 取得帳戶快照；不存在時回傳 domain.ErrAccountNotFound
	Get(ctx context.Context, tenantID string) (*domain.CreditAccount, error)
	// Apply 以租戶為單位獨占執行 mutation，帳戶更新與交易寫入為同一個提交單位
	Apply(ctx context.Context, tenantID string, mutate Mutation) (*domain.CreditAccount, error)
	// ListTransactions 依條件查詢交易，新到舊排序
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, int64, error)
}

// TransactionFilter 交易查詢條件
type TransactionFilter struct {
	TenantID string
	// CreditType 空字串代表全部
	CreditType domain.CreditType
	// From, To 時間區間 [From, To)，零值代表不限
	From time.Time
	To   time.Time
	// Page 從 1 開始；PageSize <= 0 代表不分頁
	Page     int
	PageSize int
}

// Match 交易是否符合條件 (memory store 使用)
func (f TransactionFilter) Match(tx domain.Transaction) bool {
	if f.TenantID != "" && tx.TenantID != f.TenantID {
		return false
	}
	if f.CreditType != "" && tx.CreditType != f.CreditType {
		return false
	}
	if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// RateSource 設定來源，提供 token 對稽核額度的轉換率
type RateSource interface {
	// ConversionRate 回傳 (rate, 是否有設定, 錯誤)
	ConversionRate(ctx context.Context) (int64, bool, error)
}

// EventSink 接收帳本事件，不關心傳遞方式
type EventSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// InstanceDirectory 租戶目錄的用量彙總 (非權威，僅供儀表板)
type InstanceDirectory interface {
	IncrementUsedAudits(ctx context.Context, tenantID string, n int64) error
	IncrementUsedTokens(ctx context.Context, tenantID string, n int64) error
}

// UsagePusher 非阻塞的用量推送
type UsagePusher interface {
	PushAudits(tenantID string, n int64)
	PushTokens(tenantID string, n int64)
}
