package grpc

import (
	"time"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
)

// TenantRequest 只帶租戶 ID 的請求 (GetAccount / GetUsageSummary / Reconcile)
type TenantRequest struct {
	TenantID string `json:"tenant_id"`
}

// InitOptions 初始化參數；未帶的欄位 (nil) 使用伺服器設定的預設值
type InitOptions struct {
	InstanceType     *string `json:"instance_type,omitempty"`
	TrialDays        *int    `json:"trial_days,omitempty"`
	AuditCredits     *int64  `json:"audit_credits,omitempty"`
	TokenCredits     *int64  `json:"token_credits,omitempty"`
	AlertThreshold   *int64  `json:"alert_threshold,omitempty"`
	BlockOnExhausted *bool   `json:"block_on_exhausted,omitempty"`
}

// Ptr 取得值的指標，方便填寫選填欄位
func Ptr[T any](v T) *T {
	return &v
}

// toDomain 以 defaults 為底，覆寫有帶的欄位；o 為 nil 時回傳 nil
func (o *InitOptions) toDomain(defaults domain.InitOptions) *domain.InitOptions {
	if o == nil {
		return nil
	}
	out := defaults
	if o.InstanceType != nil {
		out.InstanceType = domain.InstanceType(*o.InstanceType)
	}
	if o.TrialDays != nil {
		out.TrialDays = *o.TrialDays
	}
	if o.AuditCredits != nil {
		out.AuditCredits = *o.AuditCredits
	}
	if o.TokenCredits != nil {
		out.TokenCredits = *o.TokenCredits
	}
	if o.AlertThreshold != nil {
		out.AlertThreshold = *o.AlertThreshold
	}
	if o.BlockOnExhausted != nil {
		out.BlockOnExhausted = *o.BlockOnExhausted
	}
	return &out
}

type InitializeRequest struct {
	TenantID string       `json:"tenant_id"`
	Options  *InitOptions `json:"options,omitempty"`
}

// AccountResponse 回傳帳戶最新狀態
type AccountResponse struct {
	Account *domain.CreditAccount `json:"account"`
}

// AddCreditsRequest 增加額度 (add 交易)
type AddCreditsRequest struct {
	TenantID   string `json:"tenant_id"`
	CreditType string `json:"credit_type"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

type PurchaseCreditsRequest struct {
	TenantID   string `json:"tenant_id"`
	CreditType string `json:"credit_type"`
	Amount     int64  `json:"amount"`
	Reference  string `json:"reference"`
	Actor      string `json:"actor"`
}

type RefundRequest struct {
	TenantID  string `json:"tenant_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// UseCreditsRequest 扣款 (稽核或 token)
type UseCreditsRequest struct {
	TenantID  string `json:"tenant_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// DebitResponse Success=false 為業務上的拒絕 (Soft Failure)，不是 RPC 錯誤
type DebitResponse struct {
	Success   bool   `json:"success"`
	Remaining int64  `json:"remaining"`
	Message   string `json:"message,omitempty"`
}

type TokenDebitResponse struct {
	Success         bool   `json:"success"`
	Remaining       int64  `json:"remaining"`
	CreditsConsumed int64  `json:"credits_consumed"`
	Message         string `json:"message,omitempty"`
}

type AdjustCreditsRequest struct {
	TenantID   string `json:"tenant_id"`
	CreditType string `json:"credit_type"`
	Delta      int64  `json:"delta"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

type ExpireTrialRequest struct {
	TenantID string `json:"tenant_id"`
	Actor    string `json:"actor"`
}

type UpdateInstanceTypeRequest struct {
	TenantID     string `json:"tenant_id"`
	InstanceType string `json:"instance_type"`
	Actor        string `json:"actor"`
}

type UpdateAlertSettingsRequest struct {
	TenantID         string `json:"tenant_id"`
	Threshold        int64  `json:"threshold"`
	BlockOnExhausted bool   `json:"block_on_exhausted"`
}

type SummaryResponse struct {
	Summary domain.UsageSummary `json:"summary"`
}

// GetTransactionsRequest From/To 為 [From, To) 區間，nil 代表不限
type GetTransactionsRequest struct {
	TenantID   string     `json:"tenant_id"`
	CreditType string     `json:"credit_type,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}

func (r *GetTransactionsRequest) toFilter() usecase.TransactionFilter {
	f := usecase.TransactionFilter{
		TenantID:   r.TenantID,
		CreditType: domain.CreditType(r.CreditType),
		Page:       r.Page,
		PageSize:   r.PageSize,
	}
	if r.From != nil {
		f.From = *r.From
	}
	if r.To != nil {
		f.To = *r.To
	}
	return f
}

type TransactionsResponse struct {
	Items    []domain.Transaction `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

type ReconcileResponse struct {
	Report     domain.ReconcileReport `json:"report"`
	Consistent bool                   `json:"consistent"`
}
