package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction 帳本上的一筆不可變紀錄
//
// Amount 為實際套用到餘額的帶號差額 (扣款被截底於 0 時記錄實際扣除量)，
// 因此依時間順序加總同一 (TenantID, CreditType) 的 Amount 必定等於目前餘額。
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	TenantID     string          `json:"tenant_id"`
	Type         TransactionType `json:"type"`
	CreditType   CreditType      `json:"credit_type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Reason       string          `json:"reason"`
	Reference    string          `json:"reference,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newTransaction(a *CreditAccount, txType TransactionType, ct CreditType, amount int64, reason, reference, actor string, now time.Time) Transaction {
	return Transaction{
		ID:           uuid.New(),
		TenantID:     a.TenantID,
		Type:         txType,
		CreditType:   ct,
		Amount:       amount,
		BalanceAfter: a.Balance(ct),
		Reason:       reason,
		Reference:    reference,
		Actor:        actor,
		CreatedAt:    now,
	}
}

// BalanceCheck 單一額度種類的對帳結果
type BalanceCheck struct {
	CreditType CreditType `json:"credit_type"`
	// Replayed 由帳本重放得到的餘額
	Replayed int64 `json:"replayed"`
	// Actual 帳戶目前餘額
	Actual int64 `json:"actual"`
	// LastBalanceAfter 最新一筆紀錄的 BalanceAfter
	LastBalanceAfter int64 `json:"last_balance_after"`
	Entries          int   `json:"entries"`
}

// Consistent 重放結果與帳戶一致
func (b BalanceCheck) Consistent() bool {
	if b.Replayed != b.Actual {
		return false
	}
	return b.Entries == 0 || b.LastBalanceAfter == b.Actual
}

// ReconcileReport 帳戶對帳報告
type ReconcileReport struct {
	TenantID string       `json:"tenant_id"`
	Audit    BalanceCheck `json:"audit"`
	Token    BalanceCheck `json:"token"`
}

// Consistent 兩種額度皆一致
func (r ReconcileReport) Consistent() bool {
	return r.Audit.Consistent() && r.Token.Consistent()
}

// Reconcile 重放交易紀錄並與帳戶餘額比對
//
// 參數:
//
//	a: 帳戶
//	txs: 該帳戶的交易紀錄，需依寫入順序 (舊到新)
func Reconcile(a *CreditAccount, txs []Transaction) ReconcileReport {
	report := ReconcileReport{
		TenantID: a.TenantID,
		Audit:    BalanceCheck{CreditType: CreditTypeAudit, Actual: a.AuditCredits},
		Token:    BalanceCheck{CreditType: CreditTypeToken, Actual: a.TokenCredits},
	}
	for _, tx := range txs {
		var check *BalanceCheck
		switch tx.CreditType {
		case CreditTypeAudit:
			check = &report.Audit
		case CreditTypeToken:
			check = &report.Token
		default:
			continue
		}
		check.Replayed += tx.Amount
		check.LastBalanceAfter = tx.BalanceAfter
		check.Entries++
	}
	return report
}
