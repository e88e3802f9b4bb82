package mysql

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
)

// sqlCreditAccount 對應資料庫的 credit_accounts 表
//
// 時間欄位由 domain 決定，關閉 gorm 的自動時間戳。
type sqlCreditAccount struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID string `gorm:"size:64;not null;uniqueIndex"`

	AuditCredits        int64 `gorm:"not null;default:0"`
	TotalAuditAllocated int64 `gorm:"not null;default:0"`
	AuditUsed           int64 `gorm:"not null;default:0"`

	TokenCredits        int64 `gorm:"not null;default:0"`
	TotalTokenAllocated int64 `gorm:"not null;default:0"`
	TokenUsed           int64 `gorm:"not null;default:0"`

	TokensTowardsNextCredit int64 `gorm:"not null;default:0"`

	InstanceType   string     `gorm:"size:16;not null"`
	TrialExpiresAt *time.Time `gorm:"precision:6"`

	LowCreditAlertThreshold int64 `gorm:"not null"`
	LowCreditAlertSent      bool  `gorm:"not null"`
	BlockOnExhausted        bool  `gorm:"not null"`

	CreatedAt time.Time `gorm:"precision:6;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"precision:6;autoUpdateTime:false"`
}

func (*sqlCreditAccount) TableName() string {
	return "credit_accounts"
}

func toSQLAccount(acc *domain.CreditAccount) sqlCreditAccount {
	return sqlCreditAccount{
		TenantID:                acc.TenantID,
		AuditCredits:            acc.AuditCredits,
		TotalAuditAllocated:     acc.TotalAuditAllocated,
		AuditUsed:               acc.AuditUsed,
		TokenCredits:            acc.TokenCredits,
		TotalTokenAllocated:     acc.TotalTokenAllocated,
		TokenUsed:               acc.TokenUsed,
		TokensTowardsNextCredit: acc.TokensTowardsNextCredit,
		InstanceType:            acc.InstanceType.String(),
		TrialExpiresAt:          acc.TrialExpiresAt,
		LowCreditAlertThreshold: acc.LowCreditAlertThreshold,
		LowCreditAlertSent:      acc.LowCreditAlertSent,
		BlockOnExhausted:        acc.BlockOnExhausted,
		CreatedAt:               acc.CreatedAt,
		UpdatedAt:               acc.UpdatedAt,
	}
}

func (r *sqlCreditAccount) toDomain() *domain.CreditAccount {
	acc := &domain.CreditAccount{
		TenantID:                r.TenantID,
		AuditCredits:            r.AuditCredits,
		TotalAuditAllocated:     r.TotalAuditAllocated,
		AuditUsed:               r.AuditUsed,
		TokenCredits:            r.TokenCredits,
		TotalTokenAllocated:     r.TotalTokenAllocated,
		TokenUsed:               r.TokenUsed,
		TokensTowardsNextCredit: r.TokensTowardsNextCredit,
		InstanceType:            domain.InstanceType(r.InstanceType),
		LowCreditAlertThreshold: r.LowCreditAlertThreshold,
		LowCreditAlertSent:      r.LowCreditAlertSent,
		BlockOnExhausted:        r.BlockOnExhausted,
		CreatedAt:               r.CreatedAt.UTC(),
		UpdatedAt:               r.UpdatedAt.UTC(),
	}
	if r.TrialExpiresAt != nil {
		t := r.TrialExpiresAt.UTC()
		acc.TrialExpiresAt = &t
	}
	return acc
}

// sqlCreditTransaction 對應資料庫的 credit_transactions 表
// idx_tenant_type_time 服務依租戶 / 種類 / 時間的分頁查詢
type sqlCreditTransaction struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	RefID        []byte    `gorm:"column:ref_id;type:binary(16);not null;uniqueIndex"` // 對應 domain.Transaction.ID
	TenantID     string    `gorm:"size:64;not null;index:idx_tenant_type_time,priority:1"`
	CreditType   string    `gorm:"size:16;not null;index:idx_tenant_type_time,priority:2"`
	Type         string    `gorm:"size:32;not null"`
	Amount       int64     `gorm:"not null"`
	BalanceAfter int64     `gorm:"not null"`
	Reason       string    `gorm:"size:255"`
	Reference    string    `gorm:"size:128;index"`
	Actor        string    `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"precision:6;autoCreateTime:false;index:idx_tenant_type_time,priority:3"`
}

func (*sqlCreditTransaction) TableName() string {
	return "credit_transactions"
}

func toSQLTransactions(txs []domain.Transaction) []sqlCreditTransaction {
	rows := make([]sqlCreditTransaction, len(txs))
	for i, tx := range txs {
		id := tx.ID
		rows[i] = sqlCreditTransaction{
			RefID:        id[:],
			TenantID:     tx.TenantID,
			CreditType:   tx.CreditType.String(),
			Type:         tx.Type.String(),
			Amount:       tx.Amount,
			BalanceAfter: tx.BalanceAfter,
			Reason:       tx.Reason,
			Reference:    tx.Reference,
			Actor:        tx.Actor,
			CreatedAt:    tx.CreatedAt,
		}
	}
	return rows
}

func (r *sqlCreditTransaction) toDomain() (domain.Transaction, error) {
	id, err := uuid.FromBytes(r.RefID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{
		ID:           id,
		TenantID:     r.TenantID,
		Type:         domain.TransactionType(r.Type),
		CreditType:   domain.CreditType(r.CreditType),
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		Reason:       r.Reason,
		Reference:    r.Reference,
		Actor:        r.Actor,
		CreatedAt:    r.CreatedAt.UTC(),
	}, nil
}

// sqlSetting 對應 settings 表，key/value 形式的執行期設定
type sqlSetting struct {
	Key       string `gorm:"column:key;primaryKey;size:64"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

func (*sqlSetting) TableName() string {
	return "settings"
}

// sqlInstance 對應 instances 表，租戶目錄的用量彙總
type sqlInstance struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	TenantID   string `gorm:"size:64;not null;uniqueIndex"`
	UsedAudits int64  `gorm:"not null;default:0"`
	UsedTokens int64  `gorm:"not null;default:0"`
	UpdatedAt  time.Time
}

func (*sqlInstance) TableName() string {
	return "instances"
}

// Migrate 建立或更新所有資料表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&sqlCreditAccount{},
		&sqlCreditTransaction{},
		&sqlSetting{},
		&sqlInstance{},
	)
}
