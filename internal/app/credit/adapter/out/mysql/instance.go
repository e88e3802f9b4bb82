package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

// InstanceDirectory 租戶目錄 (instances 表) 的用量累加
//
// 資料僅供儀表板使用，不參與任何扣款判斷。
type InstanceDirectory struct {
	client *mysql.Client
}

func NewInstanceDirectory(client *mysql.Client) *InstanceDirectory {
	return &InstanceDirectory{client: client}
}

func (d *InstanceDirectory) IncrementUsedAudits(ctx context.Context, tenantID string, n int64) error {
	return d.increment(ctx, tenantID, "used_audits", n)
}

func (d *InstanceDirectory) IncrementUsedTokens(ctx context.Context, tenantID string, n int64) error {
	return d.increment(ctx, tenantID, "used_tokens", n)
}

// increment 以 upsert 原子累加；目錄中尚無該租戶時建立
func (d *InstanceDirectory) increment(ctx context.Context, tenantID, column string, n int64) error {
	now := time.Now().UTC()
	row := sqlInstance{TenantID: tenantID, UpdatedAt: now}
	switch column {
	case "used_audits":
		row.UsedAudits = n
	case "used_tokens":
		row.UsedTokens = n
	}
	return d.client.DB().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				column:       gorm.Expr(column+" + ?", n),
				"updated_at": now,
			}),
		}).
		Create(&row).Error
}

// Usage 查詢目錄中的用量彙總
func (d *InstanceDirectory) Usage(ctx context.Context, tenantID string) (audits, tokens int64, err error) {
	var row sqlInstance
	err = d.client.DB().WithContext(ctx).Where("tenant_id = ?", tenantID).Take(&row).Error
	return row.UsedAudits, row.UsedTokens, err
}

var _ usecase.InstanceDirectory = (*InstanceDirectory)(nil)
