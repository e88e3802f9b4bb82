package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

// Store 以 MySQL 實作的帳戶儲存
//
// Apply 以 SELECT ... FOR UPDATE 鎖住該租戶的帳戶列 (悲觀鎖)，
// 帳戶更新與交易寫入在同一個資料庫 Transaction 內提交。
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{
		client: client,
	}
}

// Create 建立帳戶與初始交易；tenant_id 唯一鍵衝突回傳 domain.ErrAccountAlreadyExists
func (s *Store) Create(ctx context.Context, acc *domain.CreditAccount, txs []domain.Transaction) error {
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSQLAccount(acc)
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrAccountAlreadyExists
			}
			return fmt.Errorf("insert account: %w", err)
		}
		return insertTransactions(tx, txs)
	})
}

// Get 取得帳戶
func (s *Store) Get(ctx context.Context, tenantID string) (*domain.CreditAccount, error) {
	var row sqlCreditAccount
	err := s.client.DB().WithContext(ctx).Where("tenant_id = ?", tenantID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Apply 在資料庫 Transaction 內執行 mutation
//
// 1. 鎖定帳戶列
// 2. 執行業務邏輯
// 3. 更新帳戶並寫入交易；任一步失敗整筆 Rollback
func (s *Store) Apply(ctx context.Context, tenantID string, mutate usecase.Mutation) (*domain.CreditAccount, error) {
	var result *domain.CreditAccount
	err := s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 取得鎖定帳號 悲觀鎖
		var row sqlCreditAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tenantID).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}

		acc := row.toDomain()
		txs, err := mutate(acc)
		if errors.Is(err, usecase.ErrNoChange) {
			result = row.toDomain()
			return nil
		}
		if err != nil {
			return err
		}

		// 更新資料庫
		updated := toSQLAccount(acc)
		updated.ID = row.ID
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		// 建立交易紀錄
		if err := insertTransactions(tx, txs); err != nil {
			return err
		}
		result = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func insertTransactions(tx *gorm.DB, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := toSQLTransactions(txs)
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

// ListTransactions 依條件查詢，新到舊；同一時間點以寫入順序 (id) 排序
func (s *Store) ListTransactions(ctx context.Context, filter usecase.TransactionFilter) ([]domain.Transaction, int64, error) {
	var total int64
	countQuery := applyFilter(s.client.DB().WithContext(ctx).Model(&sqlCreditTransaction{}), filter)
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := applyFilter(s.client.DB().WithContext(ctx), filter).
		Order("created_at DESC").
		Order("id DESC")
	if filter.PageSize > 0 {
		page := max(filter.Page, 1)
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var rows []sqlCreditTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.Transaction, 0, len(rows))
	for i := range rows {
		tx, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tx)
	}
	return items, total, nil
}

func applyFilter(q *gorm.DB, filter usecase.TransactionFilter) *gorm.DB {
	q = q.Where("tenant_id = ?", filter.TenantID)
	if filter.CreditType != "" {
		q = q.Where("credit_type = ?", filter.CreditType.String())
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To)
	}
	return q
}

var _ usecase.AccountStore = (*Store)(nil)
