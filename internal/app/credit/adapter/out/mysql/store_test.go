package mysql

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newSQLiteClient 每個測試一個獨立的 :memory: 資料庫
func newSQLiteClient(t *testing.T) *mysql.Client {
	t.Helper()
	cfg := mysql.Config{Driver: mysql.DriverSQLite, LogLevel: "silent"}
	cfg.ApplyDefaults()
	client, err := mysql.NewClient(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, Migrate(client.DB()))
	return client
}

func createAccount(t *testing.T, s *Store, tenantID string, mutate func(*domain.InitOptions)) {
	t.Helper()
	opts := domain.DefaultInitOptions()
	if mutate != nil {
		mutate(&opts)
	}
	acc, txs, err := domain.NewCreditAccount(tenantID, opts, testNow)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), acc, txs))
}

func debit(n int64) usecase.Mutation {
	return func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		res, tx, err := acc.Debit(domain.CreditTypeAudit, n, "call-1", testNow.Add(time.Minute))
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, usecase.ErrNoChange
		}
		return []domain.Transaction{*tx}, nil
	}
}

func TestStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLiteClient(t))

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	createAccount(t, s, "t1", func(o *domain.InitOptions) { o.BlockOnExhausted = false })

	acc, txs, err := domain.NewCreditAccount("t1", domain.DefaultInitOptions(), testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(ctx, acc, txs), domain.ErrAccountAlreadyExists)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.AuditCredits)
	assert.Equal(t, int64(50000), got.TotalTokenAllocated)
	assert.Equal(t, domain.InstanceTypeTrial, got.InstanceType)
	assert.False(t, got.BlockOnExhausted)
	assert.False(t, got.LowCreditAlertSent)
	require.NotNil(t, got.TrialExpiresAt)
	assert.True(t, testNow.AddDate(0, 0, 14).Equal(*got.TrialExpiresAt))
	assert.True(t, testNow.Equal(got.CreatedAt))

	// 重複建立失敗時初始交易也不應寫入
	_, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestStore_Apply(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLiteClient(t))
	createAccount(t, s, "t1", nil)

	got, err := s.Apply(ctx, "t1", debit(10))
	require.NoError(t, err)
	assert.Equal(t, int64(90), got.AuditCredits)

	t.Run("persisted", func(t *testing.T) {
		acc, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(90), acc.AuditCredits)
		assert.Equal(t, int64(10), acc.AuditUsed)
		assert.True(t, testNow.Add(time.Minute).Equal(acc.UpdatedAt))
	})

	t.Run("no change", func(t *testing.T) {
		acc, err := s.Apply(ctx, "t1", func(*domain.CreditAccount) ([]domain.Transaction, error) {
			return nil, usecase.ErrNoChange
		})
		require.NoError(t, err)
		assert.Equal(t, int64(90), acc.AuditCredits)
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := s.Apply(ctx, "t1", func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
			acc.AuditCredits = 0
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		acc, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(90), acc.AuditCredits)
	})

	t.Run("duplicate transaction id rolls back account", func(t *testing.T) {
		txs, _, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", PageSize: 1})
		require.NoError(t, err)
		dup := txs[0]

		_, err = s.Apply(ctx, "t1", func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
			acc.AuditCredits = 1
			return []domain.Transaction{dup}, nil
		})
		assert.Error(t, err)

		acc, err := s.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(90), acc.AuditCredits)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		_, err := s.Apply(ctx, "missing", debit(1))
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestStore_ListTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLiteClient(t))
	createAccount(t, s, "t1", nil)
	createAccount(t, s, "t2", nil)
	for i := 0; i < 5; i++ {
		_, err := s.Apply(ctx, "t1", debit(1))
		require.NoError(t, err)
	}

	all, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, all, 7)
	assert.Equal(t, int64(95), all[0].BalanceAfter)
	assert.Equal(t, "call-1", all[0].Reference)
	assert.Equal(t, domain.CreditTypeToken, all[5].CreditType)
	assert.Equal(t, domain.CreditTypeAudit, all[6].CreditType)

	page, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	require.Len(t, page, 3)
	assert.Equal(t, int64(98), page[0].BalanceAfter)
	assert.Equal(t, domain.CreditTypeToken, page[2].CreditType)

	audits, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", CreditType: domain.CreditTypeAudit})
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.Len(t, audits, 6)

	initial, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", To: testNow.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, initial, 2)

	report := domain.Reconcile(mustGet(t, s, "t1"), reverse(all))
	assert.True(t, report.Consistent())
}

// sqlite 單一連線下以鎖序列化，結果與記憶體版本一致
func TestStore_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLiteClient(t))
	createAccount(t, s, "t1", func(o *domain.InitOptions) { o.AuditCredits = 10 })
	svc := usecase.NewLedgerService(s, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.UseAuditCredits(ctx, "t1", 1, "")
			if assert.NoError(t, err) && res.Success {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, successes)
	assert.Zero(t, mustGet(t, s, "t1").AuditCredits)
}

func TestStore_TokenScenario(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)
	s := NewStore(client)
	settings := NewSettingsSource(client)
	require.NoError(t, settings.SetConversionRate(ctx, 2000))
	svc := usecase.NewLedgerService(s, usecase.NewConversionPolicy(settings))

	_, err := svc.Initialize(ctx, "t1", nil)
	require.NoError(t, err)

	res, err := svc.UseTokenCredits(ctx, "t1", 2500, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TokenDebitResult{Success: true, Remaining: 47500, CreditsConsumed: 1}, res)
	res, err = svc.UseTokenCredits(ctx, "t1", 1600, "")
	require.NoError(t, err)
	assert.Equal(t, int64(45900), res.Remaining)

	acc := mustGet(t, s, "t1")
	assert.Equal(t, int64(98), acc.AuditCredits)
	assert.Equal(t, int64(100), acc.TokensTowardsNextCredit)

	report, err := svc.Reconcile(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

// 交易寫入失敗時帳戶更新必須一併 Rollback
func TestStore_Apply_InsertFailureRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	client, err := mysql.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		mysql.Config{Driver: mysql.DriverMySQL, LogLevel: "silent", MaxRetries: 1}, nil)
	require.NoError(t, err)
	s := NewStore(client)

	rows := sqlmock.NewRows([]string{"id", "tenant_id", "audit_credits", "total_audit_allocated", "instance_type", "low_credit_alert_threshold", "block_on_exhausted"}).
		AddRow(1, "t1", 100, 100, "trial", 20, true)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT \\* FROM `credit_accounts` WHERE tenant_id = \\?.*FOR UPDATE").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE `credit_accounts` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO `credit_transactions`").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = s.Apply(context.Background(), "t1", debit(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert transactions")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create_DuplicateKey(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	client, err := mysql.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}),
		mysql.Config{Driver: mysql.DriverMySQL, LogLevel: "silent", MaxRetries: 1}, nil)
	require.NoError(t, err)
	s := NewStore(client)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `credit_accounts`").
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 't1' for key 'tenant_id'"})
	mock.ExpectRollback()

	acc, txs, err := domain.NewCreditAccount("t1", domain.DefaultInitOptions(), testNow)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Create(context.Background(), acc, txs), domain.ErrAccountAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func mustGet(t *testing.T, s *Store, tenantID string) *domain.CreditAccount {
	t.Helper()
	acc, err := s.Get(context.Background(), tenantID)
	require.NoError(t, err)
	return acc
}

func reverse(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		out[len(txs)-1-i] = tx
	}
	return out
}
