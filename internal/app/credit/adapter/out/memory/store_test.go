package memory_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/adapter/out/memory"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/wal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, w *wal.WAL) usecase.AccountStore

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"mutex": func(t *testing.T, w *wal.WAL) usecase.AccountStore {
			s, err := memory.NewMutexStore(w)
			require.NoError(t, err)
			return s
		},
		"sequencer": func(t *testing.T, w *wal.WAL) usecase.AccountStore {
			s, err := memory.NewSequencerStore(w, 0)
			require.NoError(t, err)
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)
			s.Start(ctx)
			return s
		},
	}
}

func newAccount(t *testing.T, tenantID string) (*domain.CreditAccount, []domain.Transaction) {
	t.Helper()
	acc, txs, err := domain.NewCreditAccount(tenantID, domain.DefaultInitOptions(), testNow)
	require.NoError(t, err)
	return acc, txs
}

func debit(n int64) usecase.Mutation {
	return func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		res, tx, err := acc.Debit(domain.CreditTypeAudit, n, "", testNow)
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
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, nil)

			_, err := s.Get(ctx, "t1")
			assert.ErrorIs(t, err, domain.ErrAccountNotFound)

			acc, txs := newAccount(t, "t1")
			require.NoError(t, s.Create(ctx, acc, txs))
			assert.ErrorIs(t, s.Create(ctx, acc, txs), domain.ErrAccountAlreadyExists)

			got, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, int64(100), got.AuditCredits)

			// 回傳的是快照，修改不影響 store
			got.AuditCredits = 0
			again, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, int64(100), again.AuditCredits)
		})
	}
}

func TestStore_Apply(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, nil)
			acc, txs := newAccount(t, "t1")
			require.NoError(t, s.Create(ctx, acc, txs))

			t.Run("commit", func(t *testing.T) {
				got, err := s.Apply(ctx, "t1", debit(10))
				require.NoError(t, err)
				assert.Equal(t, int64(90), got.AuditCredits)

				_, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1"})
				require.NoError(t, err)
				assert.Equal(t, int64(3), total)
			})

			t.Run("no change", func(t *testing.T) {
				got, err := s.Apply(ctx, "t1", func(*domain.CreditAccount) ([]domain.Transaction, error) {
					return nil, usecase.ErrNoChange
				})
				require.NoError(t, err)
				assert.Equal(t, int64(90), got.AuditCredits)
			})

			t.Run("rollback on error", func(t *testing.T) {
				boom := errors.New("boom")
				_, err := s.Apply(ctx, "t1", func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
					acc.AuditCredits = 0
					return nil, boom
				})
				assert.ErrorIs(t, err, boom)

				got, err := s.Get(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, int64(90), got.AuditCredits)
				_, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1"})
				require.NoError(t, err)
				assert.Equal(t, int64(3), total)
			})

			t.Run("unknown tenant", func(t *testing.T) {
				_, err := s.Apply(ctx, "missing", debit(1))
				assert.ErrorIs(t, err, domain.ErrAccountNotFound)
			})
		})
	}
}

func TestStore_ListTransactions(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, nil)
			acc, txs := newAccount(t, "t1")
			require.NoError(t, s.Create(ctx, acc, txs))
			for i := 0; i < 5; i++ {
				_, err := s.Apply(ctx, "t1", debit(1))
				require.NoError(t, err)
			}

			all, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", CreditType: domain.CreditTypeAudit})
			require.NoError(t, err)
			assert.Equal(t, int64(6), total)
			require.Len(t, all, 6)
			// 新到舊
			assert.Equal(t, int64(95), all[0].BalanceAfter)
			assert.Equal(t, domain.TransactionTypeAdd, all[5].Type)

			page, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", Page: 2, PageSize: 4})
			require.NoError(t, err)
			assert.Equal(t, int64(7), total)
			assert.Len(t, page, 3)

			empty, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", Page: 9, PageSize: 4})
			require.NoError(t, err)
			assert.Equal(t, int64(7), total)
			assert.Empty(t, empty)

			ranged, _, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", From: testNow.Add(time.Second)})
			require.NoError(t, err)
			assert.Empty(t, ranged)

			none, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "missing"})
			require.NoError(t, err)
			assert.Zero(t, total)
			assert.Empty(t, none)
		})
	}
}

// N 個併發扣款搶 B 點額度，恰好 B 個成功
func TestStore_ConcurrentDebits(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, nil)
			opts := domain.DefaultInitOptions()
			opts.AuditCredits = 50
			opts.BlockOnExhausted = true
			acc, txs, err := domain.NewCreditAccount("t1", opts, testNow)
			require.NoError(t, err)
			require.NoError(t, s.Create(ctx, acc, txs))

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
			)
			for i := 0; i < 200; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					var ok bool
					_, err := s.Apply(ctx, "t1", func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
						txs, err := debit(1)(acc)
						ok = err == nil
						return txs, err
					})
					if err == nil && ok {
						mu.Lock()
						successes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 50, successes)
			got, err := s.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Zero(t, got.AuditCredits)
			assert.Equal(t, int64(50), got.AuditUsed)
		})
	}
}

func TestStore_RecoverFromWAL(t *testing.T) {
	for name, factory := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "credit.wal")

			w, err := wal.Open(path)
			require.NoError(t, err)
			s := factory(t, w)
			acc, txs := newAccount(t, "t1")
			require.NoError(t, s.Create(ctx, acc, txs))
			_, err = s.Apply(ctx, "t1", debit(30))
			require.NoError(t, err)
			// 未提交的修改不應寫入 WAL
			_, err = s.Apply(ctx, "t1", func(*domain.CreditAccount) ([]domain.Transaction, error) {
				return nil, usecase.ErrNoChange
			})
			require.NoError(t, err)
			require.NoError(t, w.Close())

			w, err = wal.Open(path)
			require.NoError(t, err)
			t.Cleanup(func() { _ = w.Close() })
			recovered := factory(t, w)

			got, err := recovered.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, int64(70), got.AuditCredits)
			assert.Equal(t, int64(30), got.AuditUsed)

			list, total, err := recovered.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1"})
			require.NoError(t, err)
			assert.Equal(t, int64(3), total)
			assert.Equal(t, int64(-30), list[0].Amount)

			report := domain.Reconcile(got, []domain.Transaction{list[2], list[1], list[0]})
			assert.True(t, report.Consistent())
		})
	}
}

func TestSequencerStore_Stopped(t *testing.T) {
	s, err := memory.NewSequencerStore(nil, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	acc, txs := newAccount(t, "t1")
	require.NoError(t, s.Create(context.Background(), acc, txs))
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not stop")
	}
	_, err = s.Get(context.Background(), "t1")
	assert.ErrorIs(t, err, memory.ErrStoreClosed)
}

func TestSequencerStore_CallerContext(t *testing.T) {
	// 未 Start 時輸送帶滿了，呼叫端以自己的 ctx 放棄
	s, err := memory.NewSequencerStore(nil, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Get(ctx, "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSequencerStore_AbandonedRequestNotApplied(t *testing.T) {
	s, err := memory.NewSequencerStore(nil, 0)
	require.NoError(t, err)
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	s.Start(runCtx)

	ctx := context.Background()
	acc, txs := newAccount(t, "t1")
	require.NoError(t, s.Create(ctx, acc, txs))

	// 1. 用一個卡住的 mutation 佔住 run loop
	entered := make(chan struct{})
	unblock := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		_, err := s.Apply(ctx, "t1", func(*domain.CreditAccount) ([]domain.Transaction, error) {
			close(entered)
			<-unblock
			return nil, usecase.ErrNoChange
		})
		blocked <- err
	}()
	<-entered

	// 2. 排隊中的扣款逾時放棄
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.Apply(short, "t1", debit(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, <-blocked)

	// 3. 放棄的請求沒有任何變更
	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.AuditCredits)
	assert.Zero(t, got.AuditUsed)

	_, total, err := s.ListTransactions(ctx, usecase.TransactionFilter{TenantID: "t1", Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(len(txs)), total)
}
