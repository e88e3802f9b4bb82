package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-credit-ledger/internal/app/credit/domain"
	"github.com/JoeShih716/go-credit-ledger/pkg/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// defaultAuditDebit 未指定數量時一次稽核扣 1 點
	defaultAuditDebit = 1
)

// LedgerService 帳本核心業務邏輯，帳戶與帳本的唯一寫入者
//
// 每個會改變餘額的操作都是一次 store.Apply，帳戶更新與交易紀錄同時提交。
// 警示檢查與用量推送在提交之後進行，失敗不影響扣款結果。
type LedgerService struct {
	store    AccountStore
	policy   *ConversionPolicy
	alerts   *AlertMonitor
	pusher   UsagePusher
	metrics  *metrics.Ledger
	logger   *zap.Logger
	now      func() time.Time
	defaults domain.InitOptions
}

// Option LedgerService 設定選項
type Option func(*LedgerService)

func WithAlertMonitor(m *AlertMonitor) Option {
	return func(s *LedgerService) { s.alerts = m }
}

func WithUsagePusher(p UsagePusher) Option {
	return func(s *LedgerService) { s.pusher = p }
}

func WithMetrics(m *metrics.Ledger) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *LedgerService) {
		if logger != nil {
			s.logger = logger.Named("ledger")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

// WithInitDefaults Initialize 未指定 opts 時使用的預設值
func WithInitDefaults(opts domain.InitOptions) Option {
	return func(s *LedgerService) { s.defaults = opts }
}

// NewLedgerService 建立 LedgerService
//
// 參數:
//
//	store: 帳戶儲存層
//	policy: 轉換率 (nil 代表固定使用預設值)
//	opts: 其他選項
func NewLedgerService(store AccountStore, policy *ConversionPolicy, opts ...Option) *LedgerService {
	if policy == nil {
		policy = NewConversionPolicy(nil)
	}
	s := &LedgerService{
		store:    store,
		policy:   policy,
		logger:   zap.NewNop(),
		now:      time.Now,
		defaults: domain.DefaultInitOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize 建立租戶帳戶 (冪等)
//
// 已存在時直接回傳現有帳戶，不做任何修改。
// 兩個併發的首次初始化由 store 的唯一鍵決定勝負，落敗者讀回勝者建立的帳戶。
func (s *LedgerService) Initialize(ctx context.Context, tenantID string, opts *domain.InitOptions) (*domain.CreditAccount, error) {
	existing, err := s.store.Get(ctx, tenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("initialize %s: %w", tenantID, err)
	}

	o := s.defaults
	if opts != nil {
		o = *opts
	}
	acc, txs, err := domain.NewCreditAccount(tenantID, o, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, acc, txs); err != nil {
		if errors.Is(err, domain.ErrAccountAlreadyExists) {
			return s.store.Get(ctx, tenantID)
		}
		return nil, fmt.Errorf("initialize %s: %w", tenantID, err)
	}

	s.logger.Info("credit account initialized",
		zap.String("tenant_id", tenantID),
		zap.String("instance_type", acc.InstanceType.String()),
		zap.Int64("audit_credits", acc.AuditCredits),
		zap.Int64("token_credits", acc.TokenCredits),
	)
	return acc, nil
}

// InitDefaults Initialize 未指定 opts 時使用的初始設定
func (s *LedgerService) InitDefaults() domain.InitOptions {
	return s.defaults
}

// GetAccount 取得帳戶快照
func (s *LedgerService) GetAccount(ctx context.Context, tenantID string) (*domain.CreditAccount, error) {
	return s.store.Get(ctx, tenantID)
}

// AddAuditCredits 增加稽核額度並重置低額度警示旗標
func (s *LedgerService) AddAuditCredits(ctx context.Context, tenantID string, amount int64, reason, actor string) (*domain.CreditAccount, error) {
	return s.credit(ctx, tenantID, domain.CreditTypeAudit, domain.TransactionTypeAdd, amount, reason, "", actor)
}

// AddTokenCredits 增加 token 額度並重置低額度警示旗標
func (s *LedgerService) AddTokenCredits(ctx context.Context, tenantID string, amount int64, reason, actor string) (*domain.CreditAccount, error) {
	return s.credit(ctx, tenantID, domain.CreditTypeToken, domain.TransactionTypeAdd, amount, reason, "", actor)
}

// PurchaseCredits 購買額度，記錄為 purchase 交易
func (s *LedgerService) PurchaseCredits(ctx context.Context, tenantID string, ct domain.CreditType, amount int64, reference, actor string) (*domain.CreditAccount, error) {
	return s.credit(ctx, tenantID, ct, domain.TransactionTypePurchase, amount, "credits purchased", reference, actor)
}

// RefundAuditCredits 退回稽核額度 (例如稽核流程失敗)
func (s *LedgerService) RefundAuditCredits(ctx context.Context, tenantID string, amount int64, reference, reason string) (*domain.CreditAccount, error) {
	return s.credit(ctx, tenantID, domain.CreditTypeAudit, domain.TransactionTypeRefund, amount, reason, reference, "")
}

func (s *LedgerService) credit(ctx context.Context, tenantID string, ct domain.CreditType, txType domain.TransactionType, amount int64, reason, reference, actor string) (*domain.CreditAccount, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidAmount, amount)
	}
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		tx, err := acc.Credit(ct, txType, amount, reason, reference, actor, s.now())
		if err != nil {
			return nil, err
		}
		return []domain.Transaction{tx}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s credits: %w", txType, ct, err)
	}

	s.metrics.ObserveCredit(ct.String(), txType.String(), amount)
	s.logger.Info("credits added",
		zap.String("tenant_id", tenantID),
		zap.String("credit_type", ct.String()),
		zap.String("type", txType.String()),
		zap.Int64("amount", amount),
		zap.Int64("balance", acc.Balance(ct)),
		zap.String("actor", actor),
	)
	return acc, nil
}

// UseAuditCredits 扣除稽核額度
//
// 回傳:
//
//	DebitResult: Success=false 代表餘額不足被阻擋 (未寫入任何資料)，呼叫端應拒絕該計費動作
//	error: 帳戶不存在或 store 失敗；與 Success=false 不同，由呼叫端決定處理策略
//
// amount 為 0 視為 1；負數回傳 ErrInvalidAmount。
func (s *LedgerService) UseAuditCredits(ctx context.Context, tenantID string, amount int64, reference string) (domain.DebitResult, error) {
	if amount == 0 {
		amount = defaultAuditDebit
	}
	var (
		result  domain.DebitResult
		before  int64
		applied bool
	)
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		before = acc.AuditCredits
		res, tx, err := acc.Debit(domain.CreditTypeAudit, amount, reference, s.now())
		if err != nil {
			return nil, err
		}
		result = res
		if !res.Success {
			return nil, ErrNoChange
		}
		applied = true
		return []domain.Transaction{*tx}, nil
	})
	if err != nil {
		s.metrics.ObserveDebit(domain.CreditTypeAudit.String(), "error")
		return domain.DebitResult{}, fmt.Errorf("use audit credits: %w", err)
	}
	if !applied {
		s.metrics.ObserveDebit(domain.CreditTypeAudit.String(), "rejected")
		s.logger.Info("audit debit rejected",
			zap.String("tenant_id", tenantID),
			zap.Int64("requested", amount),
			zap.Int64("balance", result.Remaining),
		)
		return result, nil
	}

	s.metrics.ObserveDebit(domain.CreditTypeAudit.String(), "success")
	s.afterAuditDebit(ctx, tenantID, before, acc.AuditCredits)
	if s.pusher != nil {
		s.pusher.PushAudits(tenantID, amount)
	}
	return result, nil
}

// UseTokenCredits 扣除 token 額度並執行換算
//
// 轉換率在進入 store 鎖之前取得；token 扣款、累積量與換算在同一個 Apply 內完成。
func (s *LedgerService) UseTokenCredits(ctx context.Context, tenantID string, amount int64, reference string) (domain.TokenDebitResult, error) {
	rate := s.policy.Rate(ctx)

	var (
		result      domain.TokenDebitResult
		auditBefore int64
		tokenBefore int64
		applied     bool
	)
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		auditBefore, tokenBefore = acc.AuditCredits, acc.TokenCredits
		res, txs, err := acc.ConsumeTokens(amount, rate, reference, s.now())
		if err != nil {
			return nil, err
		}
		result = res
		if !res.Success {
			return nil, ErrNoChange
		}
		applied = true
		return txs, nil
	})
	if err != nil {
		s.metrics.ObserveDebit(domain.CreditTypeToken.String(), "error")
		return domain.TokenDebitResult{}, fmt.Errorf("use token credits: %w", err)
	}
	if !applied {
		s.metrics.ObserveDebit(domain.CreditTypeToken.String(), "rejected")
		s.logger.Info("token debit rejected",
			zap.String("tenant_id", tenantID),
			zap.Int64("requested", amount),
			zap.Int64("balance", result.Remaining),
		)
		return result, nil
	}

	s.metrics.ObserveDebit(domain.CreditTypeToken.String(), "success")
	if s.alerts != nil && tokenBefore > 0 && acc.TokenCredits == 0 {
		s.alerts.NotifyExhausted(ctx, tenantID, domain.CreditTypeToken)
	}
	if result.CreditsConsumed > 0 {
		s.metrics.ObserveConversion(result.CreditsConsumed)
		s.logger.Debug("tokens converted",
			zap.String("tenant_id", tenantID),
			zap.Int64("credits", result.CreditsConsumed),
			zap.Int64("rate", rate),
			zap.Int64("accumulator", acc.TokensTowardsNextCredit),
		)
		s.afterAuditDebit(ctx, tenantID, auditBefore, acc.AuditCredits)
	}
	if s.pusher != nil {
		s.pusher.PushTokens(tenantID, amount)
		s.pusher.PushAudits(tenantID, result.CreditsConsumed)
	}
	return result, nil
}

// afterAuditDebit 稽核額度減少後的警示檢查；錯誤只記錄
func (s *LedgerService) afterAuditDebit(ctx context.Context, tenantID string, before, after int64) {
	if s.alerts == nil {
		return
	}
	if _, err := s.alerts.CheckLowCreditAlert(ctx, tenantID); err != nil {
		s.logger.Warn("low credit alert check failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if before > 0 && after == 0 {
		s.alerts.NotifyExhausted(ctx, tenantID, domain.CreditTypeAudit)
	}
}

// AdjustCredits 管理員帶號調整
func (s *LedgerService) AdjustCredits(ctx context.Context, tenantID string, ct domain.CreditType, delta int64, reason, actor string) (*domain.CreditAccount, error) {
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		tx, err := acc.Adjust(ct, delta, reason, actor, s.now())
		if err != nil {
			return nil, err
		}
		return []domain.Transaction{tx}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust %s credits: %w", ct, err)
	}
	s.logger.Info("credits adjusted",
		zap.String("tenant_id", tenantID),
		zap.String("credit_type", ct.String()),
		zap.Int64("delta", delta),
		zap.String("actor", actor),
	)
	return acc, nil
}

// ExpireTrialCredits 試用到期後清空餘額
func (s *LedgerService) ExpireTrialCredits(ctx context.Context, tenantID, actor string) (*domain.CreditAccount, error) {
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		return acc.Expire(actor, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("expire trial credits: %w", err)
	}
	s.logger.Info("trial credits expired", zap.String("tenant_id", tenantID), zap.String("actor", actor))
	return acc, nil
}

// UpdateInstanceType 變更方案；離開試用時清除到期時間
func (s *LedgerService) UpdateInstanceType(ctx context.Context, tenantID string, t domain.InstanceType, actor string) (*domain.CreditAccount, error) {
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		return nil, acc.SetInstanceType(t, s.defaults.TrialDays, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("update instance type: %w", err)
	}
	s.logger.Info("instance type updated",
		zap.String("tenant_id", tenantID),
		zap.String("instance_type", t.String()),
		zap.String("actor", actor),
	)
	return acc, nil
}

// UpdateAlertSettings 更新警示門檻與耗盡阻擋
func (s *LedgerService) UpdateAlertSettings(ctx context.Context, tenantID string, threshold int64, blockOnExhausted bool) (*domain.CreditAccount, error) {
	acc, err := s.store.Apply(ctx, tenantID, func(acc *domain.CreditAccount) ([]domain.Transaction, error) {
		return nil, acc.SetAlertSettings(threshold, blockOnExhausted, s.now())
	})
	if err != nil {
		return nil, fmt.Errorf("update alert settings: %w", err)
	}
	return acc, nil
}

// GetUsageSummary 用量摘要，唯讀
func (s *LedgerService) GetUsageSummary(ctx context.Context, tenantID string) (domain.UsageSummary, error) {
	acc, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return domain.UsageSummary{}, err
	}
	return acc.Summary(s.policy.Rate(ctx), s.now()), nil
}

// TransactionPage 分頁查詢結果
type TransactionPage struct {
	Items    []domain.Transaction `json:"items"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}

// GetTransactions 依租戶查詢交易，新到舊、分頁
func (s *LedgerService) GetTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.TenantID == "" {
		return TransactionPage{}, domain.ErrInvalidTenantID
	}
	if filter.CreditType != "" && !filter.CreditType.Valid() {
		return TransactionPage{}, domain.ErrInvalidCreditType
	}
	if _, err := s.store.Get(ctx, filter.TenantID); err != nil {
		return TransactionPage{}, err
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = defaultPageSize
	case filter.PageSize > maxPageSize:
		filter.PageSize = maxPageSize
	}

	items, total, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return TransactionPage{}, fmt.Errorf("list transactions: %w", err)
	}
	return TransactionPage{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// Reconcile 重放整個帳本並與帳戶餘額比對
//
// 帳戶與交易分兩次讀取，期間若有寫入可能誤報；應在該租戶無流量時執行。
func (s *LedgerService) Reconcile(ctx context.Context, tenantID string) (domain.ReconcileReport, error) {
	acc, err := s.store.Get(ctx, tenantID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	txs, _, err := s.store.ListTransactions(ctx, TransactionFilter{TenantID: tenantID})
	if err != nil {
		return domain.ReconcileReport{}, fmt.Errorf("reconcile: %w", err)
	}

	// ListTransactions 為新到舊，重放需要舊到新
	ordered := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		ordered[len(txs)-1-i] = tx
	}

	report := domain.Reconcile(acc, ordered)
	if !report.Consistent() {
		s.logger.Error("ledger reconciliation mismatch",
			zap.String("tenant_id", tenantID),
			zap.Any("audit", report.Audit),
			zap.Any("token", report.Token),
		)
	}
	return report, nil
}
