package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultAuditCredits   int64 = 100
	DefaultTokenCredits   int64 = 50000
	DefaultTrialDays            = 14
	DefaultAlertThreshold int64 = 20
)

// CreditAccount 租戶的額度帳戶，一個租戶恰好一個
//
// 不變量:
//
//	AuditCredits, TokenCredits >= 0
//	TotalAuditAllocated, AuditUsed, TotalTokenAllocated, TokenUsed 只增不減 (退款除外)
//	每次轉換後 0 <= TokensTowardsNextCredit < 轉換率
//
// 所有修改方法都是純函式，不碰 storage；由 store 在單一原子單位內執行並連同產生的交易一起寫入。
type CreditAccount struct {
	TenantID string `json:"tenant_id"`

	AuditCredits        int64 `json:"audit_credits"`
	TotalAuditAllocated int64 `json:"total_audit_allocated"`
	AuditUsed           int64 `json:"audit_used"`

	TokenCredits        int64 `json:"token_credits"`
	TotalTokenAllocated int64 `json:"total_token_allocated"`
	TokenUsed           int64 `json:"token_used"`

	// TokensTowardsNextCredit 尚未湊滿一點稽核額度的 token 累積量
	TokensTowardsNextCredit int64 `json:"tokens_towards_next_credit"`

	InstanceType   InstanceType `json:"instance_type"`
	TrialExpiresAt *time.Time   `json:"trial_expires_at,omitempty"`

	// LowCreditAlertThreshold 百分比 (0~100)
	LowCreditAlertThreshold int64 `json:"low_credit_alert_threshold"`
	LowCreditAlertSent      bool  `json:"low_credit_alert_sent"`
	BlockOnExhausted        bool  `json:"block_on_exhausted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitOptions 建立帳戶時的初始設定
type InitOptions struct {
	InstanceType     InstanceType `yaml:"instance_type"`
	TrialDays        int          `yaml:"trial_days"`
	AuditCredits     int64        `yaml:"audit_credits"`
	TokenCredits     int64        `yaml:"token_credits"`
	AlertThreshold   int64        `yaml:"alert_threshold"`
	BlockOnExhausted bool         `yaml:"block_on_exhausted"`
}

// DefaultInitOptions 預設：試用 14 天、100 稽核額度、50000 token、20% 警示、耗盡即阻擋
func DefaultInitOptions() InitOptions {
	return InitOptions{
		InstanceType:     InstanceTypeTrial,
		TrialDays:        DefaultTrialDays,
		AuditCredits:     DefaultAuditCredits,
		TokenCredits:     DefaultTokenCredits,
		AlertThreshold:   DefaultAlertThreshold,
		BlockOnExhausted: true,
	}
}

// Validate 檢查初始設定
func (o InitOptions) Validate() error {
	if !o.InstanceType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInstanceType, o.InstanceType)
	}
	if o.AuditCredits < 0 || o.TokenCredits < 0 {
		return fmt.Errorf("%w: initial credits must not be negative", ErrInvalidAmount)
	}
	if o.TrialDays < 0 {
		return fmt.Errorf("%w: trial days must not be negative", ErrInvalidAmount)
	}
	if o.AlertThreshold < 0 || o.AlertThreshold > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, o.AlertThreshold)
	}
	return nil
}

// NewCreditAccount 建立新帳戶與初始配發的 add 交易
//
// 參數:
//
//	tenantID: 租戶 ID
//	opts: 初始設定
//	now: 建立時間
//
// 回傳:
//
//	*CreditAccount: 新帳戶
//	[]Transaction: 初始配發紀錄 (額度大於 0 才會產生)
//	error: 參數錯誤
func NewCreditAccount(tenantID string, opts InitOptions, now time.Time) (*CreditAccount, []Transaction, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, nil, ErrInvalidTenantID
	}
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	a := &CreditAccount{
		TenantID:                tenantID,
		InstanceType:            opts.InstanceType,
		LowCreditAlertThreshold: opts.AlertThreshold,
		BlockOnExhausted:        opts.BlockOnExhausted,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if opts.InstanceType == InstanceTypeTrial {
		expires := now.AddDate(0, 0, opts.TrialDays)
		a.TrialExpiresAt = &expires
	}

	txs := make([]Transaction, 0, 2)
	if opts.AuditCredits > 0 {
		tx, _ := a.Credit(CreditTypeAudit, TransactionTypeAdd, opts.AuditCredits, "initial allocation", "", "system", now)
		txs = append(txs, tx)
	}
	if opts.TokenCredits > 0 {
		tx, _ := a.Credit(CreditTypeToken, TransactionTypeAdd, opts.TokenCredits, "initial allocation", "", "system", now)
		txs = append(txs, tx)
	}
	return a, txs, nil
}

// Clone 深拷貝，store 以 clone-then-swap 方式更新
func (a *CreditAccount) Clone() *CreditAccount {
	c := *a
	if a.TrialExpiresAt != nil {
		t := *a.TrialExpiresAt
		c.TrialExpiresAt = &t
	}
	return &c
}

// Balance 取得指定種類的餘額
func (a *CreditAccount) Balance(ct CreditType) int64 {
	if ct == CreditTypeToken {
		return a.TokenCredits
	}
	return a.AuditCredits
}

func (a *CreditAccount) setBalance(ct CreditType, v int64) {
	if ct == CreditTypeToken {
		a.TokenCredits = v
		return
	}
	a.AuditCredits = v
}

func (a *CreditAccount) addAllocated(ct CreditType, n int64) {
	if ct == CreditTypeToken {
		a.TotalTokenAllocated += n
		return
	}
	a.TotalAuditAllocated += n
}

func (a *CreditAccount) addUsed(ct CreditType, n int64) {
	if ct == CreditTypeToken {
		a.TokenUsed += n
		return
	}
	a.AuditUsed += n
}

func (a *CreditAccount) used(ct CreditType) int64 {
	if ct == CreditTypeToken {
		return a.TokenUsed
	}
	return a.AuditUsed
}

// Credit 增加額度
//
// txType 可為 add / purchase / refund：
// add 與 purchase 累加配發總量；refund 回沖已使用量 (不低於 0)。
// 任何額度增加都會把 LowCreditAlertSent 重設為 false，使下一次跌破門檻能再次警示。
func (a *CreditAccount) Credit(ct CreditType, txType TransactionType, amount int64, reason, reference, actor string, now time.Time) (Transaction, error) {
	if !ct.Valid() {
		return Transaction{}, ErrInvalidCreditType
	}
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	switch txType {
	case TransactionTypeAdd, TransactionTypePurchase:
		a.addAllocated(ct, amount)
	case TransactionTypeRefund:
		a.addUsed(ct, -min(amount, a.used(ct)))
	default:
		return Transaction{}, fmt.Errorf("%s is not a credit transaction", txType)
	}

	a.setBalance(ct, a.Balance(ct)+amount)
	a.LowCreditAlertSent = false
	a.UpdatedAt = now
	return newTransaction(a, txType, ct, amount, reason, reference, actor, now), nil
}

// DebitResult 扣款結果
type DebitResult struct {
	Success   bool  `json:"success"`
	Remaining int64 `json:"remaining"`
}

// Err Success 為 false 時回傳 ErrInsufficientCredits
func (r DebitResult) Err() error {
	if r.Success {
		return nil
	}
	return ErrInsufficientCredits
}

// Debit 扣款
//
// 1. BlockOnExhausted 且餘額不足：回傳 Success=false，不修改帳戶也不產生交易
// 2. 否則新餘額 = max(0, 餘額 - amount)，已使用量 += amount，產生 use 交易
//
// 回傳的 *Transaction 在第 1 種情況為 nil。
func (a *CreditAccount) Debit(ct CreditType, amount int64, reference string, now time.Time) (DebitResult, *Transaction, error) {
	if !ct.Valid() {
		return DebitResult{}, nil, ErrInvalidCreditType
	}
	if amount <= 0 {
		return DebitResult{}, nil, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	balance := a.Balance(ct)
	if a.BlockOnExhausted && balance < amount {
		return DebitResult{Success: false, Remaining: balance}, nil, nil
	}

	applied := a.floorDebit(ct, amount)
	a.addUsed(ct, amount)
	a.UpdatedAt = now

	reason := fmt.Sprintf("%s credits used: %d", ct, amount)
	tx := newTransaction(a, TransactionTypeUse, ct, -applied, reason, reference, "", now)
	return DebitResult{Success: true, Remaining: a.Balance(ct)}, &tx, nil
}

// floorDebit 扣除 amount 但餘額不低於 0，回傳實際扣除量
func (a *CreditAccount) floorDebit(ct CreditType, amount int64) int64 {
	balance := a.Balance(ct)
	next := max(0, balance-amount)
	a.setBalance(ct, next)
	return balance - next
}

// Convert 將累積的 token 換算為稽核額度扣除
//
// 累積量 >= rate 時扣除 floor(累積量 / rate) 點稽核額度 (同樣截底於 0)，
// 累積量改為餘數，AuditUsed 累加換算點數，並產生 token_conversion 交易。
//
// 回傳:
//
//	int64: 換算的稽核額度點數
//	*Transaction: 未達門檻時為 nil
func (a *CreditAccount) Convert(rate int64, reference string, now time.Time) (int64, *Transaction) {
	if rate <= 0 || a.TokensTowardsNextCredit < rate {
		return 0, nil
	}

	credits := a.TokensTowardsNextCredit / rate
	remainder := a.TokensTowardsNextCredit % rate
	tokens := credits * rate

	applied := a.floorDebit(CreditTypeAudit, credits)
	a.TokensTowardsNextCredit = remainder
	a.AuditUsed += credits
	a.UpdatedAt = now

	reason := fmt.Sprintf("converted %d tokens to %d audit credits at rate %d", tokens, credits, rate)
	tx := newTransaction(a, TransactionTypeTokenConversion, CreditTypeAudit, -applied, reason, reference, "", now)
	return credits, &tx
}

// TokenDebitResult Token 扣款結果
type TokenDebitResult struct {
	Success         bool  `json:"success"`
	Remaining       int64 `json:"remaining"`
	CreditsConsumed int64 `json:"credits_consumed"`
}

// Err Success 為 false 時回傳 ErrInsufficientCredits
func (r TokenDebitResult) Err() error {
	if r.Success {
		return nil
	}
	return ErrInsufficientCredits
}

// ConsumeTokens Token 扣款 + 累積 + 換算，三者為同一個原子單位
//
// 因為累積量每次都會保存並重新計算，一次扣 N 與分多次扣總和 N 的結果相同。
func (a *CreditAccount) ConsumeTokens(amount, rate int64, reference string, now time.Time) (TokenDebitResult, []Transaction, error) {
	res, useTx, err := a.Debit(CreditTypeToken, amount, reference, now)
	if err != nil {
		return TokenDebitResult{}, nil, err
	}
	if !res.Success {
		return TokenDebitResult{Success: false, Remaining: res.Remaining}, nil, nil
	}

	txs := []Transaction{*useTx}
	a.TokensTowardsNextCredit += amount
	credits, convTx := a.Convert(rate, reference, now)
	if convTx != nil {
		txs = append(txs, *convTx)
	}
	return TokenDebitResult{Success: true, Remaining: a.TokenCredits, CreditsConsumed: credits}, txs, nil
}

// Adjust 管理員帶號調整，調整後餘額不可為負
func (a *CreditAccount) Adjust(ct CreditType, delta int64, reason, actor string, now time.Time) (Transaction, error) {
	if !ct.Valid() {
		return Transaction{}, ErrInvalidCreditType
	}
	if delta == 0 {
		return Transaction{}, fmt.Errorf("%w: adjustment must not be zero", ErrInvalidAmount)
	}
	next := a.Balance(ct) + delta
	if next < 0 {
		return Transaction{}, fmt.Errorf("%w: adjustment would make %s balance negative", ErrInvalidAmount, ct)
	}
	a.setBalance(ct, next)
	if delta > 0 {
		a.LowCreditAlertSent = false
	}
	a.UpdatedAt = now
	return newTransaction(a, TransactionTypeAdjust, ct, delta, reason, "", actor, now), nil
}

// TrialExpired 是否為已過期的試用帳戶
func (a *CreditAccount) TrialExpired(now time.Time) bool {
	return a.InstanceType == InstanceTypeTrial && a.TrialExpiresAt != nil && !now.Before(*a.TrialExpiresAt)
}

// Expire 試用到期後清空兩種餘額，每種產生一筆 expire 交易
func (a *CreditAccount) Expire(actor string, now time.Time) ([]Transaction, error) {
	if !a.TrialExpired(now) {
		return nil, ErrTrialNotExpired
	}
	var txs []Transaction
	for _, ct := range []CreditType{CreditTypeAudit, CreditTypeToken} {
		balance := a.Balance(ct)
		if balance == 0 {
			continue
		}
		a.setBalance(ct, 0)
		txs = append(txs, newTransaction(a, TransactionTypeExpire, ct, -balance, "trial expired", "", actor, now))
	}
	a.UpdatedAt = now
	return txs, nil
}

// SetInstanceType 變更方案；離開試用時清除到期時間，進入試用時若尚無到期時間則設定為 now + trialDays
func (a *CreditAccount) SetInstanceType(t InstanceType, trialDays int, now time.Time) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidInstanceType, t)
	}
	if t == InstanceTypeTrial {
		if a.TrialExpiresAt == nil {
			expires := now.AddDate(0, 0, trialDays)
			a.TrialExpiresAt = &expires
		}
	} else {
		a.TrialExpiresAt = nil
	}
	a.InstanceType = t
	a.UpdatedAt = now
	return nil
}

// SetAlertSettings 更新警示門檻與耗盡阻擋設定
func (a *CreditAccount) SetAlertSettings(threshold int64, blockOnExhausted bool, now time.Time) error {
	if threshold < 0 || threshold > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidThreshold, threshold)
	}
	a.LowCreditAlertThreshold = threshold
	a.BlockOnExhausted = blockOnExhausted
	a.UpdatedAt = now
	return nil
}

// AuditPercentage 稽核額度剩餘百分比；尚未配發任何額度時視為 100
func (a *CreditAccount) AuditPercentage() decimal.Decimal {
	if a.TotalAuditAllocated <= 0 {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(a.AuditCredits).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(a.TotalAuditAllocated))
}

// MarkLowCreditAlert 餘額百分比 <= 門檻且尚未警示時設定旗標
//
// 回傳:
//
//	bool: 本次是否觸發 (旗標由 false 轉 true)
//	float64: 當下剩餘百分比
func (a *CreditAccount) MarkLowCreditAlert(now time.Time) (bool, float64) {
	pct := a.AuditPercentage()
	f, _ := pct.Round(2).Float64()
	if a.LowCreditAlertSent {
		return false, f
	}
	if pct.GreaterThan(decimal.NewFromInt(a.LowCreditAlertThreshold)) {
		return false, f
	}
	a.LowCreditAlertSent = true
	a.UpdatedAt = now
	return true, f
}
