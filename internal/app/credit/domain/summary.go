package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CreditUsage 單一額度種類的用量
type CreditUsage struct {
	Allocated        int64   `json:"allocated"`
	Used             int64   `json:"used"`
	Remaining        int64   `json:"remaining"`
	UsedPercent      float64 `json:"used_percent"`
	RemainingPercent float64 `json:"remaining_percent"`
}

// UsageSummary 唯讀的用量摘要
type UsageSummary struct {
	TenantID                string       `json:"tenant_id"`
	InstanceType            InstanceType `json:"instance_type"`
	Audit                   CreditUsage  `json:"audit"`
	Token                   CreditUsage  `json:"token"`
	TokensTowardsNextCredit int64        `json:"tokens_towards_next_credit"`
	ConversionRate          int64        `json:"conversion_rate"`
	LowCreditAlertThreshold int64        `json:"low_credit_alert_threshold"`
	LowCreditAlertSent      bool         `json:"low_credit_alert_sent"`
	BlockOnExhausted        bool         `json:"block_on_exhausted"`
	TrialExpiresAt          *time.Time   `json:"trial_expires_at,omitempty"`
	TrialExpired            bool         `json:"trial_expired"`
	TrialDaysRemaining      int          `json:"trial_days_remaining"`
}

// Summary 由帳戶推導用量摘要，不修改帳戶
func (a *CreditAccount) Summary(rate int64, now time.Time) UsageSummary {
	s := UsageSummary{
		TenantID:                a.TenantID,
		InstanceType:            a.InstanceType,
		Audit:                   usage(a.TotalAuditAllocated, a.AuditUsed, a.AuditCredits),
		Token:                   usage(a.TotalTokenAllocated, a.TokenUsed, a.TokenCredits),
		TokensTowardsNextCredit: a.TokensTowardsNextCredit,
		ConversionRate:          rate,
		LowCreditAlertThreshold: a.LowCreditAlertThreshold,
		LowCreditAlertSent:      a.LowCreditAlertSent,
		BlockOnExhausted:        a.BlockOnExhausted,
		TrialExpiresAt:          a.TrialExpiresAt,
		TrialExpired:            a.TrialExpired(now),
	}
	if a.InstanceType == InstanceTypeTrial && a.TrialExpiresAt != nil && !s.TrialExpired {
		s.TrialDaysRemaining = int(math.Ceil(a.TrialExpiresAt.Sub(now).Hours() / 24))
	}
	return s
}

func usage(allocated, used, remaining int64) CreditUsage {
	return CreditUsage{
		Allocated:        allocated,
		Used:             used,
		Remaining:        remaining,
		UsedPercent:      percent(used, allocated),
		RemainingPercent: percent(remaining, allocated),
	}
}

// percent part/whole*100 取兩位小數，whole 為 0 時回傳 0
func percent(part, whole int64) float64 {
	if whole <= 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(part).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(whole)).
		Round(2).
		Float64()
	return f
}
