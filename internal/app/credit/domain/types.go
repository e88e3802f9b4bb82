package domain

import "fmt"

// CreditType 計量的額度種類
type CreditType string

const (
	// 稽核額度：每執行一次品質稽核扣一點
	CreditTypeAudit CreditType = "audit"
	// Token 額度：依 AI 模型處理量扣除
	CreditTypeToken CreditType = "token"
)

// Valid 是否為已知的額度種類
func (c CreditType) Valid() bool {
	switch c {
	case CreditTypeAudit, CreditTypeToken:
		return true
	}
	return false
}

func (c CreditType) String() string { return string(c) }

// ParseCreditType 將字串轉為 CreditType，未知值回傳 ErrInvalidCreditType
func ParseCreditType(s string) (CreditType, error) {
	c := CreditType(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCreditType, s)
	}
	return c, nil
}

// TransactionType 交易類型，封閉集合
type TransactionType string

const (
	TransactionTypeAdd             TransactionType = "add"
	TransactionTypeUse             TransactionType = "use"
	TransactionTypeExpire          TransactionType = "expire"
	TransactionTypeRefund          TransactionType = "refund"
	TransactionTypeAdjust          TransactionType = "adjust"
	TransactionTypePurchase        TransactionType = "purchase"
	TransactionTypeTokenConversion TransactionType = "token_conversion"
)

// Valid 是否為已知的交易類型
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeAdd, TransactionTypeUse, TransactionTypeExpire, TransactionTypeRefund,
		TransactionTypeAdjust, TransactionTypePurchase, TransactionTypeTokenConversion:
		return true
	}
	return false
}

func (t TransactionType) String() string { return string(t) }

// ParseTransactionType 將字串轉為 TransactionType
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid transaction type: %q", s)
	}
	return t, nil
}

// InstanceType 租戶方案
type InstanceType string

const (
	InstanceTypeTrial      InstanceType = "trial"
	InstanceTypeStandard   InstanceType = "standard"
	InstanceTypeEnterprise InstanceType = "enterprise"
)

// Valid 是否為已知的方案
func (i InstanceType) Valid() bool {
	switch i {
	case InstanceTypeTrial, InstanceTypeStandard, InstanceTypeEnterprise:
		return true
	}
	return false
}

func (i InstanceType) String() string { return string(i) }

// ParseInstanceType 將字串轉為 InstanceType，未知值回傳 ErrInvalidInstanceType
func ParseInstanceType(s string) (InstanceType, error) {
	i := InstanceType(s)
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidInstanceType, s)
	}
	return i, nil
}
