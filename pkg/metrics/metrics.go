package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "credit_ledger"

// Ledger 帳本相關的 Prometheus 指標
//
// 所有方法對 nil receiver 安全，未設定指標時直接略過。
type Ledger struct {
	debits           *prometheus.CounterVec
	credits          *prometheus.CounterVec
	creditsConverted prometheus.Counter
	events           *prometheus.CounterVec
	rateFallbacks    prometheus.Counter
	syncDropped      prometheus.Counter
	syncFailures     prometheus.Counter
}

// NewLedger 在 reg 上註冊帳本指標
//
// 參數:
//
//	reg: prometheus.Registerer (測試時使用 prometheus.NewRegistry())
func NewLedger(reg prometheus.Registerer) *Ledger {
	f := promauto.With(reg)
	return &Ledger{
		debits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_total",
			Help:      "Debit attempts by credit type and outcome.",
		}, []string{"credit_type", "outcome"}),
		credits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_added_total",
			Help:      "Credits added by credit type and transaction type.",
		}, []string{"credit_type", "type"}),
		creditsConverted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_conversion_credits_total",
			Help:      "Audit credits consumed by token conversion.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Ledger events emitted by name.",
		}, []string{"event"}),
		rateFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_rate_fallbacks_total",
			Help:      "Conversion rate lookups that fell back to the default rate.",
		}),
		syncDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_sync_dropped_total",
			Help:      "Usage deltas dropped because the sync queue was full.",
		}),
		syncFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_sync_failures_total",
			Help:      "Usage deltas the instance directory rejected.",
		}),
	}
}

// ObserveDebit outcome: success / rejected / error
func (m *Ledger) ObserveDebit(creditType, outcome string) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(creditType, outcome).Inc()
}

// ObserveCredit 記錄加值
func (m *Ledger) ObserveCredit(creditType, txType string, amount int64) {
	if m == nil {
		return
	}
	m.credits.WithLabelValues(creditType, txType).Add(float64(amount))
}

// ObserveConversion 記錄 token 換算的稽核額度
func (m *Ledger) ObserveConversion(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsConverted.Add(float64(credits))
}

func (m *Ledger) ObserveEvent(name string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name).Inc()
}

func (m *Ledger) ObserveRateFallback() {
	if m == nil {
		return
	}
	m.rateFallbacks.Inc()
}

func (m *Ledger) ObserveSyncDropped() {
	if m == nil {
		return
	}
	m.syncDropped.Inc()
}

func (m *Ledger) ObserveSyncFailure() {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}
