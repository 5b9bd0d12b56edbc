package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	DepositsInitiatedTotal prometheus.Counter
	DepositsExpiredTotal   prometheus.Counter
	DepositStateRejects    prometheus.Counter
	EventsProcessedTotal   *prometheus.CounterVec
	EventsFailedTotal      *prometheus.CounterVec
	OracleRequestsTotal    *prometheus.CounterVec
	OracleDeviationRejects prometheus.Counter
	IndexerCursorHeight    *prometheus.GaugeVec
	BridgeIntentsTotal     prometheus.Counter
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		DepositsInitiatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_initiated_total",
			Help: "The total number of initiated deposits",
		}),
		DepositsExpiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_expired_total",
			Help: "The total number of deposits moved to EXPIRED by the sweep",
		}),
		DepositStateRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposit_state_rejects_total",
			Help: "The total number of rejected state transitions",
		}),
		EventsProcessedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_processed_total",
			Help: "The total number of processed chain events",
		}, []string{"chain", "event"}),
		EventsFailedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_events_failed_total",
			Help: "The total number of chain events that failed processing",
		}, []string{"chain", "event"}),
		OracleRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_oracle_requests_total",
			Help: "Price source requests by source and outcome",
		}, []string{"source", "status"}),
		OracleDeviationRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_oracle_deviation_rejects_total",
			Help: "Aggregations rejected because sources deviated beyond tolerance",
		}),
		IndexerCursorHeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_indexer_cursor_height",
			Help: "Last processed block per polled chain",
		}, []string{"chain"}),
		BridgeIntentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_bridge_intents_total",
			Help: "The total number of recorded bridge intents",
		}),
	}
}
