package app

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blockberries/vault/program"
	"github.com/blockberries/vault/types"
)

const namespace = "vault"

// Metrics are the application's Prometheus collectors.
type Metrics struct {
	TxsTotal          *prometheus.CounterVec
	VaultsInitialized prometheus.Counter
	LamportsDeposited prometheus.Counter
	CommittedHeight   prometheus.Gauge
	Accounts          prometheus.Gauge
	BlockExecution    prometheus.Histogram
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TxsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Committed transactions by outcome code",
		}, []string{"code"}),
		VaultsInitialized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "initialized_total",
			Help:      "Vaults created",
		}),
		LamportsDeposited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposited_lamports_total",
			Help:      "Lamports moved into vaults",
		}),
		CommittedHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "committed_height",
			Help:      "Height of the last committed block",
		}),
		Accounts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accounts",
			Help:      "Accounts in committed state",
		}),
		BlockExecution: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_execution_seconds",
			Help:      "Time spent in ExecuteBlock",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

func (m *Metrics) observeCommit(height uint64, accounts int, outcomes []types.TxOutcome) {
	if m == nil {
		return
	}
	m.CommittedHeight.Set(float64(height))
	m.Accounts.Set(float64(accounts))
	for _, o := range outcomes {
		m.TxsTotal.WithLabelValues(strconv.FormatUint(uint64(o.Code), 10)).Inc()
		if !o.OK() {
			continue
		}
		for _, ev := range o.Events {
			switch ev.Kind {
			case program.InitializeName:
				m.VaultsInitialized.Inc()
			case program.DepositName:
				if amount, ok := ev.Attr("amount"); ok {
					if v, err := strconv.ParseUint(amount, 10, 64); err == nil {
						m.LamportsDeposited.Add(float64(v))
					}
				}
			}
		}
	}
}
