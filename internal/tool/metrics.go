package tool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gabrielauvo/autonomo/internal/domain"
)

type Metrics struct {
	// Latency: сколько времени занял полный пайплайн executeTool
	ExecutionDuration *prometheus.HistogramVec

	// Traffic: исходы вызовов инструментов
	Executions *prometheus.CounterVec

	// Жизненный цикл планов
	PlanTransitions *prometheus.CounterVec

	// Дедупликация: хиты/промахи idempotency-слоя
	IdempotencyHits *prometheus.CounterVec

	// Saturation: заполненность буфера аудита (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_tool_duration_seconds",
			Help:    "Histogram of tool execution latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"tool", "outcome"}),

		Executions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tool_executions_total",
			Help: "Total number of tool executions by outcome.",
		}, []string{"tool", "outcome"}), // outcome: success, failed, blocked, invalid

		PlanTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_plan_transitions_total",
			Help: "Total number of plan status transitions.",
		}, []string{"to"}),

		IdempotencyHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_idempotency_checks_total",
			Help: "Idempotency check results.",
		}, []string{"result"}), // miss, hit, conflict

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "assistant_audit_buffer_utilization",
			Help: "Current number of events in the audit buffer.",
		}),
	}
}

// PlanTransition — счетчик для Plan Service (transitionCounter)
func (m *Metrics) PlanTransition(to domain.PlanStatus) {
	m.PlanTransitions.WithLabelValues(string(to)).Inc()
}

// IdempotencyCheck — счетчик для Idempotency Service (metricsSink)
func (m *Metrics) IdempotencyCheck(result string) {
	m.IdempotencyHits.WithLabelValues(result).Inc()
}
