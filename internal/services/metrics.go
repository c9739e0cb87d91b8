package rewards

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

// метрики

var (
	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_actions_total",
			Help: "Кол-во операций по действиям и результату",
		},
		[]string{"action", "code"},
	)

	rulesFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_rules_fired_total",
			Help: "Кол-во сработавших правил",
		},
		[]string{"trigger"},
	)

	ruleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_rule_errors_total",
			Help: "Кол-во ошибок конфигурации правил",
		},
		[]string{"kind"},
	)
)

var tracer = otel.Tracer("rewards")

func countAction(action string, code string) {
	if code == "" {
		code = "OK"
	}
	actionsTotal.WithLabelValues(action, code).Inc()
}
