// Package metrics exposes the chat pipeline's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commerce_chat"

type collectors struct {
	turnsTotal       *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	modelFailures    *prometheus.CounterVec
	ordersTotal      *prometheus.CounterVec
	memoryTaskErrors *prometheus.CounterVec
	memoryDropped    prometheus.Counter
	outboundTotal    *prometheus.CounterVec
}

var get = sync.OnceValue(func() *collectors {
	return &collectors{
		turnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed inbound messages by platform and outcome.",
		}, []string{"platform", "result"}),
		turnLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of one turn.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"platform"}),
		toolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Executed tool calls by tool and outcome.",
		}, []string{"tool", "result"}),
		modelFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_failures_total",
			Help:      "Failed model invocations by purpose.",
		}, []string{"purpose"}),
		ordersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created by trigger (tool or order_flow).",
		}, []string{"trigger"}),
		memoryTaskErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_task_failures_total",
			Help:      "Background memory tasks that failed or panicked.",
		}, []string{"task"}),
		memoryDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_tasks_dropped_total",
			Help:      "Background memory tasks dropped because the queue was full.",
		}),
		outboundTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound channel API calls by platform and outcome.",
		}, []string{"platform", "result"}),
	}
})

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func ObserveTurn(platform string, ok bool, elapsed time.Duration) {
	c := get()
	c.turnsTotal.WithLabelValues(platform, result(ok)).Inc()
	c.turnLatency.WithLabelValues(platform).Observe(elapsed.Seconds())
}

func ToolCall(tool string, ok bool) {
	get().toolCallsTotal.WithLabelValues(tool, result(ok)).Inc()
}

func ModelFailure(purpose string) {
	get().modelFailures.WithLabelValues(purpose).Inc()
}

func OrderCreated(trigger string) {
	get().ordersTotal.WithLabelValues(trigger).Inc()
}

func MemoryTaskFailed(task string) {
	get().memoryTaskErrors.WithLabelValues(task).Inc()
}

func MemoryTaskDropped() {
	get().memoryDropped.Inc()
}

func OutboundSend(platform string, ok bool) {
	get().outboundTotal.WithLabelValues(platform, result(ok)).Inc()
}

func Handler() http.Handler {
	get()
	return promhttp.Handler()
}
