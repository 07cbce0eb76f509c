// Package metrics exposes Prometheus collectors for model calls, retries, tool
// executions and finished runs. A Collector satisfies both dispatch.Observer
// and agent.Observer.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/evalmesh/agent"
	"github.com/hupe1980/evalmesh/dispatch"
	"github.com/hupe1980/evalmesh/model"
	"github.com/hupe1980/evalmesh/tool"
)

const namespace = "evalmesh"

var (
	_ dispatch.Observer = (*Collector)(nil)
	_ agent.Observer    = (*Collector)(nil)
)

// Collector groups the evalmesh metrics registered on one registry.
type Collector struct {
	modelCalls   *prometheus.CounterVec
	modelLatency *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
	retries      *prometheus.CounterVec
	exhausted    *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolErrors   *prometheus.CounterVec
	toolLatency  *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runSteps     *prometheus.HistogramVec
	runDuration  *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model call attempts by outcome",
		}, []string{"model", "outcome"}),
		modelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_seconds",
			Help:      "Latency of model call attempts in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"model"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by type (input, output, reasoning)",
		}, []string{"model", "type"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Scheduled retries by reason",
		}, []string{"model", "reason"}),
		exhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_exhausted_total",
			Help:      "Calls that ran out of retries, by last failure reason",
		}, []string{"model", "reason"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		}, []string{"tool"}),
		toolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_errors_total",
			Help:      "Total number of tool call errors by code",
		}, []string{"tool", "code"}),
		toolLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Latency of tool calls in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished loop runs by status",
		}, []string{"model", "status"}),
		runSteps: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_steps",
			Help:      "Model calls per finished run",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}, []string{"model"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_seconds",
			Help:      "Wall time of finished runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"model"}),
	}
}

// ObserveModelCall implements dispatch.Observer.
func (c *Collector) ObserveModelCall(name string, usage model.TokenUsage, dur time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.modelCalls.WithLabelValues(name, outcome).Inc()
	c.modelLatency.WithLabelValues(name).Observe(dur.Seconds())
	if err != nil {
		return
	}
	c.tokens.WithLabelValues(name, "input").Add(float64(usage.Input))
	c.tokens.WithLabelValues(name, "output").Add(float64(usage.Output))
	c.tokens.WithLabelValues(name, "reasoning").Add(float64(usage.Reasoning))
}

// ObserveRetry implements dispatch.Observer.
func (c *Collector) ObserveRetry(name, reason string) {
	c.retries.WithLabelValues(name, reason).Inc()
}

// ObserveExhausted implements dispatch.Observer.
func (c *Collector) ObserveExhausted(name, reason string) {
	c.exhausted.WithLabelValues(name, reason).Inc()
}

// ObserveToolCall implements agent.Observer.
func (c *Collector) ObserveToolCall(name string, dur time.Duration, err error) {
	c.toolCalls.WithLabelValues(name).Inc()
	c.toolLatency.WithLabelValues(name).Observe(dur.Seconds())
	if err == nil {
		return
	}
	code := tool.CodeExecutionError
	var te *tool.ToolError
	if errors.As(err, &te) && te.Code != "" {
		code = te.Code
	}
	c.toolErrors.WithLabelValues(name, code).Inc()
}

// ObserveRun implements agent.Observer.
func (c *Collector) ObserveRun(name string, status agent.Status, steps int, dur time.Duration) {
	c.runs.WithLabelValues(name, string(status)).Inc()
	c.runSteps.WithLabelValues(name).Observe(float64(steps))
	c.runDuration.WithLabelValues(name).Observe(dur.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on addr.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}
