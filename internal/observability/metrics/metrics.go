package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "battexec_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ticksTotal   *prometheus.CounterVec
	tickLatency  *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	stepLatency  *prometheus.HistogramVec
	clampsTotal  *prometheus.CounterVec
	feedFetches  *prometheus.CounterVec
	feedbackSent *prometheus.CounterVec

	consecutiveFailures *prometheus.GaugeVec
	modbusLatency       *prometheus.HistogramVec
)

// Init registers the executor metrics on the default registry.
func Init() {
	registerOnce.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ticks_total",
				Help: "Total control ticks by installation, trigger and outcome",
			},
			[]string{"installation", "trigger", "outcome"},
		)
		tickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Control tick duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
			},
			[]string{"installation"},
		)
		stepsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "steps_total",
				Help: "Total device command steps by installation, step and outcome",
			},
			[]string{"installation", "step", "outcome"},
		)
		stepLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "step_latency_seconds",
				Help:    "Device command step latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"installation", "step"},
		)
		clampsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "safety_clamps_total",
				Help: "Total requested power values clamped to the configured bounds",
			},
			[]string{"installation"},
		)
		feedFetches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feed_fetches_total",
				Help: "Total decision feed pulls by result",
			},
			[]string{"installation", "result"},
		)
		feedbackSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "feedback_reports_total",
				Help: "Total feedback reports by result",
			},
			[]string{"installation", "result"},
		)
		consecutiveFailures = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consecutive_failures",
				Help: "Consecutive failed ticks per installation",
			},
			[]string{"installation"},
		)
		modbusLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "modbus_latency_seconds",
				Help:    "Modbus register operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		)
		prometheus.MustRegister(
			ticksTotal,
			tickLatency,
			stepsTotal,
			stepLatency,
			clampsTotal,
			feedFetches,
			feedbackSent,
			consecutiveFailures,
			modbusLatency,
		)
	})
}

// ObserveTick records one finished tick.
func ObserveTick(installation, trigger, outcome string, duration time.Duration) {
	if ticksTotal != nil {
		ticksTotal.WithLabelValues(installation, trigger, outcome).Inc()
	}
	if tickLatency != nil {
		tickLatency.WithLabelValues(installation).Observe(duration.Seconds())
	}
}

func ObserveStep(installation, step, outcome string, duration time.Duration) {
	if stepsTotal != nil {
		stepsTotal.WithLabelValues(installation, step, outcome).Inc()
	}
	if stepLatency != nil {
		stepLatency.WithLabelValues(installation, step).Observe(duration.Seconds())
	}
}

func IncClamp(installation string) {
	if clampsTotal != nil {
		clampsTotal.WithLabelValues(installation).Inc()
	}
}

func IncFeedFetch(installation string, err error) {
	if feedFetches != nil {
		feedFetches.WithLabelValues(installation, result(err)).Inc()
	}
}

func IncFeedback(installation string, err error) {
	if feedbackSent != nil {
		feedbackSent.WithLabelValues(installation, result(err)).Inc()
	}
}

func SetConsecutiveFailures(installation string, count int) {
	if consecutiveFailures != nil {
		consecutiveFailures.WithLabelValues(installation).Set(float64(count))
	}
}

// ObserveModbus matches the register client instrumentation hook.
func ObserveModbus(operation string, duration time.Duration) {
	if modbusLatency != nil {
		modbusLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
