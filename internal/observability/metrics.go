package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/atomlink/internal/protocol"
	"github.com/danmuck/atomlink/internal/protocol/frame"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atomlink",
			Subsystem: "session",
			Name:      "transactions_total",
			Help:      "Completed transactions by atom type and outcome.",
		},
		[]string{"port", "type", "result"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atomlink",
			Subsystem: "session",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction duration in seconds, retries included.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 1.5, 2.5, 5, 10},
		},
		[]string{"port", "type"},
	)
	transactionAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atomlink",
			Subsystem: "session",
			Name:      "transaction_attempts",
			Help:      "Attempts used per transaction.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		},
		[]string{"port", "type"},
	)
	wakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atomlink",
			Subsystem: "session",
			Name:      "wake_handshakes_total",
			Help:      "Wake handshakes by outcome.",
		},
		[]string{"port", "success"},
	)
	framesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atomlink",
			Subsystem: "session",
			Name:      "frames_rejected_total",
			Help:      "Received frames that ended an attempt without a usable response.",
		},
		[]string{"port", "reason"},
	)
	channelOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atomlink",
			Subsystem: "channel",
			Name:      "operations_total",
			Help:      "Channel operations by outcome.",
		},
		[]string{"port", "op", "result"},
	)
	channelBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atomlink",
			Subsystem: "channel",
			Name:      "bytes_total",
			Help:      "Channel payload bytes moved.",
		},
		[]string{"port", "op"},
	)
	channelsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "atomlink",
			Subsystem: "channel",
			Name:      "open",
			Help:      "Channels currently open.",
		},
		[]string{"port"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			transactions, transactionDuration, transactionAttempts, wakes,
			framesRejected, channelOps, channelBytes, channelsOpen,
		)
	})
}

// Metrics records engine and channel outcomes for one serial port. It
// satisfies both session.Observer and channel.Observer.
type Metrics struct {
	port string
}

func NewMetrics(port string) *Metrics {
	RegisterMetrics()
	return &Metrics{port: port}
}

func (m *Metrics) TransactionDone(t frame.Type, attempts int, elapsed time.Duration, err error) {
	typ := t.String()
	transactions.WithLabelValues(m.port, typ, resultLabel(err)).Inc()
	transactionDuration.WithLabelValues(m.port, typ).Observe(elapsed.Seconds())
	if attempts > 0 {
		transactionAttempts.WithLabelValues(m.port, typ).Observe(float64(attempts))
	}
}

func (m *Metrics) WakeDone(_ int, err error) {
	wakes.WithLabelValues(m.port, strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) FrameRejected(f protocol.Failure) {
	framesRejected.WithLabelValues(m.port, f.String()).Inc()
}

func (m *Metrics) ChannelOp(op string, bytes int, err error) {
	channelOps.WithLabelValues(m.port, op, resultLabel(err)).Inc()
	if bytes > 0 {
		channelBytes.WithLabelValues(m.port, op).Add(float64(bytes))
	}
}

func (m *Metrics) ChannelsOpen(n int) {
	channelsOpen.WithLabelValues(m.port).Set(float64(n))
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := protocol.KindOf(err); k != protocol.KindNone {
		return k.String()
	}
	return "error"
}
