package communicator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "motorbox",
			Name:      "commands_total",
			Help:      "Controller commands by vendor and outcome.",
		},
		[]string{"vendor", "outcome"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "motorbox",
			Name:      "command_duration_seconds",
			Help:      "Round-trip time of controller commands.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"vendor"},
	)
)

// RegisterMetrics registers the command collectors on reg. Registering twice
// on the same registry is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{commandsTotal, commandDuration} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Outcome labels.
const (
	outcomeOK        = "ok"
	outcomeRejected  = "rejected"
	outcomeNoReply   = "no_reply"
	outcomeBadReply  = "bad_reply"
	outcomeTransport = "transport_error"
	outcomeCapable   = "not_supported"
)

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrRejected):
		return outcomeRejected
	case errors.Is(err, ErrNoReply):
		return outcomeNoReply
	case errors.Is(err, ErrUnexpectedReply):
		return outcomeBadReply
	case errors.Is(err, ErrNotSupported):
		return outcomeCapable
	default:
		return outcomeTransport
	}
}

func observe(vendor string, start time.Time, err error) {
	commandsTotal.WithLabelValues(vendor, outcome(err)).Inc()
	commandDuration.WithLabelValues(vendor).Observe(time.Since(start).Seconds())
}
