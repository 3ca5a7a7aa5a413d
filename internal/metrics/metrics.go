// Package metrics exposes prometheus counters and histograms for dispatched
// ATA commands, vectored by opcode and outcome, the way
// open-source-firmware-go-tcg-storage's tcgdiskstat exposes drive-health
// gauges with the same client library.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Seagate/opensea-transport-sub000/internal/dispatch"
)

// Recorder implements dispatch.Recorder, wiring PassthroughDispatcher's
// per-command outcomes into prometheus.
type Recorder struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// New registers and returns a Recorder. Callers typically register it once
// against prometheus.DefaultRegisterer at process startup.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "satl",
			Subsystem: "command",
			Name:      "duration_seconds",
			Help:      "Time spent executing one ATA pass-through command, by ATA command code.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"ata_command"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "satl",
			Subsystem: "command",
			Name:      "outcomes_total",
			Help:      "Count of dispatched ATA pass-through commands by final outcome.",
		}, []string{"ata_command", "outcome"}),
	}
	reg.MustRegister(r.duration, r.outcomes)
	return r
}

// Observe implements dispatch.Recorder without dispatch needing to import
// this package (dispatch.Dispatcher.Metrics is an interface).
func (r *Recorder) Observe(opcode byte, outcome dispatch.FinalOutcome, dur time.Duration) {
	label := opcodeLabel(opcode)
	r.duration.WithLabelValues(label).Observe(dur.Seconds())
	r.outcomes.WithLabelValues(label, outcome.String()).Inc()
}

func opcodeLabel(opcode byte) string {
	return "0x" + hexByte(opcode)
}

const hexDigits = "0123456789abcdef"

func hexByte(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}
