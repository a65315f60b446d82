package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/energizer-project/craftkeeper/internal/ping"
)

var (
	targetUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "craftkeeper_target_up",
		Help: "1 if the last probe of the target completed, 0 otherwise",
	}, []string{"target"})
	targetLatency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "craftkeeper_target_latency_milliseconds",
		Help: "ping/pong round trip of the last successful probe",
	}, []string{"target"})
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftkeeper_probes_total",
		Help: "probes run, by outcome (online or the failure kind)",
	}, []string{"target", "result"})
	probeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "craftkeeper_probe_duration_seconds",
		Help:    "wall time of a whole probe, connect included",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"target"})
)

func observe(out ping.Outcome) {
	label := out.Target.String()

	probeDuration.WithLabelValues(label).Observe(out.Duration.Seconds())

	if out.Online() {
		targetUp.WithLabelValues(label).Set(1)
		targetLatency.WithLabelValues(label).Set(float64(out.Result().Latency))
		probesTotal.WithLabelValues(label, "online").Inc()
		return
	}

	targetUp.WithLabelValues(label).Set(0)
	probesTotal.WithLabelValues(label, out.Kind().String()).Inc()
}

func forget(target ping.Target) {
	label := target.String()
	targetUp.DeleteLabelValues(label)
	targetLatency.DeleteLabelValues(label)
	probeDuration.DeleteLabelValues(label)
	probesTotal.DeletePartialMatch(prometheus.Labels{"target": label})
}
