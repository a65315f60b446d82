package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "craftkeeper_api_requests_total",
		Help: "API requests by route template, method and status code",
	}, []string{"route", "method", "status"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "craftkeeper_api_request_duration_seconds",
		Help:    "API request handling time",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

func observeRequest(route, method string, status int, elapsed time.Duration) {
	requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
