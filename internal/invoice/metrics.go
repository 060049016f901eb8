package invoice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_desk_uploads_total",
		Help: "Upload pipeline runs by outcome.",
	}, []string{"outcome"})

	uploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "invoice_desk_upload_duration_seconds",
		Help:    "End-to-end upload pipeline duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_desk_submissions_total",
		Help: "Draft submissions by outcome.",
	}, []string{"outcome"})
)
