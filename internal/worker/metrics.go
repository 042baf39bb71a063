package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relayq_jobs_claimed_total",
		Help: "Total number of jobs claimed by this worker",
	})
	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayq_jobs_completed_total",
		Help: "Total number of jobs completed, by kind",
	}, []string{"kind"})
	jobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayq_jobs_failed_total",
		Help: "Total number of failed job executions, by kind",
	}, []string{"kind"})
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relayq_job_duration_seconds",
		Help:    "Job execution duration in seconds, by kind",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
