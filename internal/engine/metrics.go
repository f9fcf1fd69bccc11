package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotjobs_jobs_submitted_total",
			Help: "Jobs created by Submit or Immediate.",
		},
		[]string{"kind"},
	)

	jobsCoalesced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotjobs_jobs_coalesced_total",
			Help: "Submissions answered with an existing equivalent job.",
		},
		[]string{"kind"},
	)

	jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depotjobs_jobs_completed_total",
			Help: "Jobs that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depotjobs_job_duration_seconds",
			Help:    "Time from STARTED to a terminal status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	jobsQueued = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depotjobs_jobs_queued",
		Help: "Jobs currently QUEUED.",
	})

	jobsStarted = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "depotjobs_jobs_started",
		Help: "Jobs currently STARTED.",
	})
)

func init() {
	prometheus.MustRegister(jobsSubmitted)
	prometheus.MustRegister(jobsCoalesced)
	prometheus.MustRegister(jobsCompleted)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsQueued)
	prometheus.MustRegister(jobsStarted)
}
