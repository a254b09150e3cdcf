package metrics

import "time"

// JobCompleted records a successful job completion
func JobCompleted(jobType string, duration time.Duration) {
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a job failure
func JobFailed(jobType string) {
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
}

// JobRetried records a job retry attempt
func JobRetried(jobType string) {
	JobRetriesTotal.WithLabelValues(jobType).Inc()
}

// SweepFinished records the end of a rollover sweep over accounts.
func SweepFinished(accounts int, err error) {
	if err != nil {
		SweepRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	SweepRunsTotal.WithLabelValues("completed").Inc()
	SweepAccounts.Set(float64(accounts))
}
