package payload

import "github.com/ethereum/go-ethereum/metrics"

var (
	initiatedJobsCounter = metrics.NewRegisteredCounter("initiated_jobs", nil)
	failedJobsCounter    = metrics.NewRegisteredCounter("failed_jobs", nil)
	activeJobsGauge      = metrics.NewRegisteredGauge("active_jobs", nil)

	// Revenue gauges track the fee total of the most recent best/resolved
	// payload. The metrics library carries no labels; the block number the
	// value belongs to is logged alongside each update.
	bestRevenueGauge     = metrics.NewRegisteredGaugeFloat64("best_revenue", nil)
	resolvedRevenueGauge = metrics.NewRegisteredGaugeFloat64("resolved_revenue", nil)
)
