package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_usage_records_dropped_total",
		Help: "Usage records dropped because the ledger buffer was full",
	})

	writeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aigateway_usage_write_failures_total",
		Help: "Usage record batches that failed to persist",
	})
)
