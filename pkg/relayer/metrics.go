package relayer

import (
	"time"

	"github.com/omnibridge/bridge-runtime/internal/metrics"
)

func observeTick(d time.Duration) {
	metrics.SchedulerTickDuration.Observe(d.Seconds())
}

func observeBatchSize(n int) {
	metrics.MintBatchSize.Observe(float64(n))
}

func observeOperationCreated(kind string) {
	metrics.OperationsTotal.WithLabelValues(kind, "created").Inc()
}

func observeOperationCompleted(kind string) {
	metrics.OperationsTotal.WithLabelValues(kind, "completed").Inc()
}

func observeTaskFailure(kind, disposition string) {
	metrics.TaskFailuresTotal.WithLabelValues(kind, disposition).Inc()
}
