package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegistration(t *testing.T) {
	t.Run("QueueOperationsTotal", func(t *testing.T) {
		QueueOperationsTotal.WithLabelValues("push", "success").Inc()
		val := testutil.ToFloat64(QueueOperationsTotal.WithLabelValues("push", "success"))
		if val < 1 {
			t.Errorf("expected QueueOperationsTotal to be at least 1, got %v", val)
		}
	})

	t.Run("QueueOperationDuration", func(t *testing.T) {
		// No-panic is the goal here; histograms don't expose a simple scalar value.
		QueueOperationDuration.WithLabelValues("push").Observe(0.01)
	})

	t.Run("IncDecConnection", func(t *testing.T) {
		before := testutil.ToFloat64(ActiveConnections)
		IncConnection()
		if testutil.ToFloat64(ActiveConnections) != before+1 {
			t.Errorf("expected ActiveConnections to increment")
		}
		DecConnection()
		if testutil.ToFloat64(ActiveConnections) != before {
			t.Errorf("expected ActiveConnections to decrement back")
		}
	})

	t.Run("RoomMembers", func(t *testing.T) {
		RoomMembers.WithLabelValues("lobby").Set(3)
		if testutil.ToFloat64(RoomMembers.WithLabelValues("lobby")) != 3 {
			t.Errorf("expected RoomMembers to report 3")
		}
	})
}
