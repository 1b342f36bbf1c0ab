package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncDroppedIncrementsLabeledCounter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncDropped("banned_or_degenerate", 3)

	metric := &dto.Metric{}
	require.NoError(t, m.OrdersDropped.WithLabelValues("banned_or_degenerate").Write(metric))
	assert.Equal(t, float64(3), metric.GetCounter().GetValue())
}

func TestObserveBuildDurationIncrementsAuctionsBuilt(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBuildDuration(50 * time.Millisecond)

	metric := &dto.Metric{}
	require.NoError(t, m.AuctionsBuilt.Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
