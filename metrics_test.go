package kronroe_test

import (
	"context"
	"testing"
	"time"

	"github.com/kronroe/kronroe"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordsOperationOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	var graph *kronroe.Graph
	metrics := kronroe.NewMetrics(reg, func() int {
		if graph == nil {
			return 0
		}
		return graph.VectorIndexSize()
	})

	g, err := kronroe.OpenInMemory(kronroe.Options{Metrics: metrics})
	require.NoError(t, err)
	defer g.Close()
	graph = g

	ctx := context.Background()
	_, err = g.AssertFact(ctx, "alice", "likes", kronroe.TextValue("coffee"), time.Now())
	require.NoError(t, err)

	_, err = g.FactByID(ctx, "nonexistent")
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	var total *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "kronroe_operations_total" {
			total = f
		}
	}
	require.NotNil(t, total)
	require.NotEmpty(t, total.Metric)
}

func TestMetricsObserveIsNilSafe(t *testing.T) {
	g, err := kronroe.OpenInMemory(kronroe.Options{})
	require.NoError(t, err)
	defer g.Close()

	_, err = g.AssertFact(context.Background(), "alice", "likes", kronroe.TextValue("coffee"), time.Now())
	require.NoError(t, err)
}
