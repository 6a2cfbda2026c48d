package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("utm_source", "facebook"),
		attribute.String("session_id", "sess_1"),
		attribute.String("currency", "USD"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "utm_source" && attrs[1].Key != "utm_source" {
		t.Fatalf("expected utm_source to be retained")
	}
	if attrs[0].Key != "currency" && attrs[1].Key != "currency" {
		t.Fatalf("expected currency to be retained")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordClick(context.Background(), "google")
	m.RecordConversion(context.Background(), true, 10, "USD")
	m.RecordOverwrite(context.Background(), "click")
	m.RecordSessionsExpired(context.Background(), 2)
	m.RecordRateLimitAllowed(context.Background(), "track")
	m.RecordRateLimitDenied(context.Background(), "track", "exceeded")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordClick(context.Background(), "")
}

func TestRecordConversionAddsRevenue(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{ServiceName: "attribution-test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordConversion(ctx, true, 99.5, "USD")
	m.RecordConversion(ctx, false, 0.5, "USD")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var revenue float64
	var conversions int64
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			switch md.Name {
			case "attribution_conversion_revenue_total":
				sum, ok := md.Data.(metricdata.Sum[float64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					revenue += dp.Value
					v, _ := dp.Attributes.Value("currency")
					assert.Equal(t, "USD", v.AsString())
				}
			case "attribution_conversions_total":
				sum, ok := md.Data.(metricdata.Sum[int64])
				require.True(t, ok)
				for _, dp := range sum.DataPoints {
					conversions += dp.Value
				}
			}
		}
	}
	assert.InDelta(t, 100.0, revenue, 0.0001)
	assert.Equal(t, int64(2), conversions)
}
