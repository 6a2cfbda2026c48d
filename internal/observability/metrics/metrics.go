package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	clicksIngested   metric.Int64Counter
	conversions      metric.Int64Counter
	revenue          metric.Float64Counter
	overwrites       metric.Int64Counter
	sessionsExpired  metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "attribution"
	}
	meter := provider.Meter(name)

	clicksIngested, err := meter.Int64Counter("attribution_clicks_ingested_total")
	if err != nil {
		return nil, err
	}
	conversions, err := meter.Int64Counter("attribution_conversions_total")
	if err != nil {
		return nil, err
	}
	revenue, err := meter.Float64Counter("attribution_conversion_revenue_total")
	if err != nil {
		return nil, err
	}
	overwrites, err := meter.Int64Counter("attribution_key_overwrites_total")
	if err != nil {
		return nil, err
	}
	sessionsExpired, err := meter.Int64Counter("attribution_sessions_expired_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("attribution_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("attribution_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		clicksIngested:   clicksIngested,
		conversions:      conversions,
		revenue:          revenue,
		overwrites:       overwrites,
		sessionsExpired:  sessionsExpired,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordClick increments ingested click counts.
func (m *Metrics) RecordClick(ctx context.Context, utmSource string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("utm_source", labelOrNone(strings.ToLower(utmSource))))
	m.clicksIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConversion increments conversion counts and adds the revenue.
func (m *Metrics) RecordConversion(ctx context.Context, attributed bool, revenue float64, currency string) {
	if m == nil {
		return
	}
	m.conversions.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.Bool("attributed", attributed))...))
	m.revenue.Add(ctx, revenue, metric.WithAttributes(FilterAttributes(attribute.String("currency", labelOrNone(currency)))...))
}

// RecordOverwrite counts a store write that replaced an earlier record of the given kind.
func (m *Metrics) RecordOverwrite(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.overwrites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionsExpired adds the number of clicks removed by one sweep.
func (m *Metrics) RecordSessionsExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sessionsExpired.Add(ctx, int64(count))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func labelOrNone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "none"
	}
	return value
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"utm_source":  {},
	"attributed":  {},
	"currency":    {},
	"kind":        {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
