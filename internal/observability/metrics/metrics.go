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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	workEntryMutations metric.Int64Counter
	includedMinutes    metric.Int64Counter
	lowVolumeWarnings  metric.Int64Counter
	statusTransitions  metric.Int64Counter
	eventDeliveries    metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "supportdesk"
	}
	meter := provider.Meter(name)

	workEntryMutations, err := meter.Int64Counter("supportdesk_work_entry_mutations_total")
	if err != nil {
		return nil, err
	}
	includedMinutes, err := meter.Int64Counter("supportdesk_included_minutes_consumed_total")
	if err != nil {
		return nil, err
	}
	lowVolumeWarnings, err := meter.Int64Counter("supportdesk_low_volume_warnings_total")
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("supportdesk_ticket_status_transitions_total")
	if err != nil {
		return nil, err
	}
	eventDeliveries, err := meter.Int64Counter("supportdesk_event_deliveries_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("supportdesk_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		workEntryMutations: workEntryMutations,
		includedMinutes:    includedMinutes,
		lowVolumeWarnings:  lowVolumeWarnings,
		statusTransitions:  statusTransitions,
		eventDeliveries:    eventDeliveries,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordWorkEntryMutation counts ledger mutations by operation and volume source.
func (m *Metrics) RecordWorkEntryMutation(ctx context.Context, operation string, included bool) {
	if m == nil {
		return
	}
	source := "billable"
	if included {
		source = "included"
	}
	attrs := FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("volume_source", source),
	)
	m.workEntryMutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordIncludedMinutes adds net minutes drawn from included volume.
// Refunds are not subtracted; the counter tracks gross consumption.
func (m *Metrics) RecordIncludedMinutes(ctx context.Context, minutes int) {
	if m == nil || minutes <= 0 {
		return
	}
	m.includedMinutes.Add(ctx, int64(minutes))
}

func (m *Metrics) RecordLowVolumeWarning(ctx context.Context) {
	if m == nil {
		return
	}
	m.lowVolumeWarnings.Add(ctx, 1)
}

func (m *Metrics) RecordStatusTransition(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEventDelivery(ctx context.Context, eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("result", result),
	)
	m.eventDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
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
	"operation":     {},
	"volume_source": {},
	"status":        {},
	"reason":        {},
	"event_type":    {},
	"result":        {},
	"endpoint":      {},
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
