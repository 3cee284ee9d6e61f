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
	creditChecks     metric.Int64Counter
	reservations     metric.Int64Counter
	payments         metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	driftCorrections metric.Int64Counter
	debtAlerts       metric.Int64Counter
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
		name = "debtor"
	}
	meter := provider.Meter(name)

	creditChecks, err := meter.Int64Counter("debtor_credit_checks_total")
	if err != nil {
		return nil, err
	}
	reservations, err := meter.Int64Counter("debtor_credit_reservations_total")
	if err != nil {
		return nil, err
	}
	payments, err := meter.Int64Counter("debtor_payments_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("debtor_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	driftCorrections, err := meter.Int64Counter("debtor_balance_drift_corrections_total")
	if err != nil {
		return nil, err
	}
	debtAlerts, err := meter.Int64Counter("debtor_debt_alerts_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("debtor_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditChecks:     creditChecks,
		reservations:     reservations,
		payments:         payments,
		ledgerEntries:    ledgerEntries,
		driftCorrections: driftCorrections,
		debtAlerts:       debtAlerts,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordCreditCheck increments credit check counts by outcome.
func (m *Metrics) RecordCreditCheck(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.creditChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReservation increments committed reservation counts.
func (m *Metrics) RecordReservation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.reservations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment increments recorded payment counts.
func (m *Metrics) RecordPayment(ctx context.Context) {
	if m == nil {
		return
	}
	m.payments.Add(ctx, 1)
}

// RecordLedgerEntry increments ledger append counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, transactionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(transactionType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDriftCorrection increments balance drift correction counts.
func (m *Metrics) RecordDriftCorrection(ctx context.Context) {
	if m == nil {
		return
	}
	m.driftCorrections.Add(ctx, 1)
}

// RecordDebtAlert increments debt alert counts by state transition.
func (m *Metrics) RecordDebtAlert(ctx context.Context, transition string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transition", strings.TrimSpace(transition)))
	m.debtAlerts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, orgID, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"org_id":           {},
	"endpoint":         {},
	"status_code":      {},
	"outcome":          {},
	"transaction_type": {},
	"transition":       {},
	"reason":           {},
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
