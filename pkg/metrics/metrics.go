// Package metrics provides the bridge's OpenTelemetry metric instruments,
// recorded alongside the periodic stats log, and installs a Prometheus
// exporter as their reader. The exporter registers with the default
// Prometheus registerer; this package serves no HTTP endpoint for it.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "github.com/flowvox/voicebridge"

// Bridge holds every metric instrument the relay touches. All fields are
// safe for concurrent use; the underlying OTel instruments synchronize
// themselves. A Bridge must be created with NewBridge before use; there is
// no nil-safe zero value, matching the instrument fields in
// MrWong99-glyphoxa's internal/observe package.
type Bridge struct {
	activeSessions  metric.Int64UpDownCounter
	sessionsTotal   metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	bytesRelayed    metric.Int64Counter
	conversions     metric.Int64Counter
	controlMessages metric.Int64Counter
}

// InitProvider installs a Prometheus-backed OTel MeterProvider as the
// global provider and returns a shutdown func to flush it from a deferred
// call in main.
func InitProvider(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	if serviceName == "" {
		serviceName = "voicebridge"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}

// NewBridge creates the bridge's metric instruments against the global
// meter provider. Safe to call without InitProvider (e.g. in tests): absent
// an installed provider, otel.Meter returns the no-op default and every
// instrument call below becomes a harmless no-op.
func NewBridge() (*Bridge, error) {
	meter := otel.Meter(meterName)

	activeSessions, err := meter.Int64UpDownCounter("voicebridge.sessions.active",
		metric.WithDescription("Number of currently active bridge sessions"))
	if err != nil {
		return nil, err
	}

	sessionsTotal, err := meter.Int64Counter("voicebridge.sessions.total",
		metric.WithDescription("Total bridge sessions activated"))
	if err != nil {
		return nil, err
	}

	sessionsClosed, err := meter.Int64Counter("voicebridge.sessions.closed",
		metric.WithDescription("Total bridge sessions closed, by reason"))
	if err != nil {
		return nil, err
	}

	bytesRelayed, err := meter.Int64Counter("voicebridge.bytes.relayed",
		metric.WithDescription("Audio bytes relayed, by direction"))
	if err != nil {
		return nil, err
	}

	conversions, err := meter.Int64Counter("voicebridge.conversions.total",
		metric.WithDescription("Audio frames passed through a transform pipeline"))
	if err != nil {
		return nil, err
	}

	controlMessages, err := meter.Int64Counter("voicebridge.control_messages.total",
		metric.WithDescription("Upstream JSON control messages relayed, by classified type"))
	if err != nil {
		return nil, err
	}

	return &Bridge{
		activeSessions:  activeSessions,
		sessionsTotal:   sessionsTotal,
		sessionsClosed:  sessionsClosed,
		bytesRelayed:    bytesRelayed,
		conversions:     conversions,
		controlMessages: controlMessages,
	}, nil
}

// SessionActivated records a session transitioning to Active.
func (b *Bridge) SessionActivated() {
	ctx := context.Background()
	b.activeSessions.Add(ctx, 1)
	b.sessionsTotal.Add(ctx, 1)
}

// SessionClosed records a session's closure, tagged with its reason.
func (b *Bridge) SessionClosed(reason string) {
	ctx := context.Background()
	b.activeSessions.Add(ctx, -1)
	b.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// BytesRelayed records bytes forwarded in a given direction.
func (b *Bridge) BytesRelayed(direction string, n int) {
	b.bytesRelayed.Add(context.Background(), int64(n), metric.WithAttributes(attribute.String("direction", direction)))
	b.conversions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// ControlMessageRelayed records a JSON control message relayed from
// upstream to the client, tagged with its classified type.
func (b *Bridge) ControlMessageRelayed(msgType string) {
	b.controlMessages.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msgType)))
}
