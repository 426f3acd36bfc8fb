package comms

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName              = "flightdeck.comms"
	metricDatagramsTotal   = "comms_datagrams_received_total"
	metricDroppedTotal     = "comms_datagrams_dropped_total"
	metricRelayedTotal     = "comms_relay_forwarded_total"
	metricRelayErrorsTotal = "comms_relay_errors_total"
)

var (
	// instrumentation handles are cached globally to avoid re-registering OTEL instruments on every call.
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	receivedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	droppedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	relayedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	relayErrorCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	received, err := meter.Int64Counter(
		metricDatagramsTotal,
		metric.WithDescription("Total datagrams received on the shared fleet sockets"),
	)
	if err != nil {
		otel.Handle(err)
	}
	receivedCounter = received

	dropped, err := meter.Int64Counter(
		metricDroppedTotal,
		metric.WithDescription("Total datagrams dropped because no handler was registered for the source IP"),
	)
	if err != nil {
		otel.Handle(err)
	}
	droppedCounter = dropped

	relayed, err := meter.Int64Counter(
		metricRelayedTotal,
		metric.WithDescription("Total video datagrams forwarded to relay destinations"),
	)
	if err != nil {
		otel.Handle(err)
	}
	relayedCounter = relayed

	relayErrors, err := meter.Int64Counter(
		metricRelayErrorsTotal,
		metric.WithDescription("Total failed relay forward attempts"),
	)
	if err != nil {
		otel.Handle(err)
	}
	relayErrorCounter = relayErrors
}

func recordReceived(ctx context.Context, socket string) {
	meterOnce.Do(initMeter)
	if receivedCounter == nil {
		return
	}

	receivedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("socket", socket)))
}

func recordDropped(ctx context.Context, socket string) {
	meterOnce.Do(initMeter)
	if droppedCounter == nil {
		return
	}

	droppedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("socket", socket)))
}

func recordRelayed(ctx context.Context, port, destinations int) {
	if destinations == 0 {
		return
	}

	meterOnce.Do(initMeter)
	if relayedCounter == nil {
		return
	}

	relayedCounter.Add(ctx, int64(destinations), metric.WithAttributes(attribute.Int("port", port)))
}

func recordRelayError(ctx context.Context, port int) {
	meterOnce.Do(initMeter)
	if relayErrorCounter == nil {
		return
	}

	relayErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("port", port)))
}
