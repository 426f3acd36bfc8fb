// Package natsutil publishes fleet health events to NATS JetStream as
// CloudEvents and owns the NATS connection plumbing for the swarm.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/flightdeck/pkg/logger"
	"github.com/carverauto/flightdeck/pkg/models"
)

const (
	eventSource          = "flightdeck/swarm"
	deviceHealthType     = "com.carverauto.flightdeck.device.health"
	deviceHealthSubject  = "events.device.health"
	defaultSubjectFilter = "events.device.*"
)

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js     jetstream.JetStream
	stream string
	logger logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
func NewEventPublisher(js jetstream.JetStream, streamName string, log logger.Logger) *EventPublisher {
	return &EventPublisher{
		js:     js,
		stream: streamName,
		logger: log,
	}
}

// PublishDeviceHealthEvent publishes a device health transition to the events stream.
func (p *EventPublisher) PublishDeviceHealthEvent(ctx context.Context, data models.DeviceHealthEventData) error {
	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            deviceHealthType,
		DataContentType: "application/json",
		Subject:         deviceHealthSubject,
		Time:            &data.Timestamp,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal device health event: %w", err)
	}

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes)
	if err != nil {
		return fmt.Errorf("failed to publish device health event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("device_id", data.DeviceID).
		Str("current_state", data.CurrentState).
		Uint64("sequence", ack.Sequence).
		Msg("Published device health event")

	return nil
}

// PublishDeviceOfflineEvent publishes an event when a device's telemetry goes quiet.
func (p *EventPublisher) PublishDeviceOfflineEvent(ctx context.Context, deviceID, ip string, lastTelemetry time.Time) error {
	data := models.DeviceHealthEventData{
		DeviceID:      deviceID,
		IP:            ip,
		PreviousState: models.DeviceStateConnected,
		CurrentState:  models.DeviceStateUnreachable,
		Timestamp:     time.Now(),
		LastTelemetry: lastTelemetry,
	}

	return p.PublishDeviceHealthEvent(ctx, data)
}

// PublishDeviceRecoveredEvent publishes an event when an unreachable device
// answers a reconnect probe.
func (p *EventPublisher) PublishDeviceRecoveredEvent(ctx context.Context, deviceID, ip string, lastTelemetry time.Time) error {
	data := models.DeviceHealthEventData{
		DeviceID:       deviceID,
		IP:             ip,
		PreviousState:  models.DeviceStateUnreachable,
		CurrentState:   models.DeviceStateConnected,
		Timestamp:      time.Now(),
		LastTelemetry:  lastTelemetry,
		RecoveryReason: "probe_acknowledged",
	}

	return p.PublishDeviceHealthEvent(ctx, data)
}

// PublishDeviceFirstSeenEvent publishes an event when a device reports
// telemetry for the first time.
func (p *EventPublisher) PublishDeviceFirstSeenEvent(ctx context.Context, deviceID, ip string, timestamp time.Time) error {
	data := models.DeviceHealthEventData{
		DeviceID:      deviceID,
		IP:            ip,
		PreviousState: models.DeviceStateUnknown,
		CurrentState:  models.DeviceStateConnected,
		Timestamp:     timestamp,
		LastTelemetry: timestamp,
	}

	return p.PublishDeviceHealthEvent(ctx, data)
}

// ConnectWithEventPublisher creates a NATS connection with JetStream and returns an EventPublisher.
func ConnectWithEventPublisher(ctx context.Context, natsURL, streamName string, log logger.Logger, opts ...nats.Option) (*EventPublisher, *nats.Conn, error) {
	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	pub, err := CreateEventPublisherWithDomain(ctx, nc, "", streamName, nil, log)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	return pub, nc, nil
}

// ConnectWithSecurity creates a NATS connection using the fleet's security
// configuration. A nil security config connects in the clear.
func ConnectWithSecurity(ctx context.Context, natsURL string, security *models.SecurityConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	var opts []nats.Option

	if security != nil {
		tlsConf, err := TLSConfig(security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts,
			nats.Secure(tlsConf),
			nats.RootCAs(security.TLS.CAFile),
			nats.ClientCert(security.TLS.CertFile, security.TLS.KeyFile),
		)
	}

	opts = append(opts,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisher creates an EventPublisher for an existing NATS connection.
func CreateEventPublisher(ctx context.Context, nc *nats.Conn, streamName string, subjects []string, log logger.Logger) (*EventPublisher, error) {
	return CreateEventPublisherWithDomain(ctx, nc, "", streamName, subjects, log)
}

// CreateEventPublisherWithDomain creates an EventPublisher with optional NATS
// domain support. The stream is created when it does not exist yet, with a
// subject list guaranteed to cover the device health subject.
func CreateEventPublisherWithDomain(ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string, log logger.Logger) (*EventPublisher, error) {
	var js jetstream.JetStream

	var err error

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context with domain %s: %w", domain, err)
		}

		log.Debug().Str("domain", domain).Msg("Created JetStream context with domain")
	} else {
		js, err = jetstream.New(nc)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
	}

	if len(subjects) == 0 {
		subjects = []string{defaultSubjectFilter}
	}

	subjects = ensureSubjectList(subjects, deviceHealthSubject)

	_, err = js.Stream(ctx, streamName)
	if err != nil {
		if !isStreamMissingErr(err) {
			return nil, fmt.Errorf("failed to look up stream %s: %w", streamName, err)
		}

		streamConfig := jetstream.StreamConfig{
			Name:     streamName,
			Subjects: subjects,
		}

		if _, err = js.CreateOrUpdateStream(ctx, streamConfig); err != nil {
			return nil, fmt.Errorf("failed to create or get stream %s: %w", streamName, err)
		}

		log.Info().Str("stream", streamName).Strs("subjects", subjects).Msg("Created NATS JetStream stream")
	}

	return NewEventPublisher(js, streamName, log), nil
}

// ensureSubjectList returns subjects with subject appended unless an existing
// entry already covers it under NATS wildcard rules.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, pattern := range subjects {
		if matchesSubject(pattern, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject reports whether a NATS subject pattern covers subject.
// "*" matches exactly one token and ">" matches the remainder.
func matchesSubject(pattern, subject string) bool {
	patTokens := strings.Split(pattern, ".")
	subTokens := strings.Split(subject, ".")

	for i, tok := range patTokens {
		if tok == ">" {
			return true
		}

		if i >= len(subTokens) {
			return false
		}

		if tok != "*" && tok != subTokens[i] {
			return false
		}
	}

	return len(patTokens) == len(subTokens)
}

// isStreamMissingErr distinguishes a stream that does not exist yet from a
// lookup failure worth surfacing.
func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
