package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// Publisher emits booking events onto a queue.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// PublishAppointmentConfirmed sends an appointment.confirmed envelope.
func (p *Publisher) PublishAppointmentConfirmed(ctx context.Context, evt AppointmentConfirmed) error {
	env, err := newEnvelope(TypeAppointmentConfirmed, evt.ConfirmedAt, evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("events: publish %s: %w", TypeAppointmentConfirmed, err)
	}
	p.logger.Debug("event published", "event_id", env.ID, "type", env.Type, "appointment_id", evt.AppointmentID)
	return nil
}
