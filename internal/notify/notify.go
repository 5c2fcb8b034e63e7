// Package notify connects the engine to the outside world over NATS:
// outcome notifications for external observers, and the failure-report
// intake that drives the remediation pipeline.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// OutcomeEvent is published after every recorded outcome. Consumers are
// external; the engine only emits.
type OutcomeEvent struct {
	SolutionID     string    `json:"solution_id"`
	ErrorSignature string    `json:"error_signature"`
	Success        bool      `json:"success"`
	Performance    float64   `json:"performance"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Notifier publishes outcome events.
type Notifier struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNotifier creates a notifier. Default subject: "healerd.outcomes".
func NewNotifier(conn *nats.Conn, subject string, logger *zap.Logger) (*Notifier, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		subject = "healerd.outcomes"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{conn: conn, subject: subject, logger: logger}, nil
}

// PublishOutcome emits one event. Publish failures are logged, never
// returned: observability must not disturb the decision path.
func (n *Notifier) PublishOutcome(event OutcomeEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to encode outcome event", zap.Error(err))
		return
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		n.logger.Warn("failed to publish outcome event",
			zap.String("subject", n.subject),
			zap.String("solution_id", event.SolutionID),
			zap.Error(err),
		)
	}
}

// Handler processes one decoded failure report.
type Handler func(ctx context.Context, payload []byte)

// IntakeConsumer subscribes to the failure-report subject and hands
// each report to the pipeline handler.
type IntakeConsumer struct {
	conn    *nats.Conn
	subject string
	handler Handler
	logger  *zap.Logger

	sub *nats.Subscription
}

// NewIntakeConsumer creates a consumer. Default subject:
// "healerd.failures".
func NewIntakeConsumer(conn *nats.Conn, subject string, handler Handler, logger *zap.Logger) (*IntakeConsumer, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if subject == "" {
		subject = "healerd.failures"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntakeConsumer{conn: conn, subject: subject, handler: handler, logger: logger}, nil
}

// Start subscribes. Each report is handled on its own goroutine so a
// slow remediation never blocks intake.
func (c *IntakeConsumer) Start(ctx context.Context) error {
	sub, err := c.conn.Subscribe(c.subject, func(msg *nats.Msg) {
		go c.handler(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("failure intake started", zap.String("subject", c.subject))
	return nil
}

// Stop unsubscribes.
func (c *IntakeConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Unsubscribe()
}
