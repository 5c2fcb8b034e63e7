// Package dispatch sends chosen solutions to the sandboxed execution
// worker and reports the observed outcome.
//
// The engine never executes remediation actions, least of all fetched
// code, in its own process. Application happens in an isolated worker
// reached over NATS request/reply, resource- and time-bounded on the
// worker side. An execution failure is an outcome to learn from, not an
// error to propagate.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/healerd/internal/solution"
)

// ErrExecutionTimeout indicates the worker did not reply in time.
var ErrExecutionTimeout = errors.New("execution timed out")

// Outcome is the worker's report for one applied solution.
type Outcome struct {
	// Success reports whether the action resolved the failure.
	Success bool `json:"success"`

	// Performance is an optional worker-measured quality signal.
	Performance float64 `json:"performance"`

	// Detail is an optional human-readable explanation.
	Detail string `json:"detail,omitempty"`
}

// Dispatcher applies a solution and reports the outcome.
type Dispatcher interface {
	Apply(ctx context.Context, sol *solution.Solution) (Outcome, error)
}

// Config configures the NATS dispatcher.
type Config struct {
	// Subject is the worker's request subject.
	// Default: "healerd.execute".
	Subject string

	// Timeout bounds one application end to end. Default: 30s.
	Timeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Subject == "" {
		c.Subject = "healerd.execute"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// NATSDispatcher reaches the sandboxed executor over request/reply.
type NATSDispatcher struct {
	conn   *nats.Conn
	config Config
	logger *zap.Logger
}

// NewNATSDispatcher creates a dispatcher over an established connection.
func NewNATSDispatcher(conn *nats.Conn, config Config, logger *zap.Logger) (*NATSDispatcher, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSDispatcher{conn: conn, config: config, logger: logger}, nil
}

// Apply implements Dispatcher.
func (d *NATSDispatcher) Apply(ctx context.Context, sol *solution.Solution) (Outcome, error) {
	payload, err := json.Marshal(sol)
	if err != nil {
		return Outcome{}, fmt.Errorf("encoding solution %s: %w", sol.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	msg, err := d.conn.RequestWithContext(ctx, d.config.Subject, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, fmt.Errorf("%w: %s after %s", ErrExecutionTimeout, sol.ID, d.config.Timeout)
		}
		return Outcome{}, fmt.Errorf("dispatching solution %s: %w", sol.ID, err)
	}

	var outcome Outcome
	if err := json.Unmarshal(msg.Data, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("decoding outcome for %s: %w", sol.ID, err)
	}

	d.logger.Debug("solution applied",
		zap.String("solution_id", sol.ID),
		zap.Bool("success", outcome.Success),
		zap.Float64("performance", outcome.Performance),
	)
	return outcome, nil
}
