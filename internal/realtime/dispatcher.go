package realtime

import (
	"fmt"
	"time"

	"github.com/mkhodary/chat-gateway/pkg/logger"
	"go.uber.org/multierr"
)

// DeliveryReport is the aggregated outcome of a fan-out. A caller
// broadcasting to many connections observes partial failure here without
// the fan-out ever halting on one bad connection.
type DeliveryReport struct {
	Delivered int
	Failed    int
	Err       error
}

// Dispatcher delivers payloads to live connections. Delivery is
// send-and-forget per connection: a failed enqueue is treated as a
// connection failure and the connection is handed to the failure callback
// for removal, never aborting delivery to the rest.
type Dispatcher struct {
	registry    *ConnectionRegistry
	sendTimeout time.Duration
	onFailure   func(*Connection, error)
}

// NewDispatcher creates a dispatcher over the given registry
func NewDispatcher(registry *ConnectionRegistry, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		sendTimeout: sendTimeout,
	}
}

// OnFailure sets the callback invoked for each connection whose delivery
// failed. Must be set before the dispatcher is used concurrently.
func (d *Dispatcher) OnFailure(fn func(*Connection, error)) {
	d.onFailure = fn
}

// SendToUser delivers a payload to every live connection of one user. A
// user with zero live connections is a silent no-op; durability is the
// notification-persistence layer's concern.
func (d *Dispatcher) SendToUser(userID string, payload []byte) DeliveryReport {
	return d.deliver(d.registry.GetByUser(userID), payload)
}

// BroadcastAll delivers a payload to every live connection of every user
func (d *Dispatcher) BroadcastAll(payload []byte) DeliveryReport {
	return d.deliver(d.registry.GetAll(), payload)
}

// BroadcastExcept delivers a payload to all live connections except those
// belonging to the excluded user
func (d *Dispatcher) BroadcastExcept(excludedUserID string, payload []byte) DeliveryReport {
	all := d.registry.GetAll()
	targets := make([]*Connection, 0, len(all))
	for _, conn := range all {
		if conn.UserID != excludedUserID {
			targets = append(targets, conn)
		}
	}
	return d.deliver(targets, payload)
}

// SendEnvelope delivers an envelope to one user's connections
func (d *Dispatcher) SendEnvelope(userID string, env ServerEnvelope) DeliveryReport {
	return d.SendToUser(userID, env.Encode())
}

func (d *Dispatcher) deliver(targets []*Connection, payload []byte) DeliveryReport {
	var report DeliveryReport

	for _, conn := range targets {
		err := conn.Enqueue(payload, d.sendTimeout)
		if err == nil {
			report.Delivered++
			logger.MessagesSent.Inc()
			continue
		}

		report.Failed++
		report.Err = multierr.Append(report.Err, fmt.Errorf("connection %s: %w", conn.ID, err))
		logger.MessagesFailed.Inc()
		logger.Debug("Delivery failed, dropping connection",
			logger.ErrorField(err),
			logger.String("connection_id", conn.ID),
			logger.String("user_id", conn.UserID),
		)
		if d.onFailure != nil {
			d.onFailure(conn, err)
		}
	}
	return report
}
