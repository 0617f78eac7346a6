package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
)

// Measurement names.
const (
	measurementNegotiation = "mqtt_negotiation"
	measurementMessages    = "mqtt_messages"
)

// WriteTransition records a negotiation state change.
//
// Tags carry the client, target state and protocol so dashboards can count
// fallbacks per broker; the previous state and reason are fields.
func (c *Client) WriteTransition(clientID string, t mqtt.Transition) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(transitionPoint(clientID, t))
}

// WriteMessage records an inbound message. The topic is a field, not a
// tag, to keep series cardinality bounded.
func (c *Client) WriteMessage(clientID string, protocol mqtt.ProtocolVersion, topic string, size int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(messagePoint(clientID, protocol, topic, size, time.Now()))
}

func transitionPoint(clientID string, t mqtt.Transition) *write.Point {
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := map[string]interface{}{
		"from":      t.From.String(),
		"reason":    t.Reason,
		"connected": t.To.Connected(),
		"fallback":  t.To.Fallback(),
	}
	if t.Err != nil {
		fields["error"] = t.Err.Error()
	}

	return write.NewPoint(
		measurementNegotiation,
		map[string]string{
			"client_id": clientID,
			"state":     t.To.String(),
			"protocol":  t.Protocol.String(),
		},
		fields,
		at,
	)
}

func messagePoint(clientID string, protocol mqtt.ProtocolVersion, topic string, size int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementMessages,
		map[string]string{
			"client_id": clientID,
			"protocol":  protocol.String(),
		},
		map[string]interface{}{
			"topic": topic,
			"bytes": size,
			"count": 1,
		},
		at,
	)
}
