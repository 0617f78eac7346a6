// Package influxdb writes MQTT negotiation telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - mqtt_negotiation: one point per state change of the client
//   - mqtt_messages: one point per inbound message
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mqttClient.OnTransition(func(t mqtt.Transition) {
//	    client.WriteTransition(clientID, t)
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; async failures are
// reported through SetOnError.
package influxdb
