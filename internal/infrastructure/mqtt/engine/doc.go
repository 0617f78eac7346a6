// Package engine provides the MQTT engines used by the negotiating client.
//
// Two engines are available:
//   - legacy: MQTT 3.1 and 3.1.1 on eclipse/paho.mqtt.golang
//   - modern: MQTT 5 on eclipse/paho.golang
//
// Both support plain TCP, TLS, WebSocket and secure WebSocket transports.
// Factory picks the engine from the requested protocol level.
//
// Engines never reconnect on their own. Reconnection and protocol fallback
// are decided by the mqtt.Client that owns them.
package engine
