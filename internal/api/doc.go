// Package api implements the read-only status API of the mqttlink daemon.
//
// # Endpoints
//
// All routes live under /api/v1 and are read-only:
//
//	GET /health   component health (database, mqtt, influxdb); 503 when any fails
//	GET /status   negotiation snapshot of the MQTT client
//	GET /journal  recorded state changes; client_id, state, since, limit, offset
//	GET /locator  parse ?uri= or build from ?host=&port=&secure=&websocket=&path=
//	GET /ws       WebSocket stream of transitions and message metadata
//
// # WebSocket
//
// Two channels exist: negotiation.transition and mqtt.message. Clients pick
// them with ?channels=a,b on the upgrade request or with requests:
//
//	{"type":"subscribe","id":"1","channels":["negotiation.transition"]}
//	{"type":"unsubscribe","id":"2","channels":["mqtt.message"]}
//	{"type":"status","id":"3"}
//	{"type":"ping","id":"4"}
//
// Subscribing to negotiation.transition first replays the client status as a
// "status" frame, so a dashboard starts from the current state. Later frames
// have type "transition" (a journal entry) or "message" (topic and size).
//
// The server binds to 127.0.0.1 by default and has no authentication; expose
// it beyond localhost only behind a proxy that adds one.
package api
