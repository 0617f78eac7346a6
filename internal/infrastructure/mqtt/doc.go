// Package mqtt provides an MQTT client that negotiates its protocol level.
//
// This package manages:
//   - Broker addressing from a locator or discrete host/port fields
//   - A connection attempt with the preferred protocol (MQTT 5)
//   - Fallback to the legacy protocol (MQTT 3.1.1) when the preferred
//     attempt fails or a preferred session drops
//   - Publishing and subscriptions, restored on every reconnection
//   - Delivery of engine events to application callbacks
//
// # Architecture
//
// Network I/O is done by an Engine built per attempt by an EngineFactory.
// Engines report back through an EventSink; every notification passes
// through a bounded queue and is handled on one dispatch goroutine, which
// drives the state machine and runs the callbacks.
//
//	engine goroutines → EventSink → queue → dispatch → state machine → callbacks
//
// Each attempt gets a generation number. Events from an engine that was
// replaced or stopped are dropped.
//
// # States
//
//	Idle ─Connect→ AttemptingPreferred ─accepted→ Connected
//	AttemptingPreferred ─refused, fallback→ AttemptingFallback ─accepted→ ConnectedViaFallback
//	Connected ─lost, fallback→ ReconnectingFallback ─accepted→ ConnectedViaFallback
//	any active state ─Disconnect or exhausted→ Disconnected
//
// # Usage
//
//	client, err := mqtt.NewClient(engine.NewFactory())
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Begin("mqtts://broker.example.com"); err != nil {
//	    return err
//	}
//	client.SetProtocolFallback(true)
//	client.OnConnect(func(info mqtt.ConnectionInfo) {
//	    log.Printf("connected with MQTT %s", info.Protocol)
//	})
//	if err := client.Connect("sensor-01"); err != nil {
//	    return err
//	}
package mqtt
