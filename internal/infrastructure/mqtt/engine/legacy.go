package engine

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/locator"
)

// Disconnect quiesce time in milliseconds for pending operations.
const legacyDisconnectQuiesce = 250

// legacyEngine speaks MQTT 3.1 and 3.1.1 through paho.mqtt.golang.
//
// paho's own reconnect logic is disabled; a lost session is reported once
// and the engine is done.
type legacyEngine struct {
	client pahomqtt.Client
	sink   mqtt.EventSink
	url    string

	stopped atomic.Bool
	ids     atomic.Uint32
}

func newLegacyEngine(cfg mqtt.EngineConfig, parts locator.Parts, tlsCfg *tls.Config, sink mqtt.EventSink, timeouts Timeouts) *legacyEngine {
	e := &legacyEngine{
		sink: sink,
		url:  dialURL(parts),
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(e.url)
	opts.SetClientID(cfg.ClientID)
	opts.SetProtocolVersion(uint(cfg.Protocol))
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(timeouts.Connect)
	opts.SetWriteTimeout(timeouts.Write)

	// Reconnection belongs to the negotiating client
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	// Subscriptions are made without a callback, so every message lands here
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		e.post(mqtt.Event{
			Kind:      mqtt.EventMessage,
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			MessageID: int(msg.MessageID()),
		})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		e.post(mqtt.Event{
			Kind: mqtt.EventDisconnected,
			Err:  fmt.Errorf("%w: %w", mqtt.ErrTransport, err),
		})
	})

	e.client = pahomqtt.NewClient(opts)
	return e
}

// Start begins connecting. The outcome is posted once the CONNACK arrives
// or the attempt fails.
func (e *legacyEngine) Start() error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}

	token := e.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			e.post(mqtt.Event{
				Kind: mqtt.EventConnectFailed,
				Err:  fmt.Errorf("connecting to %s: %w", e.url, err),
			})
			return
		}

		var sessionPresent bool
		if ct, ok := token.(*pahomqtt.ConnectToken); ok {
			sessionPresent = ct.SessionPresent()
		}
		e.post(mqtt.Event{Kind: mqtt.EventConnected, SessionPresent: sessionPresent})
	}()

	return nil
}

// Stop disconnects. No events are posted afterwards.
func (e *legacyEngine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}
	// Disconnect also aborts an attempt that is still connecting
	e.client.Disconnect(legacyDisconnectQuiesce)
}

func (e *legacyEngine) Publish(topic string, payload []byte, qos byte, retained bool) (int, error) {
	if e.stopped.Load() {
		return -1, ErrEngineStopped
	}
	if !e.client.IsConnectionOpen() {
		return -1, ErrNotReady
	}

	token := e.client.Publish(topic, qos, retained, payload)

	id := 0
	if pt, ok := token.(*pahomqtt.PublishToken); ok {
		id = int(pt.MessageID())
	}
	go e.awaitAck(token, mqtt.EventPublished, topic, id)

	return id, nil
}

func (e *legacyEngine) Subscribe(topic string, qos byte) (int, error) {
	if e.stopped.Load() {
		return -1, ErrEngineStopped
	}
	if !e.client.IsConnectionOpen() {
		return -1, ErrNotReady
	}

	id := int(e.ids.Add(1))
	token := e.client.Subscribe(topic, qos, nil)
	go e.awaitAck(token, mqtt.EventSubscribed, topic, id)

	return id, nil
}

func (e *legacyEngine) Unsubscribe(topic string) (int, error) {
	if e.stopped.Load() {
		return -1, ErrEngineStopped
	}
	if !e.client.IsConnectionOpen() {
		return -1, ErrNotReady
	}

	id := int(e.ids.Add(1))
	token := e.client.Unsubscribe(topic)
	go e.awaitAck(token, mqtt.EventUnsubscribed, topic, id)

	return id, nil
}

// awaitAck reports the outcome of a token as a diagnostic event.
func (e *legacyEngine) awaitAck(token pahomqtt.Token, kind mqtt.EventKind, topic string, id int) {
	if !token.WaitTimeout(ackTimeout) {
		e.post(mqtt.Event{
			Kind:      kind,
			Topic:     topic,
			MessageID: id,
			Err:       fmt.Errorf("no acknowledgement after %v", ackTimeout),
		})
		return
	}
	e.post(mqtt.Event{Kind: kind, Topic: topic, MessageID: id, Err: token.Error()})
}

func (e *legacyEngine) post(ev mqtt.Event) {
	if e.stopped.Load() {
		return
	}
	e.sink.Post(ev)
}

// ackTimeout bounds the wait for PUBACK, SUBACK and UNSUBACK.
const ackTimeout = 30 * time.Second
