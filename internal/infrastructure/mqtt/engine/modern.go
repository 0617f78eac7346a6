package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/locator"
)

// modernEngine speaks MQTT 5 through paho.golang.
//
// paho.golang works on an established net.Conn, so the engine does its own
// dialing for every transport.
type modernEngine struct {
	cfg      mqtt.EngineConfig
	parts    locator.Parts
	tls      *tls.Config
	sink     mqtt.EventSink
	timeouts Timeouts

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	client *paho.Client
	conn   net.Conn

	// sessMu guards the session flags. A loss reported by paho before
	// Connect returns is held in early and reported after EventConnected.
	sessMu    sync.Mutex
	connected bool
	lost      bool
	early     error

	started atomic.Bool
	stopped atomic.Bool
	ids     atomic.Uint32
}

func newModernEngine(cfg mqtt.EngineConfig, parts locator.Parts, tlsCfg *tls.Config, sink mqtt.EventSink, timeouts Timeouts) *modernEngine {
	ctx, cancel := context.WithCancel(context.Background())
	return &modernEngine{
		cfg:      cfg,
		parts:    parts,
		tls:      tlsCfg,
		sink:     sink,
		timeouts: timeouts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start dials and connects in the background.
func (e *modernEngine) Start() error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine: already started")
	}

	go e.run()
	return nil
}

func (e *modernEngine) run() {
	connectCtx, cancel := context.WithTimeout(e.ctx, e.timeouts.Connect)
	defer cancel()

	conn, err := dial(connectCtx, e.ctx, e.parts, e.tls)
	if err != nil {
		e.post(mqtt.Event{
			Kind: mqtt.EventConnectFailed,
			Err:  fmt.Errorf("%w: %w", mqtt.ErrTransport, err),
		})
		return
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: e.cfg.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				e.post(mqtt.Event{
					Kind:      mqtt.EventMessage,
					Topic:     pr.Packet.Topic,
					Payload:   pr.Packet.Payload,
					MessageID: int(pr.Packet.PacketID),
				})
				return true, nil
			},
		},
		OnClientError: func(err error) {
			e.sessionLost(fmt.Errorf("%w: %w", mqtt.ErrTransport, err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			e.sessionLost(fmt.Errorf("%w: server sent DISCONNECT: %s", mqtt.ErrTransport, reasonName(d.ReasonCode)))
		},
	})

	e.mu.Lock()
	if e.stopped.Load() {
		e.mu.Unlock()
		_ = conn.Close()
		return
	}
	e.client = client
	e.conn = conn
	e.mu.Unlock()

	ca, err := client.Connect(connectCtx, e.connectPacket())
	if err == nil && ca != nil && ca.ReasonCode != 0 {
		err = fmt.Errorf("CONNACK refused: %s", reasonName(ca.ReasonCode))
	}
	if err != nil {
		_ = conn.Close()
		e.post(mqtt.Event{
			Kind: mqtt.EventConnectFailed,
			Err:  fmt.Errorf("connecting to %s: %w", webSocketOrHost(e.parts), err),
		})
		return
	}

	e.established(ca.SessionPresent)
}

// established marks the session as accepted and reports it. A loss that
// raced the CONNACK is reported right after, so the client never keeps a
// dead session.
func (e *modernEngine) established(sessionPresent bool) {
	e.sessMu.Lock()
	e.connected = true
	early := e.early
	if early != nil {
		e.lost = true
	}
	e.sessMu.Unlock()

	e.post(mqtt.Event{Kind: mqtt.EventConnected, SessionPresent: sessionPresent})
	if early != nil {
		e.post(mqtt.Event{Kind: mqtt.EventDisconnected, Err: early})
	}
}

func (e *modernEngine) connectPacket() *paho.Connect {
	cp := &paho.Connect{
		ClientID:   e.cfg.ClientID,
		KeepAlive:  uint16(e.cfg.KeepAlive.Seconds()), //nolint:gosec // clamped by the client setter
		CleanStart: true,
	}
	if e.cfg.Username != "" {
		cp.Username = e.cfg.Username
		cp.UsernameFlag = true
	}
	if e.cfg.Password != "" {
		cp.Password = []byte(e.cfg.Password)
		cp.PasswordFlag = true
	}
	return cp
}

// sessionLost reports the end of an accepted session, once. Before the
// session is accepted only the first loss is kept; if Connect fails too,
// run reports the failure and the kept loss is never posted.
func (e *modernEngine) sessionLost(err error) {
	e.sessMu.Lock()
	if !e.connected {
		if e.early == nil {
			e.early = err
		}
		e.sessMu.Unlock()
		return
	}
	if e.lost {
		e.sessMu.Unlock()
		return
	}
	e.lost = true
	e.sessMu.Unlock()

	e.post(mqtt.Event{Kind: mqtt.EventDisconnected, Err: err})
}

// live reports whether the session is accepted and not yet lost.
func (e *modernEngine) live() bool {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.connected && !e.lost
}

// Stop sends DISCONNECT if a session is up and closes the connection.
func (e *modernEngine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	client, conn := e.client, e.conn
	e.mu.Unlock()

	if client != nil && e.live() {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	if conn != nil {
		_ = conn.Close()
	}
	e.cancel()
}

func (e *modernEngine) session() (*paho.Client, error) {
	if e.stopped.Load() {
		return nil, ErrEngineStopped
	}
	if !e.live() {
		return nil, ErrNotReady
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client, nil
}

func (e *modernEngine) Publish(topic string, payload []byte, qos byte, retained bool) (int, error) {
	client, err := e.session()
	if err != nil {
		return -1, err
	}

	// QoS 0 has no packet identifier.
	var id int
	if qos > 0 {
		id = int(e.ids.Add(1))
	}
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, ackTimeout)
		defer cancel()
		_, err := client.Publish(ctx, &paho.Publish{
			Topic:   topic,
			QoS:     qos,
			Retain:  retained,
			Payload: payload,
		})
		e.post(mqtt.Event{Kind: mqtt.EventPublished, Topic: topic, MessageID: id, Err: err})
	}()

	return id, nil
}

func (e *modernEngine) Subscribe(topic string, qos byte) (int, error) {
	client, err := e.session()
	if err != nil {
		return -1, err
	}

	id := int(e.ids.Add(1))
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, ackTimeout)
		defer cancel()
		_, err := client.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: qos}},
		})
		e.post(mqtt.Event{Kind: mqtt.EventSubscribed, Topic: topic, MessageID: id, Err: err})
	}()

	return id, nil
}

func (e *modernEngine) Unsubscribe(topic string) (int, error) {
	client, err := e.session()
	if err != nil {
		return -1, err
	}

	id := int(e.ids.Add(1))
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, ackTimeout)
		defer cancel()
		_, err := client.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
		e.post(mqtt.Event{Kind: mqtt.EventUnsubscribed, Topic: topic, MessageID: id, Err: err})
	}()

	return id, nil
}

func (e *modernEngine) post(ev mqtt.Event) {
	if e.stopped.Load() {
		return
	}
	e.sink.Post(ev)
}

func webSocketOrHost(p locator.Parts) string {
	if p.Scheme.WebSocket() {
		return webSocketURL(p)
	}
	return hostPort(p)
}
