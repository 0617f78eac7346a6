package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine is a scripted Engine. Outcomes are posted from goroutines,
// as real engines do.
type fakeEngine struct {
	cfg  EngineConfig
	sink EventSink

	mu           sync.Mutex
	started      bool
	stopped      bool
	published    []string
	subscribed   []string
	unsubscribed []string
	nextID       int
	publishErr   error
}

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
}

func (e *fakeEngine) Publish(topic string, _ []byte, _ byte, _ bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.publishErr != nil {
		return -1, e.publishErr
	}
	e.nextID++
	e.published = append(e.published, topic)
	return e.nextID, nil
}

func (e *fakeEngine) Subscribe(topic string, _ byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.subscribed = append(e.subscribed, topic)
	return e.nextID, nil
}

func (e *fakeEngine) Unsubscribe(topic string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.unsubscribed = append(e.unsubscribed, topic)
	return e.nextID, nil
}

func (e *fakeEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *fakeEngine) subscriptions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subscribed...)
}

// post delivers an event as the engine's network goroutine would.
func (e *fakeEngine) post(ev Event) {
	go e.sink.Post(ev)
}

// startFailEngine fails Start.
type startFailEngine struct {
	fakeEngine
	err error
}

func (e *startFailEngine) Start() error { return e.err }

// outcome scripts what an engine does for one protocol level.
type outcome struct {
	initErr   error
	startErr  error
	accept    bool
	refuseErr error
}

// fakeFactory builds fake engines according to a per-protocol script.
type fakeFactory struct {
	mu      sync.Mutex
	script  map[ProtocolVersion]outcome
	engines []*fakeEngine
	configs []EngineConfig
}

func newFakeFactory(script map[ProtocolVersion]outcome) *fakeFactory {
	return &fakeFactory{script: script}
}

func (f *fakeFactory) NewEngine(cfg EngineConfig, sink EventSink) (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.configs = append(f.configs, cfg)
	o := f.script[cfg.Protocol]
	if o.initErr != nil {
		return nil, o.initErr
	}

	if o.startErr != nil {
		e := &startFailEngine{fakeEngine: fakeEngine{cfg: cfg, sink: sink}, err: o.startErr}
		return e, nil
	}

	e := &fakeEngine{cfg: cfg, sink: sink}
	f.engines = append(f.engines, e)
	switch {
	case o.accept:
		e.post(Event{Kind: EventConnected})
	case o.refuseErr != nil:
		e.post(Event{Kind: EventConnectFailed, Err: o.refuseErr})
	}
	return e, nil
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.engines) {
		return nil
	}
	return f.engines[i]
}

func (f *fakeFactory) engineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeFactory) attempts() []EngineConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]EngineConfig(nil), f.configs...)
}

func (f *fakeFactory) setScript(p ProtocolVersion, o outcome) {
	f.mu.Lock()
	f.script[p] = o
	f.mu.Unlock()
}

// recorder captures every callback a client makes.
type recorder struct {
	mu          sync.Mutex
	connects    []ConnectionInfo
	disconnects []error
	transitions []Transition
	messages    []string
}

func newRecorder(c *Client) *recorder {
	r := &recorder{}
	c.OnConnect(func(info ConnectionInfo) {
		r.mu.Lock()
		r.connects = append(r.connects, info)
		r.mu.Unlock()
	})
	c.OnDisconnect(func(err error) {
		r.mu.Lock()
		r.disconnects = append(r.disconnects, err)
		r.mu.Unlock()
	})
	c.OnTransition(func(t Transition) {
		r.mu.Lock()
		r.transitions = append(r.transitions, t)
		r.mu.Unlock()
	})
	c.OnMessage(func(topic string, payload []byte) {
		r.mu.Lock()
		r.messages = append(r.messages, topic+"="+string(payload))
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connects)
}

func (r *recorder) lastConnect() ConnectionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects[len(r.connects)-1]
}

func (r *recorder) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnects)
}

func (r *recorder) disconnectErr(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects[i]
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func (r *recorder) messageLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// newTestClient returns a client with callbacks recorded and no fallback
// backoff.
func newTestClient(t *testing.T, f *fakeFactory) (*Client, *recorder) {
	t.Helper()

	c, err := NewClient(f)
	require.NoError(t, err)
	c.SetFallbackBackoff(0)
	rec := newRecorder(c)
	t.Cleanup(func() { _ = c.Close() })

	return c, rec
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick,
		"state = %s, want %s", c.State(), want)
}

var errRefused = errors.New("connection refused: unsupported protocol version")
