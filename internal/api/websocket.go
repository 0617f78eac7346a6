package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/mqttlink/internal/infrastructure/config"
	"github.com/nerrad567/mqttlink/internal/infrastructure/logging"
	"github.com/nerrad567/mqttlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqttlink/internal/journal"
)

// Stream channels a WebSocket client can subscribe to.
const (
	// ChannelTransitions carries negotiation state changes. Subscribing
	// replays the current status first.
	ChannelTransitions = "negotiation.transition"

	// ChannelMessages carries topic and size of inbound MQTT messages.
	ChannelMessages = "mqtt.message"
)

// Frame types sent by the server.
const (
	FrameStatus       = "status"
	FrameTransition   = "transition"
	FrameMessage      = "message"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FramePong         = "pong"
	FrameError        = "error"
)

// Request types sent by clients.
const (
	RequestSubscribe   = "subscribe"
	RequestUnsubscribe = "unsubscribe"
	RequestStatus      = "status"
	RequestPing        = "ping"
)

// streamBufferSize is the number of frames queued per client before new
// frames are dropped.
const streamBufferSize = 256

// channelMask is a set of stream channels.
type channelMask uint32

const (
	maskTransitions channelMask = 1 << iota
	maskMessages
)

var channelMasks = map[string]channelMask{
	ChannelTransitions: maskTransitions,
	ChannelMessages:    maskMessages,
}

// Frame is one server-to-client WebSocket message. Exactly one of the
// optional sections is set, matching Type.
type Frame struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	At         time.Time      `json:"at"`
	Status     *mqtt.Status   `json:"status,omitempty"`
	Transition *journal.Entry `json:"transition,omitempty"`
	Message    *MessageEvent  `json:"message,omitempty"`
	Channels   []string       `json:"channels,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// MessageEvent describes an inbound MQTT message. Payloads are not forwarded.
type MessageEvent struct {
	ClientID string `json:"client_id,omitempty"`
	Topic    string `json:"topic"`
	Bytes    int    `json:"bytes"`
}

// Request is a client-to-server WebSocket message.
type Request struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// parseChannels converts channel names to a mask, returning the names it
// did not recognise.
func parseChannels(names []string) (channelMask, []string) {
	var (
		mask    channelMask
		unknown []string
	)
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		bit, ok := channelMasks[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		mask |= bit
	}
	return mask, unknown
}

// names lists the channels in m in a stable order.
func (m channelMask) names() []string {
	out := make([]string, 0, len(channelMasks))
	for name, bit := range channelMasks {
		if m&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Hub fans negotiation events out to WebSocket streams.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	status StatusSource // optional: no status replay without it

	mu      sync.Mutex
	streams map[*stream]struct{}
	closed  bool
}

// NewHub creates a hub. status may be nil.
func NewHub(cfg config.WebSocketConfig, status StatusSource, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		status:  status,
		streams: make(map[*stream]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every stream.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	streams := make([]*stream, 0, len(h.streams))
	for s := range h.streams {
		streams = append(streams, s)
	}
	clear(h.streams)
	h.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

// StreamCount returns the number of attached streams.
func (h *Hub) StreamCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

// PublishTransition sends a state change to streams on ChannelTransitions.
func (h *Hub) PublishTransition(clientID string, t mqtt.Transition) {
	entry := journal.FromTransition(clientID, t)
	h.publish(maskTransitions, Frame{Type: FrameTransition, At: entry.OccurredAt, Transition: &entry})
}

// PublishMessage sends inbound message metadata to streams on ChannelMessages.
func (h *Hub) PublishMessage(clientID, topic string, size int) {
	h.publish(maskMessages, Frame{
		Type:    FrameMessage,
		At:      time.Now().UTC(),
		Message: &MessageEvent{ClientID: clientID, Topic: topic, Bytes: size},
	})
}

func (h *Hub) publish(channel channelMask, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encoding websocket frame failed", "type", f.Type, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*stream, 0, len(h.streams))
	for s := range h.streams {
		if s.subscribed(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.deliver(data)
	}
}

// attach registers s. It reports false once the hub has shut down.
func (h *Hub) attach(s *stream) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.streams[s] = struct{}{}
	n := len(h.streams)
	h.mu.Unlock()

	h.logger.Debug("websocket stream attached", "streams", n, "channels", s.mask().names())
	if s.subscribed(maskTransitions) && h.status != nil {
		s.sendStatus("")
	}
	return true
}

// detach removes s and closes it. Safe to call more than once.
func (h *Hub) detach(s *stream) {
	h.mu.Lock()
	_, ok := h.streams[s]
	delete(h.streams, s)
	n := len(h.streams)
	h.mu.Unlock()

	s.close()
	if ok {
		h.logger.Debug("websocket stream detached", "streams", n)
	}
}

// snapshot returns the current client status, if a source is wired.
func (h *Hub) snapshot() (mqtt.Status, bool) {
	if h.status == nil {
		return mqtt.Status{}, false
	}
	return h.status.Status(), true
}

// stream is one WebSocket subscriber.
type stream struct {
	hub      *Hub
	conn     *websocket.Conn // nil in hub tests
	out      chan []byte
	done     chan struct{}
	once     sync.Once
	channels atomic.Uint32
}

func newStream(hub *Hub, conn *websocket.Conn, channels channelMask) *stream {
	s := &stream{
		hub:  hub,
		conn: conn,
		out:  make(chan []byte, streamBufferSize),
		done: make(chan struct{}),
	}
	s.channels.Store(uint32(channels))
	return s
}

func (s *stream) mask() channelMask {
	return channelMask(s.channels.Load())
}

func (s *stream) subscribed(channel channelMask) bool {
	return s.mask()&channel != 0
}

// subscribe adds channels and returns the ones that were newly added.
func (s *stream) subscribe(add channelMask) channelMask {
	for {
		old := s.channels.Load()
		if s.channels.CompareAndSwap(old, old|uint32(add)) {
			return add &^ channelMask(old)
		}
	}
}

func (s *stream) unsubscribe(remove channelMask) {
	for {
		old := s.channels.Load()
		if s.channels.CompareAndSwap(old, old&^uint32(remove)) {
			return
		}
	}
}

// deliver queues an encoded frame. A full queue drops the frame so one slow
// reader cannot stall the negotiation callbacks.
func (s *stream) deliver(data []byte) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.out <- data:
	default:
		s.hub.logger.Warn("websocket stream full, frame dropped")
	}
}

func (s *stream) send(f Frame) {
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	data, err := json.Marshal(f)
	if err != nil {
		s.hub.logger.Error("encoding websocket frame failed", "type", f.Type, "error", err)
		return
	}
	s.deliver(data)
}

func (s *stream) sendStatus(id string) {
	status, ok := s.hub.snapshot()
	if !ok {
		s.send(Frame{Type: FrameError, ID: id, Error: "mqtt client not configured"})
		return
	}
	s.send(Frame{Type: FrameStatus, ID: id, Status: &status})
}

func (s *stream) sendError(id, message string) {
	s.send(Frame{Type: FrameError, ID: id, Error: message})
}

func (s *stream) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// handleRequest applies one client request.
func (s *stream) handleRequest(data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("", "invalid JSON request")
		return
	}

	switch req.Type {
	case RequestSubscribe, RequestUnsubscribe:
		mask, unknown := parseChannels(req.Channels)
		if len(unknown) > 0 {
			s.sendError(req.ID, "unknown channel: "+strings.Join(unknown, ", "))
			return
		}
		if mask == 0 {
			s.sendError(req.ID, "no channels given")
			return
		}
		if req.Type == RequestUnsubscribe {
			s.unsubscribe(mask)
			s.send(Frame{Type: FrameUnsubscribed, ID: req.ID, Channels: mask.names()})
			return
		}
		added := s.subscribe(mask)
		s.send(Frame{Type: FrameSubscribed, ID: req.ID, Channels: mask.names()})
		if added&maskTransitions != 0 && s.hub.status != nil {
			s.sendStatus(req.ID)
		}
	case RequestStatus:
		s.sendStatus(req.ID)
	case RequestPing:
		s.send(Frame{Type: FramePong, ID: req.ID})
	default:
		s.sendError(req.ID, "unknown request type: "+req.Type)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the request to a stream. Channels named in the
// optional ?channels= parameter (comma-separated) are subscribed at once.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	mask, unknown := parseChannels(strings.Split(r.URL.Query().Get("channels"), ","))
	if len(unknown) > 0 {
		writeBadRequest(w, "unknown channel: "+strings.Join(unknown, ", "))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	st := newStream(s.hub, conn, mask)
	if !s.hub.attach(st) {
		st.close()
		return
	}

	go st.writePump()
	go st.readPump()
}

// readPump applies client requests until the connection fails.
func (s *stream) readPump() {
	defer s.hub.detach(s)

	cfg := s.hub.cfg
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Any request counts as liveness, for clients that ignore pings.
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(wait))
		s.handleRequest(data)
	}
}

// writePump writes queued frames and keepalive pings until the stream closes.
func (s *stream) writePump() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		s.hub.detach(s)
	}()

	for {
		select {
		case data := <-s.out:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
