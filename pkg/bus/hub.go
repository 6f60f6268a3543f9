package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait   = 5 * time.Second
	pongWait    = 30 * time.Second
	pingPeriod  = pongWait * 9 / 10
	sendBuffer  = 64
	maxEnvelope = 64 << 10
)

// envelope is the websocket wire format. Inbound messages carry Value,
// outbound ones carry Data.
type envelope struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub is a Bus served over websockets. Peers send
// {"id":"mani_command","value":…} text frames, or binary frames holding a raw
// request on a connection opened with ?input=<id>. Every published output
// is broadcast to all peers as {"id":…,"data":…}.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	// ctx bounds inbound deliveries; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	events  fanout[Event]
	outputs fanout[Output]

	mu    sync.Mutex
	peers map[*peer]struct{}
}

type peer struct {
	ws    *websocket.Conn
	input string
	send  chan []byte
	once  sync.Once
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.send)
	})
}

func NewHub(log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "bus").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
	}
}

// Events subscribes to inbound events from all peers.
func (h *Hub) Events() <-chan Event { return h.events.subscribe() }

// Outputs subscribes to published outputs in-process.
func (h *Hub) Outputs() <-chan Output { return h.outputs.subscribe() }

// Peers is the number of connected peers.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Publish broadcasts out to every peer. A peer whose send queue is full
// misses the message.
func (h *Hub) Publish(ctx context.Context, out Output) error {
	msg, err := json.Marshal(envelope{ID: out.ID, Data: out.Data})
	if err != nil {
		return err
	}
	h.mu.Lock()
	for p := range h.peers {
		select {
		case p.send <- msg:
		default:
			h.log.Warn().Str("remote", p.ws.RemoteAddr().String()).Str("id", out.ID).Msg("peer too slow, dropping output")
		}
	}
	h.mu.Unlock()
	return h.outputs.deliver(ctx, out)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	p := &peer{ws: ws, input: r.URL.Query().Get("input"), send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.log.Info().Str("remote", ws.RemoteAddr().String()).Str("input", p.input).Msg("peer connected")

	ctx, cancel := context.WithCancel(h.ctx)
	stop := context.AfterFunc(r.Context(), cancel)
	go h.writePump(p)
	h.readPump(ctx, p)
	stop()
	cancel()

	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
	p.close()
	h.log.Info().Str("remote", ws.RemoteAddr().String()).Msg("peer disconnected")
}

func (h *Hub) readPump(ctx context.Context, p *peer) {
	defer p.ws.Close()
	p.ws.SetReadLimit(maxEnvelope)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		kind, msg, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		ev, ok := h.event(p, kind, msg)
		if !ok {
			continue
		}
		if err := h.events.deliver(ctx, ev); err != nil {
			return
		}
	}
}

func (h *Hub) event(p *peer, kind int, msg []byte) (Event, bool) {
	now := time.Now()
	if kind == websocket.BinaryMessage {
		if p.input == "" {
			h.log.Warn().Msg("binary frame on a connection without ?input=, ignoring")
			return Event{}, false
		}
		return Event{ID: p.input, Value: msg, Received: now}, true
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil || env.ID == "" {
		h.log.Warn().Str("msg", string(msg)).Msg("could not parse bus envelope")
		return Event{}, false
	}
	// a JSON string value is delivered as text, anything else as raw bytes
	var text string
	if err := json.Unmarshal(env.Value, &text); err == nil {
		return Event{ID: env.ID, Value: text, Received: now}, true
	}
	return Event{ID: env.ID, Value: []byte(env.Value), Received: now}, true
}

func (h *Hub) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Warn().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every peer and ends all subscriptions.
func (h *Hub) Close() error {
	h.cancel()
	h.mu.Lock()
	for p := range h.peers {
		p.close()
		delete(h.peers, p)
	}
	h.mu.Unlock()
	h.events.close()
	h.outputs.close()
	return nil
}
