// Package gateway serves platform events to websocket clients. It
// subscribes to the bus channels a dashboard needs — closed candles,
// order events, deployment events — and fans each message out to
// connected clients with per-channel sequence numbers. Clients that
// spot a sequence gap request a backfill from an in-memory ring of
// recent envelopes instead of reconnecting.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-platformv1/internal/model"
	"trading-platformv1/internal/ringbuf"
)

// Channels the hub relays from the bus.
var relayChannels = []string{
	model.ChannelCandlesClose,
	model.ChannelOrderEvents,
	model.ChannelDeploymentEvents,
}

const replayDepth = 500 // envelopes buffered per channel for gap backfill

// Hub manages websocket clients and bus fan-out.
type Hub struct {
	bus model.Bus
	log *slog.Logger

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string][]byte // last envelope per channel, for initial state
	channelSeqs map[string]int64
	replayBufs  map[string]*ringbuf.Ring
}

// NewHub creates a hub. Run must be called before clients see data.
func NewHub(bus model.Bus, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		bus: bus,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The gateway sits behind the operator's own reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		latest:      make(map[string][]byte),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ringbuf.Ring),
	}
}

// Run subscribes to the relay channels and fans messages out until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	type tagged struct {
		channel string
		payload []byte
	}
	merged := make(chan tagged, 256)

	for _, channel := range relayChannels {
		sub, err := h.bus.Subscribe(ctx, channel)
		if err != nil {
			return err
		}
		go func(channel string, sub <-chan []byte) {
			for payload := range sub {
				select {
				case merged <- tagged{channel, payload}:
				case <-ctx.Done():
					return
				}
			}
		}(channel, sub)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-merged:
			h.broadcast(msg.channel, msg.payload)
		}
	}
}

// broadcast wraps the payload in an envelope, buffers it for backfill,
// and sends it to every client whose subscriptions match. The envelope
// is hand-built: broadcast runs once per bus message regardless of
// client count and json.Marshal here is pure overhead.
func (h *Hub) broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]

	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')

	h.latest[channel] = buf
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = ringbuf.New(replayDepth)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	rb.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matches(channel, data) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			// Slow consumer; it will detect the seq gap and backfill.
		}
	}
}

// replayRange returns buffered envelopes for [fromSeq, toSeq].
func (h *Hub) replayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade", "err", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.Info("ws client connected", "clients", count)

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// removeClient drops a client and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	close(c.send)
	h.log.Info("ws client disconnected", "clients", count)
}

// snapshotLatest copies the latest envelope per channel.
func (h *Hub) snapshotLatest() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([][]byte, 0, len(h.latest))
	for _, env := range h.latest {
		out = append(out, env)
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
