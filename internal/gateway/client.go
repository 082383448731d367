package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trading-platformv1/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Candle subscriptions, key "symbol:tf". Empty = receive all candles.
	subMu sync.RWMutex
	subs  map[string]bool
}

// clientMsg is the single inbound message shape. Type selects which
// fields matter.
type clientMsg struct {
	Type    string `json:"type"` // "subscribe", "unsubscribe", "backfill", "ping"
	Symbol  string `json:"symbol,omitempty"`
	TF      string `json:"tf,omitempty"`
	Channel string `json:"channel,omitempty"`
	FromSeq int64  `json:"from_seq,omitempty"`
	ToSeq   int64  `json:"to_seq,omitempty"`
	Ping    int64  `json:"ping,omitempty"`
}

// sendInitialState pushes the last envelope of every channel so a fresh
// client renders without waiting for the next bus message.
func (c *Client) sendInitialState() {
	for _, env := range c.hub.snapshotLatest() {
		select {
		case c.send <- env:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(msg)
		case "unsubscribe":
			c.subMu.Lock()
			delete(c.subs, subKey(msg.Symbol, msg.TF))
			c.subMu.Unlock()
		case "backfill":
			c.handleBackfill(msg)
		case "ping":
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (c *Client) handleSubscribe(msg clientMsg) {
	if msg.Symbol == "" {
		c.sendError("subscribe requires symbol")
		return
	}
	if _, err := model.ParseTimeframe(msg.TF); err != nil {
		c.sendError("subscribe: " + err.Error())
		return
	}
	c.subMu.Lock()
	c.subs[subKey(msg.Symbol, msg.TF)] = true
	c.subMu.Unlock()
}

// handleBackfill answers a sequence-gap request with the buffered
// envelopes. Envelopes older than the ring are gone; the client falls
// back to the REST candle API for those.
func (c *Client) handleBackfill(msg clientMsg) {
	if msg.Channel == "" || msg.FromSeq <= 0 || msg.ToSeq < msg.FromSeq {
		c.sendError("backfill requires channel, from_seq, to_seq")
		return
	}
	for _, env := range c.hub.replayRange(msg.Channel, msg.FromSeq, msg.ToSeq) {
		select {
		case c.send <- env:
		default:
			return
		}
	}
}

func (c *Client) sendError(text string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "error": text})
	select {
	case c.send <- payload:
	default:
	}
}

// matches reports whether this client receives a message. Candles are
// filtered by subscription; every other channel is always delivered.
func (c *Client) matches(channel string, data []byte) bool {
	if channel != model.ChannelCandlesClose {
		return true
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}

	var key struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
	}
	if json.Unmarshal(data, &key) != nil {
		return false
	}
	return c.subs[subKey(key.Symbol, key.Timeframe)]
}

func subKey(symbol, tf string) string {
	return symbol + ":" + tf
}
