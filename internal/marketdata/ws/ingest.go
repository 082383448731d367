// Package ws streams raw trades from a venue WebSocket feed into the
// pipeline. The wire format is one JSON trade frame per message,
// matching model.Tick:
//
//	{"broker":"sim","symbol":"BTC-USD","price":"100.5","size":"0.25","timestamp":1700000000}
//
// Reconnects automatically with exponential backoff; duplicate frames
// replayed by the venue after a reconnect are deduped downstream by the
// aggregator and the tick store.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"trading-platformv1/internal/model"
)

// Config holds configuration for the WS ingest.
type Config struct {
	// URL of the tick WebSocket feed, e.g. "wss://feed.example.com/trades"
	URL string

	// Symbols to subscribe after connecting. Empty means the feed
	// decides (pre-provisioned subscriptions).
	Symbols []string

	// Source stamps ticks whose frames omit the broker field.
	Source string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type subscribeFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Ingest connects to a JSON WebSocket trade feed and pushes model.Tick
// values into tickCh.
type Ingest struct {
	cfg Config

	// Optional hook — called each time a reconnection happens.
	OnReconnect func()
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, err
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects to the feed and streams ticks into tickCh. Blocks
// until ctx is cancelled. Reconnects automatically on disconnect.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.Tick) error {
	delay := ing.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := ing.runOnce(ctx, tickCh)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		log.Printf("[ws] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > ing.cfg.MaxReconnectDelay {
			delay = ing.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect
// or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, tickCh chan<- model.Tick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[ws] connected to %s", ing.cfg.URL)

	if len(ing.cfg.Symbols) > 0 {
		sub := subscribeFrame{Action: "subscribe", Symbols: ing.cfg.Symbols}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
		log.Printf("[ws] subscribed to %v", ing.cfg.Symbols)
	}

	// Async context watcher — closes the connection when ctx is cancelled.
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var tick model.Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			log.Printf("[ws] parse error: %v (raw: %s)", err, raw)
			continue
		}

		if tick.Symbol == "" {
			log.Printf("[ws] skipping tick with empty symbol")
			continue
		}
		if tick.Source == "" {
			tick.Source = ing.cfg.Source
		}
		if tick.Timestamp == 0 {
			tick.Timestamp = time.Now().Unix()
		}

		select {
		case tickCh <- tick:
		default:
			log.Println("[ws] tickCh full, dropping tick")
		}
	}
}
