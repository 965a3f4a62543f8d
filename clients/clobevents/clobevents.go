// Package clobevents is a client for the CLOB market WebSocket channel.
// It delivers raw event frames on a channel; parsing helpers extract
// best-bid updates from book snapshots and price_change events.
package clobevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client maintains one connection to the market channel. The channel is
// public; no API key is required.
type Client struct {
	logger *zap.Logger

	wsURL        string
	dialer       *websocket.Dialer
	pingInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	msgCh   chan json.RawMessage
	errCh   chan error
	closeCh chan struct{}

	msgCount        uint64
	lastMsgUnixNano int64
}

func NewClient(wsURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		logger:       logger,
		wsURL:        wsURL,
		dialer:       websocket.DefaultDialer,
		pingInterval: 10 * time.Second,

		msgCh:   make(chan json.RawMessage, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Connect dials the market channel and subscribes to the provided token
// IDs. The subscription payload is {"type":"MARKET","assets_ids":[...]}.
func (c *Client) Connect(ctx context.Context, assetIDs []string) error {
	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial market ws: %w", err)
	}

	c.logger.Info("market ws dialed",
		zap.String("url", c.wsURL),
		zap.Int("assets", len(assetIDs)),
	)

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn("market ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	sub := map[string]any{
		"type":       "MARKET",
		"assets_ids": assetIDs,
	}
	if err := c.writeJSON(sub); err != nil {
		_ = conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("send subscription: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.closeCh:
		}
	}()

	return nil
}

// Messages delivers raw event frames, one event per message (array frames
// are unbatched).
func (c *Client) Messages() <-chan json.RawMessage {
	return c.msgCh
}

func (c *Client) Errors() <-chan error {
	return c.errCh
}

type Stats struct {
	MessageCount  uint64
	LastMessageAt time.Time
}

func (c *Client) Stats() Stats {
	n := atomic.LoadUint64(&c.msgCount)
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return Stats{
		MessageCount:  n,
		LastMessageAt: t,
	}
}

// Close tears down the connection and stops the read/ping loops. The
// client can be connected again afterwards.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so a later Connect gets working loops.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}

	return err
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteJSON(v)
}

func (c *Client) pingLoop() {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn != nil {
				c.writeMu.Lock()
				_ = conn.WriteMessage(websocket.TextMessage, []byte("PING"))
				c.writeMu.Unlock()
			}

		case <-c.closeCh:
			return
		}
	}
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.closeCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("market ws read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			_ = c.Close()
			return
		}

		// Server replies to the keepalive with plain "PONG".
		if string(b) == "PONG" || string(b) == "PING" {
			continue
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.emitFrame(b)
	}
}

// emitFrame forwards one frame. The server sends either a single JSON
// object event or a JSON array of events.
func (c *Client) emitFrame(b []byte) {
	trimmed := b
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t' || trimmed[0] == '\r') {
		trimmed = trimmed[1:]
	}

	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			c.logger.Warn("market ws bad json array frame", zap.Error(err))
			return
		}
		for _, one := range arr {
			c.forward(one)
		}
		return
	}

	c.forward(json.RawMessage(append([]byte(nil), trimmed...)))
}

func (c *Client) forward(msg json.RawMessage) {
	select {
	case c.msgCh <- msg:
	default:
		c.logger.Warn("dropping ws message: msgCh full")
	}
}

// PriceEvent is one best-bid observation extracted from a stream event.
type PriceEvent struct {
	AssetID string
	BestBid float64
	Kind    string // "book" or "price_change"
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookEvent struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
}

type priceChangeEvent struct {
	EventType    string `json:"event_type"`
	PriceChanges []struct {
		AssetID string `json:"asset_id"`
		BestBid string `json:"best_bid"`
	} `json:"price_changes"`
}

// ParseEventType extracts the event_type from a raw frame.
func ParseEventType(data json.RawMessage) string {
	var m struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return "unknown"
	}
	if m.EventType == "" {
		return "empty"
	}
	return m.EventType
}

// ParsePriceEvents extracts best-bid observations from a raw event frame.
// Returns nil for event types that carry no best bid.
func ParsePriceEvents(data json.RawMessage) []PriceEvent {
	switch ParseEventType(data) {
	case "book":
		var ev bookEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.AssetID == "" {
			return nil
		}
		best, ok := bestBidFromLevels(ev.Bids)
		if !ok {
			return nil
		}
		return []PriceEvent{{AssetID: ev.AssetID, BestBid: best, Kind: "book"}}

	case "price_change":
		var ev priceChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil
		}
		var out []PriceEvent
		for _, pc := range ev.PriceChanges {
			bid, err := strconv.ParseFloat(pc.BestBid, 64)
			if err != nil || pc.AssetID == "" {
				continue
			}
			out = append(out, PriceEvent{AssetID: pc.AssetID, BestBid: bid, Kind: "price_change"})
		}
		return out
	}
	return nil
}

// bestBidFromLevels returns the highest bid price in the snapshot. Level
// ordering is not relied on.
func bestBidFromLevels(levels []bookLevel) (float64, bool) {
	best := -1.0
	for _, lvl := range levels {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if p > best {
			best = p
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
