package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"SignalPulse/pkg/logger"
)

// Quote is the last trade seen for a symbol.
type Quote struct {
	Price float64
	At    time.Time
}

// Tracker keeps the last traded price per symbol from the Finnhub trade stream.
type Tracker struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger
	onPrice        func(symbol string, price float64)

	mu        sync.RWMutex
	last      map[string]Quote
	connected bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPriceHook is called for every trade received.
func WithPriceHook(fn func(symbol string, price float64)) Option {
	return func(t *Tracker) { t.onPrice = fn }
}

// New creates a tracker for symbols.
func New(lgr *logger.Logger, apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, opts ...Option) *Tracker {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	t := &Tracker{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		logger:         lgr.With(logger.String("component", "finnhub_ws")),
		last:           make(map[string]Quote),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LastPrice returns the most recent trade price for symbol.
func (t *Tracker) LastPrice(symbol string) (Quote, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.last[strings.ToUpper(symbol)]
	return q, ok
}

// IsConnected indicates stream status.
func (t *Tracker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Run connects and keeps reconnecting until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	for {
		err := t.session(ctx)
		t.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("finnhub stream dropped, reconnecting",
			logger.Error(err),
			logger.Duration("delay", t.reconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.reconnectDelay):
		}
	}
}

func (t *Tracker) session(ctx context.Context) error {
	u, err := url.Parse(t.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", t.apiKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	defer conn.Close()

	for _, s := range t.symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	t.setConnected(true)
	t.logger.Info("finnhub stream connected", logger.Strings("symbols", t.symbols))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	go func() {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
			}
		}
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if sessionCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("finnhub read: %w", err)
		}
		t.handleFrame(b)
	}
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

func (t *Tracker) handleFrame(b []byte) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		// pings and errors are not trades
		return
	}

	t.mu.Lock()
	for _, d := range m.Data {
		if d.P <= 0 {
			continue
		}
		sym := strings.ToUpper(d.S)
		at := time.UnixMilli(d.T).UTC()
		if prev, ok := t.last[sym]; ok && prev.At.After(at) {
			continue
		}
		t.last[sym] = Quote{Price: d.P, At: at}
	}
	t.mu.Unlock()

	if t.onPrice != nil {
		for _, d := range m.Data {
			if d.P > 0 {
				t.onPrice(strings.ToUpper(d.S), d.P)
			}
		}
	}
}

func (t *Tracker) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}
