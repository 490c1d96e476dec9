package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalPulse/pkg/logger"
)

func TestHandleFrameKeepsNewestTrade(t *testing.T) {
	tr := New(logger.Nop(), "k", "ws://unused", nil, 0, 0)

	tr.handleFrame([]byte(`{"type":"trade","data":[{"s":"aapl","p":190.5,"v":10,"t":2000},{"s":"AAPL","p":189,"v":1,"t":1000}]}`))
	q, ok := tr.LastPrice("AAPL")
	require.True(t, ok)
	assert.Equal(t, 190.5, q.Price)

	tr.handleFrame([]byte(`{"type":"ping"}`))
	tr.handleFrame([]byte(`not json`))
	q, _ = tr.LastPrice("aapl")
	assert.Equal(t, 190.5, q.Price)
}

func TestRunSubscribesAndTracks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]string
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":64000.5,"v":0.1,"t":1700000000000}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	hits := make(chan float64, 1)
	tr := New(logger.Nop(), "secret", wsURL, []string{"BINANCE:BTCUSDT"}, 10*time.Millisecond, time.Second,
		WithPriceHook(func(_ string, p float64) {
			select {
			case hits <- p:
			default:
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	select {
	case s := <-subscribed:
		assert.Equal(t, "BINANCE:BTCUSDT", s)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription")
	}
	select {
	case p := <-hits:
		assert.Equal(t, 64000.5, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no trade")
	}

	q, ok := tr.LastPrice("BINANCE:BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 64000.5, q.Price)
	assert.True(t, tr.IsConnected())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
	assert.False(t, tr.IsConnected())
}
