package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, latest LatestFunc) (*Hub, *httptest.Server) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := NewHub(&config.WebSocketConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		PingInterval:    time.Second,
		PongTimeout:     2 * time.Second,
		WriteTimeout:    time.Second,
		SendBuffer:      16,
	}, latest, metrics.New(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func analysis(symbol string, signal models.Signal) *models.Analysis {
	return &models.Analysis{
		RunID:  "run-" + symbol,
		Symbol: symbol,
		Signal: signal,
		Result: &models.CalculationResult{Symbol: symbol, Trend: models.TrendBullish},
	}
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Deliver(context.Background(), analysis("AAPL", models.SignalBuy)))

	env := read(t, conn)
	assert.Equal(t, models.MessageAnalysis, env.Type)

	var got models.Analysis
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, models.SignalBuy, got.Signal)
}

func TestHub_SymbolFilter(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	conn := dial(t, srv, "?symbols=msft")

	env := read(t, conn)
	assert.Equal(t, models.MessageSubscribed, env.Type)
	assert.JSONEq(t, `["MSFT"]`, string(env.Data))

	require.NoError(t, hub.Deliver(context.Background(), analysis("AAPL", models.SignalBuy)))
	require.NoError(t, hub.Deliver(context.Background(), analysis("MSFT", models.SignalSell)))

	env = read(t, conn)
	var got models.Analysis
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "MSFT", got.Symbol)
}

func TestHub_SubscribeSendsLatest(t *testing.T) {
	latest := func(symbol string) (*models.Analysis, bool) {
		if symbol == "SPY" {
			return analysis("SPY", models.SignalHold), true
		}
		return nil, false
	}
	hub, srv := newTestHub(t, latest)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(models.ControlMessage{Type: models.MessageSubscribe, Symbols: []string{"spy", "qqq"}}))

	env := read(t, conn)
	assert.Equal(t, models.MessageSubscribed, env.Type)
	assert.JSONEq(t, `["SPY","QQQ"]`, string(env.Data))

	env = read(t, conn)
	assert.Equal(t, models.MessageAnalysis, env.Type)
	var got models.Analysis
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "SPY", got.Symbol)
}

func TestHub_PingAndUnknown(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(models.ControlMessage{Type: models.MessagePing}))
	assert.Equal(t, models.MessagePong, read(t, conn).Type)

	require.NoError(t, conn.WriteJSON(models.ControlMessage{Type: "dance"}))
	assert.Equal(t, models.MessageError, read(t, conn).Type)
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := newTestHub(t, nil)
	conn := dial(t, srv, "")
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
	assert.Equal(t, "websocket", hub.Name())
}
