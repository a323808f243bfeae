package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/raffle/internal/app"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/events"
	"github.com/R3E-Network/raffle/internal/ledger"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/storage"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const fee = int64(10_000_000_000_000_000)

func quietLogger() *logger.Logger {
	return logger.New("httpapi-test", logger.Config{Output: io.Discard})
}

func newTestApp(t *testing.T) (*app.Application, *raffle.FakeClock) {
	t.Helper()
	cfg := config.Default()
	cfg.Keeper.Enabled = false
	clock := raffle.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	application, err := app.New(context.Background(), cfg, app.Options{
		Clock:  clock,
		Store:  storage.NewMemoryStore(),
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	return application, clock
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), dst))
}

func TestHealth(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{Logger: quietLogger()})

	resp := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestRaffleState(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{Logger: quietLogger()})

	resp := do(t, h, http.MethodGet, "/raffle", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, float64(0), body["state"])
	assert.Equal(t, "open", body["state_name"])
	assert.Equal(t, float64(fee), body["entrance_fee"])
	assert.Equal(t, application.Raffle.Address(), body["address"])
	assert.Equal(t, true, body["development"])
	assert.Nil(t, body["keeper"])
}

func TestRaffleLifecycleOverHTTP(t *testing.T) {
	application, clock := newTestApp(t)
	require.NoError(t, application.Start(context.Background()))
	defer application.Stop(context.Background())
	h := NewHandler(application, Options{Logger: quietLogger()})

	resp := do(t, h, http.MethodPost, "/ledger/accounts/alice/deposit", map[string]any{"amount": 2 * fee})
	require.Equal(t, http.StatusOK, resp.Code)
	var acct ledger.Account
	decode(t, resp, &acct)
	assert.Equal(t, 2*fee, acct.Balance)

	resp = do(t, h, http.MethodPost, "/raffle/enter", map[string]any{"participant": "alice", "amount": fee})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = do(t, h, http.MethodGet, "/raffle/participants/0", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var participant map[string]any
	decode(t, resp, &participant)
	assert.Equal(t, "alice", participant["participant"])

	resp = do(t, h, http.MethodGet, "/raffle/upkeep", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var check map[string]any
	decode(t, resp, &check)
	assert.Equal(t, false, check["upkeep_needed"])

	resp = do(t, h, http.MethodPost, "/raffle/upkeep", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "upkeep not needed")

	clock.Advance(application.Raffle.Interval() + time.Second)

	resp = do(t, h, http.MethodGet, "/raffle/upkeep", nil)
	decode(t, resp, &check)
	assert.Equal(t, true, check["upkeep_needed"])

	resp = do(t, h, http.MethodPost, "/raffle/upkeep", nil)
	require.Equal(t, http.StatusAccepted, resp.Code)
	var performed map[string]any
	decode(t, resp, &performed)
	requestID := performed["request_id"].(float64)
	require.NotZero(t, requestID)
	assert.Equal(t, float64(raffle.StateDrawing), performed["state"])

	resp = do(t, h, http.MethodPost, "/raffle/enter", map[string]any{"participant": "alice", "amount": fee})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = do(t, h, http.MethodPost, "/vrf/requests/1/fulfill", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var fulfilled map[string]any
	decode(t, resp, &fulfilled)
	assert.Equal(t, "alice", fulfilled["recent_winner"])
	assert.Equal(t, float64(raffle.StateOpen), fulfilled["state"])

	resp = do(t, h, http.MethodGet, "/ledger/accounts/alice", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &acct)
	assert.Equal(t, 2*fee, acct.Balance)

	resp = do(t, h, http.MethodGet, "/ledger/accounts/alice/transactions?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var txs []ledger.Transaction
	decode(t, resp, &txs)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TxTypePayout, txs[0].Type)
	assert.Equal(t, ledger.TxTypeEntry, txs[1].Type)

	resp = do(t, h, http.MethodGet, "/events?limit=100", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var recent []events.Event
	decode(t, resp, &recent)
	require.NotEmpty(t, recent)
	assert.Equal(t, events.EventVRFWordsFulfilled, recent[0].Type)
	assert.Equal(t, events.EventRaffleWinnerPicked, recent[1].Type)
	assert.Equal(t, "alice", recent[1].Winner)

	require.NoError(t, application.Stop(context.Background()))

	resp = do(t, h, http.MethodGet, "/raffle/draws", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var draws []storage.Draw
	decode(t, resp, &draws)
	require.Len(t, draws, 1)
	assert.Equal(t, "alice", draws[0].Winner)

	resp = do(t, h, http.MethodGet, "/raffle/entries?round=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var entries []storage.Entry
	decode(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Participant)
}

func TestErrorMapping(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{Logger: quietLogger()})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"underpayment", http.MethodPost, "/raffle/enter", map[string]any{"participant": "bob", "amount": 1}, http.StatusPaymentRequired},
		{"no funds", http.MethodPost, "/raffle/enter", map[string]any{"participant": "bob", "amount": fee}, http.StatusNotFound},
		{"missing participant", http.MethodPost, "/raffle/enter", map[string]any{"amount": fee}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/raffle/enter", map[string]any{"who": "bob"}, http.StatusBadRequest},
		{"index out of range", http.MethodGet, "/raffle/participants/3", nil, http.StatusNotFound},
		{"bad index", http.MethodGet, "/raffle/participants/x", nil, http.StatusBadRequest},
		{"unknown request", http.MethodPost, "/vrf/requests/9/fulfill", nil, http.StatusNotFound},
		{"bad request id", http.MethodPost, "/vrf/requests/abc/fulfill", nil, http.StatusBadRequest},
		{"unknown account", http.MethodGet, "/ledger/accounts/ghost", nil, http.StatusNotFound},
		{"zero deposit", http.MethodPost, "/ledger/accounts/bob/deposit", map[string]any{"amount": 0}, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/events?limit=-1", nil, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/raffle", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, resp.Code, resp.Body.String())
		})
	}
}

func TestStatusForPayoutFailure(t *testing.T) {
	err := raffle.ErrPayoutFailed
	assert.Equal(t, http.StatusBadGateway, statusFor(err))
	assert.Equal(t, http.StatusNotImplemented, statusFor(app.ErrNotDevelopment))
	assert.Equal(t, http.StatusBadRequest, statusFor(raffle.ErrBalanceOverflow))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.EOF))
}

func TestDepositOverflowLeavesBalance(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{Logger: quietLogger()})

	path := "/ledger/accounts/whale/deposit"
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, path, map[string]any{"amount": int64(math.MaxInt64)}).Code)
	resp := do(t, h, http.MethodPost, path, map[string]any{"amount": 1})
	assert.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())

	balance, err := application.Ledger.Balance(context.Background(), "whale")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), balance)
}

func TestMetricsEndpoint(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{Logger: quietLogger()})

	resp := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "raffle_")
}

func TestRateLimit(t *testing.T) {
	application, _ := newTestApp(t)
	h := NewHandler(application, Options{RateLimit: 1, RateBurst: 2, Logger: quietLogger()})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)

	resp := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiterEvictsIdleClients(t *testing.T) {
	rl := newRateLimiter(1, 1, quietLogger())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getLimiter("a")
	now = now.Add(idleLimiterTTL + time.Second)
	rl.getLimiter("b")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limiters, "a")
	assert.Contains(t, rl.limiters, "b")
}

func TestEventStream(t *testing.T) {
	application, _ := newTestApp(t)
	server := httptest.NewServer(NewHandler(application, Options{Logger: quietLogger()}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/stream?type=" + string(events.EventRaffleEnter)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered just after the upgrade, so keep
	// publishing until the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				application.Events.Log(events.Event{Type: events.EventUpkeepFailed})
				application.Events.Log(events.Event{Type: events.EventRaffleEnter, Participant: "alice"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventRaffleEnter, got.Type)
	assert.Equal(t, "alice", got.Participant)
}
