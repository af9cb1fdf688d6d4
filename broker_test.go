package tradelocker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tradelocker/config"
	"tradelocker/pkg/logging"
)

const (
	testEmail    = "trader@example.com"
	testPassword = "hunter2"
	testServer   = "DEMO-SRV"
)

// makeJWT builds an unsigned JWT carrying only an exp claim, which is all the
// client reads.
func makeJWT(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return header + "." + payload + ".sig"
}

// testBroker is an httptest-backed stand-in for the broker backend. Tests
// tweak its fields before issuing client calls.
type testBroker struct {
	t   *testing.T
	srv *httptest.Server

	mu           sync.Mutex
	loginCalls   int
	refreshCalls int

	accessTTL  time.Duration
	refreshTTL time.Duration

	validTokens map[string]bool

	failLogin    bool
	failRefresh  bool
	reject401    int // next N /trade requests answer 401 regardless of token
	rejectOrders string

	historyFrom, historyTo string
	historyCalls           int
	quotesCalls            int
	noData                 bool

	orderRows         [][]any
	ordersHistoryRows [][]any
	positionRows      [][]any

	closedPositions []string
	lastOrderBody   map[string]any
}

func newTestBroker(t *testing.T) *testBroker {
	b := &testBroker{
		t:           t,
		accessTTL:   time.Hour,
		refreshTTL:  24 * time.Hour,
		validTokens: make(map[string]bool),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBroker) issueTokens(w http.ResponseWriter) {
	access := makeJWT(time.Now().Add(b.accessTTL))
	refresh := makeJWT(time.Now().Add(b.refreshTTL))
	b.validTokens[access] = true
	writeJSON(w, http.StatusOK, map[string]string{
		"accessToken":  access,
		"refreshToken": refresh,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, d any) {
	writeJSON(w, http.StatusOK, map[string]any{"s": "ok", "d": d})
}

func (b *testBroker) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/jwt/token":
		b.loginCalls++
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if b.failLogin || creds["email"] != testEmail || creds["password"] != testPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errmsg": "Invalid credentials"})
			return
		}
		b.issueTokens(w)

	case r.Method == http.MethodPost && r.URL.Path == "/auth/jwt/refresh":
		b.refreshCalls++
		if b.failRefresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errmsg": "Refresh token expired"})
			return
		}
		b.issueTokens(w)

	case r.URL.Path == "/auth/jwt/all-accounts":
		if !b.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errmsg": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": []map[string]any{
				{"id": "1001", "name": "Main", "currency": "USD", "accNum": 7, "accountBalance": 10000.5},
				{"id": "1002", "name": "Hedge", "currency": "EUR", "accNum": 8, "accountBalance": 250.0},
			},
		})

	case strings.HasPrefix(r.URL.Path, "/trade/"):
		if b.reject401 > 0 {
			b.reject401--
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errmsg": "Token expired"})
			return
		}
		if !b.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"errmsg": "Unauthorized"})
			return
		}
		if r.Header.Get("accNum") == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"errmsg": "Missing accNum"})
			return
		}
		b.handleTrade(w, r)

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"errmsg": "Unknown route"})
	}
}

func (b *testBroker) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	return token != auth && b.validTokens[token]
}

func (b *testBroker) handleTrade(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	q := r.URL.Query()

	switch {
	case path == "/trade/config":
		ok(w, map[string]any{
			"ordersConfig":        columnIDsPayload(orderColumnIDs),
			"ordersHistoryConfig": columnIDsPayload(orderColumnIDs),
			"positionsConfig":     columnIDsPayload(positionColumnIDs),
			"filledOrdersConfig":  columnIDsPayload([]string{"id", "price", "side", "createdDate", "qty", "orderId", "positionId"}),
			"accountDetailsConfig": columnIDsPayload([]string{
				"balance", "projectedBalance", "availableFunds", "blockedBalance",
				"openGrossPnL", "openNetPnL", "positionsCount", "ordersCount",
			}),
			"limits": []map[string]any{
				{"limitType": "QUOTES_HISTORY_BARS", "limit": 50000},
			},
			"rateLimits": []map[string]any{
				{"rateLimitType": "QUOTES_HISTORY", "measure": "requests", "intervalNum": 1, "limit": 10},
			},
		})

	case path == "/trade/accounts":
		ok(w, []map[string]any{
			{"id": "1001", "name": "Main", "currency": "USD", "type": "DEMO"},
		})

	case strings.HasPrefix(path, "/trade/instruments/"):
		ok(w, map[string]any{
			"tradableInstrumentId": 278,
			"name":                 "BTCUSD",
			"tradeSessionId":       42,
			"localizedName":        q.Get("locale") + ":Bitcoin",
		})

	case strings.HasPrefix(path, "/trade/sessionStatuses/"):
		ok(w, map[string]any{
			"allowedOperations": []int{1, 2},
			"allowedOrderTypes": []int{1, 2, 4},
		})

	case strings.HasPrefix(path, "/trade/sessions/"):
		ok(w, map[string]any{"id": 42, "name": "Crypto 24/7"})

	case strings.HasSuffix(path, "/instruments"):
		ok(w, map[string]any{
			"instruments": []map[string]any{
				{
					"tradableInstrumentId": 278, "id": 1, "name": "BTCUSD",
					"description": "Bitcoin", "type": "CRYPTO",
					"routes": []map[string]any{
						{"id": 900, "type": "TRADE"},
						{"id": 901, "type": "INFO"},
					},
				},
				{
					"tradableInstrumentId": 300, "id": 2, "name": "EURUSD",
					"description": "Euro", "type": "FOREX",
					"routes": []map[string]any{
						{"id": 910, "type": "TRADE"},
						{"id": 911, "type": "INFO"},
						{"id": 912, "type": "INFO"},
					},
				},
			},
		})

	case path == "/trade/quotes":
		b.quotesCalls++
		// Route 911 is the stale INFO route of EURUSD.
		if q.Get("routeId") == "911" {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "errmsg": "invalid route"})
			return
		}
		ok(w, map[string]float64{"ap": 101.5, "bp": 101.3, "as": 4, "bs": 6})

	case path == "/trade/dailyBar":
		ok(w, map[string]float64{"o": 100, "h": 110, "l": 95, "c": 105, "v": 12345})

	case path == "/trade/depth":
		ok(w, map[string]any{
			"asks": [][]float64{{101.5, 4}, {101.6, 9}},
			"bids": [][]float64{{101.3, 6}, {101.2, 2}},
		})

	case path == "/trade/history":
		b.historyCalls++
		b.historyFrom, b.historyTo = q.Get("from"), q.Get("to")
		if b.noData {
			writeJSON(w, http.StatusOK, map[string]any{"s": "no_data"})
			return
		}
		ok(w, map[string]any{
			"barDetails": []map[string]any{
				{"t": 1700000000000, "o": 1.1, "h": 1.2, "l": 1.0, "c": 1.15, "v": 42},
				{"t": 1700000900000, "o": 1.15, "h": 1.3, "l": 1.1, "c": 1.25, "v": 17},
			},
		})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/orders"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.lastOrderBody = body
		if b.rejectOrders != "" {
			writeJSON(w, http.StatusOK, map[string]any{"s": "error", "errmsg": b.rejectOrders})
			return
		}
		ok(w, map[string]any{"orderId": "555001"})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/ordersHistory"):
		ok(w, map[string]any{"ordersHistory": b.ordersHistoryRows})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/orders"):
		ok(w, map[string]any{"orders": b.orderRows})

	case r.Method == http.MethodDelete && strings.HasSuffix(path, "/orders"):
		ok(w, map[string]any{})

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/trade/orders/"):
		ok(w, map[string]any{})

	case r.Method == http.MethodPatch && strings.HasPrefix(path, "/trade/orders/"):
		ok(w, map[string]any{})

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/positions"):
		ok(w, map[string]any{"positions": b.positionRows})

	case r.Method == http.MethodPatch && strings.HasPrefix(path, "/trade/positions/"):
		ok(w, map[string]any{})

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/trade/positions/"):
		id := strings.TrimPrefix(path, "/trade/positions/")
		if !b.knownPosition(id) {
			writeJSON(w, http.StatusNotFound, map[string]string{"errmsg": "Position not found"})
			return
		}
		b.closedPositions = append(b.closedPositions, id)
		ok(w, map[string]any{})

	case r.Method == http.MethodDelete && strings.HasSuffix(path, "/positions"):
		ok(w, map[string]any{})

	case strings.HasSuffix(path, "/executions"):
		ok(w, map[string]any{"executions": [][]any{
			{"701", "101.5", "buy", 1700000000000, "0.5", "555001", "9001"},
		}})

	case strings.HasSuffix(path, "/state"):
		ok(w, map[string]any{
			"accountDetailsData": []any{10000.5, 10100.0, 9000.0, 1000.5, 12.5, 10.0, 2, 1},
		})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"errmsg": "Unknown trade route"})
	}
}

func (b *testBroker) knownPosition(id string) bool {
	for _, row := range b.positionRows {
		if fmt.Sprintf("%v", row[0]) == id {
			return true
		}
	}
	return false
}

var orderColumnIDs = []string{
	"id", "tradableInstrumentId", "routeId", "qty", "side", "type", "status",
	"filledQty", "avgPrice", "price", "stopPrice", "validity", "expireDate",
	"createdDate", "lastModified", "isOpen", "positionId", "stopLoss", "takeProfit",
}

var positionColumnIDs = []string{
	"id", "tradableInstrumentId", "routeId", "side", "qty", "avgPrice",
	"stopLossId", "takeProfitId", "openDate", "unrealizedPl",
}

func columnIDsPayload(ids []string) map[string]any {
	cols := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		cols = append(cols, map[string]string{"id": id})
	}
	return map[string]any{"columns": cols}
}

func testConfig(b *testBroker) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Credentials.Email = testEmail
	cfg.Credentials.Password = config.Secret(testPassword)
	cfg.Credentials.Server = testServer
	cfg.HTTP.BaseURLOverride = b.srv.URL
	cfg.HTTP.RateLimitPerSec = 0
	return cfg
}

func newTestClient(t *testing.T, b *testBroker) *Client {
	t.Helper()
	c, err := New(t.Context(), testConfig(b), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}
