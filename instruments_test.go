package tradelocker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/logging"
)

func TestInstrumentLookup(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	in, err := client.InstrumentBySymbol(t.Context(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, int64(278), in.TradableInstrumentID)
	assert.Len(t, in.Routes, 2)

	byID, err := client.InstrumentByID(t.Context(), 300)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", byID.Name)

	name, err := client.SymbolName(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSD", name)

	_, err = client.InstrumentBySymbol(t.Context(), "XAUUSD")
	assert.ErrorIs(t, err, apperrors.ErrInstrumentNotFound)

	_, err = client.InstrumentByID(t.Context(), 999)
	assert.ErrorIs(t, err, apperrors.ErrInstrumentNotFound)
}

func TestRouteResolution(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	tradeRoute, err := client.tradeRouteID(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, int64(900), tradeRoute)

	// BTCUSD has a single INFO route, so no probing happens.
	infoRoute, err := client.infoRouteID(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, int64(901), infoRoute)
}

func TestInfoRouteProbing(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	// EURUSD carries two INFO routes; 911 is stale, 912 answers. Probing
	// runs in reverse order, so 912 is found on the first try.
	infoRoute, err := client.infoRouteID(t.Context(), 300)
	require.NoError(t, err)
	assert.Equal(t, int64(912), infoRoute)

	broker.mu.Lock()
	probes := broker.quotesCalls
	broker.mu.Unlock()
	assert.Equal(t, 1, probes, "reverse-order probing must find the live route first")

	// The validated route is cached per instrument.
	again, err := client.infoRouteID(t.Context(), 300)
	require.NoError(t, err)
	assert.Equal(t, infoRoute, again)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, probes, broker.quotesCalls, "cached routes must not be re-probed")
}

func TestInstrumentsCached(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	first, err := client.Instruments(t.Context())
	require.NoError(t, err)
	require.Len(t, first, 2)

	broker.srv.Close() // any further HTTP call would fail

	second, err := client.Instruments(t.Context())
	require.NoError(t, err, "repeated lookups must be served from the cache")
	assert.Equal(t, first, second)

	client.InvalidateCaches()
	_, err = client.Instruments(t.Context())
	assert.Error(t, err, "invalidated cache must force a re-fetch")
}

func TestInstrumentDetails(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	details, err := client.InstrumentDetails(t.Context(), 278, "")
	require.NoError(t, err)
	assert.Equal(t, int64(278), details.TradableInstrumentID)
	assert.Equal(t, int64(42), details.TradingSessionID)
	assert.Contains(t, details.Raw, "localizedName")
	assert.JSONEq(t, `"en:Bitcoin"`, string(details.Raw["localizedName"]))
}

func TestSessionDetails(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	session, err := client.SessionDetails(t.Context(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), session.ID)
	assert.Equal(t, "Crypto 24/7", session.Name)

	status, err := client.SessionStatusDetails(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, status.AllowedOperations)
	assert.Equal(t, []int{1, 2, 4}, status.AllowedOrderTypes)
}

func TestBrokerConfig(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	cfg, err := client.BrokerConfig(t.Context())
	require.NoError(t, err)

	columns, err := cfg.ColumnNames(ordersConfigKey)
	require.NoError(t, err)
	assert.Equal(t, orderColumnIDs, columns)

	maxBars, err := cfg.MaxPriceHistoryBars()
	require.NoError(t, err)
	assert.Equal(t, 50000, maxBars)

	rl, err := cfg.RouteRateLimit("QUOTES_HISTORY")
	require.NoError(t, err)
	assert.Equal(t, 10.0, rl.Limit)

	_, err = cfg.RouteRateLimit("NO_SUCH_ROUTE")
	var shapeErr *apperrors.ShapeError
	assert.ErrorAs(t, err, &shapeErr)
}

func TestAccountsAndState(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	accounts, err := client.Accounts(t.Context())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, int64(1001), accounts[0].ID)
	assert.Equal(t, int64(7), accounts[0].AccNum)
	assert.Equal(t, "USD", accounts[0].Currency)

	state, err := client.AccountState(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "10000.5", state.Balance.String())
	assert.Equal(t, "9000", state.AvailableFunds.String())
	assert.Equal(t, int64(2), state.PositionsCount)
	assert.Equal(t, int64(1), state.OrdersCount)
}

func TestAccountSelection(t *testing.T) {
	broker := newTestBroker(t)

	cfg := testConfig(broker)
	cfg.Account.AccNum = 8
	client, err := New(t.Context(), cfg, WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.Equal(t, int64(1002), client.AccountID())
	assert.Equal(t, "Hedge", client.AccountName())

	cfg = testConfig(broker)
	cfg.Account.ID = 9999
	_, err = New(t.Context(), cfg, WithLogger(logging.Nop()))
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}
