package tradelocker

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradelocker/pkg/errors"
)

func TestQuotes(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	quotes, err := client.Quotes(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, 101.5, quotes.AskPrice)
	assert.Equal(t, 101.3, quotes.BidPrice)
	assert.Equal(t, 4.0, quotes.AskSize)
	assert.Equal(t, 6.0, quotes.BidSize)

	ask, err := client.LatestAsk(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, 101.5, ask)

	bid, err := client.LatestBid(t.Context(), 278)
	require.NoError(t, err)
	assert.Equal(t, 101.3, bid)
}

func TestPriceHistoryLookbackWindow(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	before := time.Now()
	bars, err := client.PriceHistory(t.Context(), 278, Resolution15m, HistoryWindow{Lookback: "5D"})
	after := time.Now()
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1700000000000), bars[0].Timestamp)
	assert.Equal(t, 1.15, bars[0].Close)

	broker.mu.Lock()
	from, errFrom := strconv.ParseInt(broker.historyFrom, 10, 64)
	to, errTo := strconv.ParseInt(broker.historyTo, 10, 64)
	broker.mu.Unlock()
	require.NoError(t, errFrom)
	require.NoError(t, errTo)

	fiveDays := int64(5 * 24 * 60 * 60 * 1000)
	assert.Equal(t, fiveDays, to-from, "window must span exactly five days")
	assert.GreaterOrEqual(t, to, before.UnixMilli(), "window must end at now")
	assert.LessOrEqual(t, to, after.UnixMilli())
}

func TestPriceHistoryNoData(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	broker.mu.Lock()
	broker.noData = true
	broker.mu.Unlock()

	bars, err := client.PriceHistory(t.Context(), 278, Resolution1D, HistoryWindow{Lookback: "5D"})
	require.NoError(t, err)
	assert.NotNil(t, bars)
	assert.Empty(t, bars)
}

func TestPriceHistoryRejectsOversizedWindow(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	// A year of minute bars is far beyond the 50000 bar limit.
	_, err := client.PriceHistory(t.Context(), 278, Resolution1m, HistoryWindow{Lookback: "1Y"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Zero(t, broker.historyCalls, "oversized requests must not reach the broker")
}

func TestPriceHistoryRequiresWindow(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	_, err := client.PriceHistory(t.Context(), 278, Resolution1D, HistoryWindow{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestDailyBar(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	bar, err := client.DailyBar(t.Context(), 278, "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 110.0, bar.High)
	assert.Equal(t, 95.0, bar.Low)
	assert.Equal(t, 105.0, bar.Close)
}

func TestMarketDepth(t *testing.T) {
	broker := newTestBroker(t)
	client := newTestClient(t, broker)

	depth, err := client.MarketDepth(t.Context(), 278)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 2)
	require.Len(t, depth.Bids, 2)
	assert.Equal(t, []float64{101.5, 4}, depth.Asks[0])
	assert.Equal(t, []float64{101.3, 6}, depth.Bids[0])
}
