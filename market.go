package tradelocker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/rest"
	"tradelocker/pkg/retry"
)

// HistoryWindow selects the time range of a price history request. Either
// Lookback (for example "5D") or an explicit From is required; a zero To
// means "until now". Explicit timestamps, in unix milliseconds, take
// precedence over the lookback period.
type HistoryWindow struct {
	Lookback string
	From     int64
	To       int64
}

// Quotes returns the current top of book for an instrument.
func (c *Client) Quotes(ctx context.Context, instrumentID int64) (Quotes, error) {
	routeID, err := c.infoRouteID(ctx, instrumentID)
	if err != nil {
		return Quotes{}, err
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/trade/quotes",
		Query: map[string]string{
			"tradableInstrumentId": strconv.FormatInt(instrumentID, 10),
			"routeId":              strconv.FormatInt(routeID, 10),
		},
	})
	if err != nil {
		return Quotes{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return Quotes{}, err
	}

	var quotes Quotes
	if err := json.Unmarshal(data, &quotes); err != nil {
		return Quotes{}, fmt.Errorf("failed to decode quotes: %w", err)
	}
	return quotes, nil
}

// LatestAsk returns the current asking price of an instrument.
func (c *Client) LatestAsk(ctx context.Context, instrumentID int64) (float64, error) {
	quotes, err := c.Quotes(ctx, instrumentID)
	if err != nil {
		return 0, err
	}
	return quotes.AskPrice, nil
}

// LatestBid returns the current bid price of an instrument.
func (c *Client) LatestBid(ctx context.Context, instrumentID int64) (float64, error) {
	quotes, err := c.Quotes(ctx, instrumentID)
	if err != nil {
		return 0, err
	}
	return quotes.BidPrice, nil
}

// DailyBar returns the running daily candle for an instrument. An empty
// barType defaults to ASK.
func (c *Client) DailyBar(ctx context.Context, instrumentID int64, barType BarType) (DailyBar, error) {
	if barType == "" {
		barType = BarTypeAsk
	}

	routeID, err := c.infoRouteID(ctx, instrumentID)
	if err != nil {
		return DailyBar{}, err
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/trade/dailyBar",
		Query: map[string]string{
			"tradableInstrumentId": strconv.FormatInt(instrumentID, 10),
			"routeId":              strconv.FormatInt(routeID, 10),
			"barType":              string(barType),
		},
	})
	if err != nil {
		return DailyBar{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return DailyBar{}, err
	}

	var bar DailyBar
	if err := json.Unmarshal(data, &bar); err != nil {
		return DailyBar{}, fmt.Errorf("failed to decode daily bar: %w", err)
	}
	return bar, nil
}

// MarketDepth returns the current order book levels for an instrument.
func (c *Client) MarketDepth(ctx context.Context, instrumentID int64) (MarketDepth, error) {
	routeID, err := c.infoRouteID(ctx, instrumentID)
	if err != nil {
		return MarketDepth{}, err
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/trade/depth",
		Query: map[string]string{
			"tradableInstrumentId": strconv.FormatInt(instrumentID, 10),
			"routeId":              strconv.FormatInt(routeID, 10),
		},
	})
	if err != nil {
		return MarketDepth{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return MarketDepth{}, err
	}

	var depth MarketDepth
	if err := json.Unmarshal(data, &depth); err != nil {
		return MarketDepth{}, fmt.Errorf("failed to decode market depth: %w", err)
	}
	return depth, nil
}

// PriceHistory returns OHLCV bars for an instrument over the given window. A
// "no_data" response yields an empty, non-nil slice. Requests that would span
// more bars than the broker's QUOTES_HISTORY_BARS limit are rejected before
// any network call.
func (c *Client) PriceHistory(ctx context.Context, instrumentID int64, resolution Resolution, window HistoryWindow) ([]PriceBar, error) {
	from, to, err := resolveWindow(window.Lookback, window.From, window.To, time.Now())
	if err != nil {
		return nil, err
	}

	size, err := estimateBars(from, to, resolution)
	if err != nil {
		return nil, err
	}
	cfg, err := c.BrokerConfig(ctx)
	if err != nil {
		return nil, err
	}
	maxBars, err := cfg.MaxPriceHistoryBars()
	if err != nil {
		return nil, err
	}
	if size > maxBars {
		return nil, fmt.Errorf("%w: requested %d bars, broker allows %d per request, split the window",
			apperrors.ErrInvalidArgument, size, maxBars)
	}

	routeID, err := c.infoRouteID(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	body, err := c.fetchHistory(ctx, instrumentID, routeID, resolution, from, to)
	if err != nil {
		return nil, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if data == nil {
		c.log.Warn("no price history for the requested window",
			"instrument_id", instrumentID, "from", from, "to", to)
		return []PriceBar{}, nil
	}

	var payload struct {
		BarDetails []PriceBar `json:"barDetails"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode price history: %w", err)
	}
	if payload.BarDetails == nil {
		return []PriceBar{}, nil
	}
	return payload.BarDetails, nil
}

// fetchHistory performs the history request, consulting the disk cache when
// one is configured. Only fully resolved windows are cached so that "until
// now" requests never pin a stale range.
func (c *Client) fetchHistory(ctx context.Context, instrumentID, routeID int64, resolution Resolution, from, to int64) ([]byte, error) {
	var key string
	if c.history != nil {
		key = fmt.Sprintf("history|%s|%s|%s|%d|%d|%d|%s|%d|%d",
			c.cfg.Credentials.Email, c.cfg.Credentials.Server, c.cfg.Environment,
			c.accountID, instrumentID, routeID, resolution, from, to)
		if cached, ok, err := c.history.Get(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, isTransientError, func() error {
		var err error
		body, err = c.rest.Do(ctx, rest.Request{
			Method: http.MethodGet,
			Path:   "/trade/history",
			Query: map[string]string{
				"tradableInstrumentId": strconv.FormatInt(instrumentID, 10),
				"routeId":              strconv.FormatInt(routeID, 10),
				"resolution":           string(resolution),
				"from":                 strconv.FormatInt(from, 10),
				"to":                   strconv.FormatInt(to, 10),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if c.history != nil {
		if err := c.history.Put(ctx, key, body, c.cfg.Cache.TTL); err != nil {
			c.log.Warn("failed to write history cache entry", "error", err)
		}
	}
	return body, nil
}

// isTransientError reports whether a history fetch is worth retrying after
// the transport layer exhausted its own retries.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, apperrors.ErrRateLimitExceeded)
}
