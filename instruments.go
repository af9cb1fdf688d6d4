package tradelocker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/rest"
)

// Instruments returns every instrument tradable from the bound account,
// cached for 24 hours.
func (c *Client) Instruments(ctx context.Context) ([]Instrument, error) {
	return c.instruments.get(ctx, func(ctx context.Context) ([]Instrument, error) {
		body, err := c.rest.Do(ctx, rest.Request{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("/trade/accounts/%d/instruments", c.accountID),
		})
		if err != nil {
			return nil, err
		}

		data, err := decodeEnvelope(body)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Instruments []Instrument `json:"instruments"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode instruments: %w", err)
		}
		return payload.Instruments, nil
	})
}

// InstrumentBySymbol resolves a symbol name such as "BTCUSD" to its
// instrument. When the broker lists the symbol more than once the first entry
// wins.
func (c *Client) InstrumentBySymbol(ctx context.Context, symbol string) (Instrument, error) {
	instruments, err := c.Instruments(ctx)
	if err != nil {
		return Instrument{}, err
	}

	var matches []Instrument
	for _, in := range instruments {
		if in.Name == symbol {
			matches = append(matches, in)
		}
	}
	switch len(matches) {
	case 0:
		return Instrument{}, fmt.Errorf("%w: symbol %q", apperrors.ErrInstrumentNotFound, symbol)
	case 1:
	default:
		c.log.Warn("multiple instruments match symbol, using the first", "symbol", symbol, "count", len(matches))
	}
	return matches[0], nil
}

// InstrumentByID resolves a tradable instrument id to its instrument record.
func (c *Client) InstrumentByID(ctx context.Context, instrumentID int64) (Instrument, error) {
	instruments, err := c.Instruments(ctx)
	if err != nil {
		return Instrument{}, err
	}
	for _, in := range instruments {
		if in.TradableInstrumentID == instrumentID {
			return in, nil
		}
	}
	return Instrument{}, fmt.Errorf("%w: instrument id %d", apperrors.ErrInstrumentNotFound, instrumentID)
}

// SymbolName returns the symbol name of an instrument id.
func (c *Client) SymbolName(ctx context.Context, instrumentID int64) (string, error) {
	in, err := c.InstrumentByID(ctx, instrumentID)
	if err != nil {
		return "", err
	}
	return in.Name, nil
}

// InstrumentDetails fetches the per-instrument detail payload in the given
// locale ("en" when empty).
func (c *Client) InstrumentDetails(ctx context.Context, instrumentID int64, locale string) (InstrumentDetails, error) {
	if locale == "" {
		locale = "en"
	}

	routeID, err := c.infoRouteID(ctx, instrumentID)
	if err != nil {
		return InstrumentDetails{}, err
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/instruments/%d", instrumentID),
		Query: map[string]string{
			"routeId": strconv.FormatInt(routeID, 10),
			"locale":  locale,
		},
	})
	if err != nil {
		return InstrumentDetails{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return InstrumentDetails{}, err
	}

	var details InstrumentDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return InstrumentDetails{}, fmt.Errorf("failed to decode instrument details: %w", err)
	}
	return details, nil
}

// routeIDs returns the route ids of the given type for an instrument.
func (c *Client) routeIDs(ctx context.Context, instrumentID int64, routeType string) ([]int64, error) {
	in, err := c.InstrumentByID(ctx, instrumentID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, r := range in.Routes {
		if r.Type == routeType {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no %s route for instrument id %d",
			apperrors.ErrInstrumentNotFound, routeType, instrumentID)
	}
	return ids, nil
}

// tradeRouteID returns the TRADE route used for order placement.
func (c *Client) tradeRouteID(ctx context.Context, instrumentID int64) (int64, error) {
	ids, err := c.routeIDs(ctx, instrumentID, routeTypeTrade)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// infoRouteID returns a working INFO route for market data. Some accounts
// carry several INFO routes of which only one answers; those are probed with
// a quotes request, in reverse order because the stale route tends to be
// listed first. The validated choice is cached per instrument.
func (c *Client) infoRouteID(ctx context.Context, instrumentID int64) (int64, error) {
	c.routeMu.Lock()
	if id, ok := c.routes[instrumentID]; ok {
		c.routeMu.Unlock()
		return id, nil
	}
	c.routeMu.Unlock()

	ids, err := c.routeIDs(ctx, instrumentID, routeTypeInfo)
	if err != nil {
		return 0, err
	}

	routeID := ids[0]
	if len(ids) > 1 {
		found := false
		for i := len(ids) - 1; i >= 0; i-- {
			if c.infoRouteValid(ctx, ids[i], instrumentID) {
				routeID = ids[i]
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: no valid INFO route for instrument id %d",
				apperrors.ErrInstrumentNotFound, instrumentID)
		}
	}

	c.routeMu.Lock()
	c.routes[instrumentID] = routeID
	c.routeMu.Unlock()
	return routeID, nil
}

// infoRouteValid probes an INFO route with a quotes request.
func (c *Client) infoRouteValid(ctx context.Context, routeID, instrumentID int64) bool {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/trade/quotes",
		Query: map[string]string{
			"tradableInstrumentId": strconv.FormatInt(instrumentID, 10),
			"routeId":              strconv.FormatInt(routeID, 10),
		},
	})
	if err != nil {
		return false
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return env.S == statusOK
}

// SessionDetails returns the trading session schedule for a session id
// reported in instrument details.
func (c *Client) SessionDetails(ctx context.Context, sessionID int64) (SessionDetails, error) {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/sessions/%d", sessionID),
	})
	if err != nil {
		return SessionDetails{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return SessionDetails{}, err
	}

	var details SessionDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return SessionDetails{}, fmt.Errorf("failed to decode session details: %w", err)
	}
	return details, nil
}

// SessionStatusDetails returns the operations and order types the session
// status currently allows.
func (c *Client) SessionStatusDetails(ctx context.Context, sessionStatusID int64) (SessionStatusDetails, error) {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/sessionStatuses/%d", sessionStatusID),
	})
	if err != nil {
		return SessionStatusDetails{}, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return SessionStatusDetails{}, err
	}

	var details SessionStatusDetails
	if err := json.Unmarshal(data, &details); err != nil {
		return SessionStatusDetails{}, fmt.Errorf("failed to decode session status details: %w", err)
	}
	return details, nil
}
