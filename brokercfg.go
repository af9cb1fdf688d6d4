package tradelocker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/rest"
)

// Column configuration keys of the /trade/config payload. Each names the
// positional layout of one list endpoint.
const (
	ordersConfigKey         = "ordersConfig"
	ordersHistoryConfigKey  = "ordersHistoryConfig"
	positionsConfigKey      = "positionsConfig"
	filledOrdersConfigKey   = "filledOrdersConfig"
	accountDetailsConfigKey = "accountDetailsConfig"
)

// Limit is one entry of the configuration limits list.
type Limit struct {
	LimitType string  `json:"limitType"`
	Limit     float64 `json:"limit"`
}

// RateLimit describes the broker-side rate limit of one route group.
type RateLimit struct {
	RateLimitType string  `json:"rateLimitType"`
	Measure       string  `json:"measure"`
	IntervalNum   float64 `json:"intervalNum"`
	Limit         float64 `json:"limit"`
}

type columnConfig struct {
	Columns []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"columns"`
}

// BrokerConfig is the account-level configuration: the column layouts of the
// positional endpoints plus the broker's limits and rate limits.
type BrokerConfig struct {
	columns    map[string][]string
	Limits     []Limit
	RateLimits []RateLimit
}

// ColumnNames returns the column ids for one of the configuration keys.
func (b *BrokerConfig) ColumnNames(key string) ([]string, error) {
	names, ok := b.columns[key]
	if !ok || len(names) == 0 {
		return nil, &apperrors.ShapeError{Key: key, Context: "broker configuration"}
	}
	return names, nil
}

// MaxPriceHistoryBars returns the QUOTES_HISTORY_BARS limit: the largest
// number of bars one history request may span.
func (b *BrokerConfig) MaxPriceHistoryBars() (int, error) {
	for _, l := range b.Limits {
		if l.LimitType == "QUOTES_HISTORY_BARS" {
			return int(l.Limit), nil
		}
	}
	return 0, &apperrors.ShapeError{Key: "QUOTES_HISTORY_BARS", Context: "broker configuration limits"}
}

// RouteRateLimit returns the broker rate limit for the named route group, for
// example "QUOTES_HISTORY".
func (b *BrokerConfig) RouteRateLimit(routeName string) (RateLimit, error) {
	for _, rl := range b.RateLimits {
		if rl.RateLimitType == routeName {
			return rl, nil
		}
	}
	return RateLimit{}, &apperrors.ShapeError{Key: routeName, Context: "broker configuration rate limits"}
}

// BrokerConfig fetches the account configuration, cached for 24 hours.
func (c *Client) BrokerConfig(ctx context.Context) (*BrokerConfig, error) {
	return c.brokerCfg.get(ctx, func(ctx context.Context) (*BrokerConfig, error) {
		body, err := c.rest.Do(ctx, rest.Request{
			Method: http.MethodGet,
			Path:   "/trade/config",
		})
		if err != nil {
			return nil, err
		}

		data, err := decodeEnvelope(body)
		if err != nil {
			return nil, err
		}

		var payload struct {
			OrdersConfig         columnConfig `json:"ordersConfig"`
			OrdersHistoryConfig  columnConfig `json:"ordersHistoryConfig"`
			PositionsConfig      columnConfig `json:"positionsConfig"`
			FilledOrdersConfig   columnConfig `json:"filledOrdersConfig"`
			AccountDetailsConfig columnConfig `json:"accountDetailsConfig"`
			Limits               []Limit      `json:"limits"`
			RateLimits           []RateLimit  `json:"rateLimits"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode broker configuration: %w", err)
		}

		cfg := &BrokerConfig{
			columns: map[string][]string{
				ordersConfigKey:         columnIDs(payload.OrdersConfig),
				ordersHistoryConfigKey:  columnIDs(payload.OrdersHistoryConfig),
				positionsConfigKey:      columnIDs(payload.PositionsConfig),
				filledOrdersConfigKey:   columnIDs(payload.FilledOrdersConfig),
				accountDetailsConfigKey: columnIDs(payload.AccountDetailsConfig),
			},
			Limits:     payload.Limits,
			RateLimits: payload.RateLimits,
		}
		return cfg, nil
	})
}

func columnIDs(cc columnConfig) []string {
	ids := make([]string, 0, len(cc.Columns))
	for _, col := range cc.Columns {
		ids = append(ids, col.ID)
	}
	return ids
}

// columnNames is a shorthand for fetching one column layout.
func (c *Client) columnNames(ctx context.Context, key string) ([]string, error) {
	cfg, err := c.BrokerConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.ColumnNames(key)
}
