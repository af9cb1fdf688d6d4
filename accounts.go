package tradelocker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"tradelocker/pkg/rest"
)

// Accounts returns all trading accounts tied to the authenticated user. The
// list is cached for 24 hours. This endpoint is the only authorized route
// that omits the accNum header, because no account is selected yet when it is
// first called.
func (c *Client) Accounts(ctx context.Context) ([]Account, error) {
	return c.accounts.get(ctx, func(ctx context.Context) ([]Account, error) {
		body, err := c.rest.Do(ctx, rest.Request{
			Method:     http.MethodGet,
			Path:       "/auth/jwt/all-accounts",
			SkipAccNum: true,
		})
		if err != nil {
			return nil, err
		}

		var payload struct {
			Accounts []Account `json:"accounts"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode accounts: %w", err)
		}
		return payload.Accounts, nil
	})
}

// TradeAccounts returns the detail records of the bound account, including
// its trading and risk rules.
func (c *Client) TradeAccounts(ctx context.Context) ([]TradeAccount, error) {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   "/trade/accounts",
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}

	var accounts []TradeAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode trade accounts: %w", err)
	}
	return accounts, nil
}

// AccountState returns the current snapshot of the bound account: balance,
// available funds, margin requirements and open PnL.
func (c *Client) AccountState(ctx context.Context) (AccountState, error) {
	var state AccountState

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/accounts/%d/state", c.accountID),
	})
	if err != nil {
		return state, err
	}

	data, err := decodeEnvelope(body)
	if err != nil {
		return state, err
	}

	var payload struct {
		AccountDetailsData json.RawMessage `json:"accountDetailsData"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return state, fmt.Errorf("failed to decode account state: %w", err)
	}

	columns, err := c.columnNames(ctx, accountDetailsConfigKey)
	if err != nil {
		return state, err
	}

	var row []any
	dec := jsonDecoderUseNumber(payload.AccountDetailsData)
	if err := dec.Decode(&row); err != nil {
		return state, fmt.Errorf("failed to decode account state values: %w", err)
	}

	rec, err := zipRecord(columns, row, "account state")
	if err != nil {
		return state, err
	}

	state.Raw = make(map[string]decimal.Decimal, len(rec))
	for name := range rec {
		// Every account state metric is numeric.
		v, err := rec.dec(name, "account state")
		if err != nil {
			return state, err
		}
		state.Raw[name] = v
	}

	state.Balance = state.Raw["balance"]
	state.ProjectedBalance = state.Raw["projectedBalance"]
	state.AvailableFunds = state.Raw["availableFunds"]
	state.BlockedBalance = state.Raw["blockedBalance"]
	state.OpenGrossPnL = state.Raw["openGrossPnL"]
	state.OpenNetPnL = state.Raw["openNetPnL"]
	state.PositionsCount = state.Raw["positionsCount"].IntPart()
	state.OrdersCount = state.Raw["ordersCount"].IntPart()

	return state, nil
}

// Executions returns the orders filled in the current session.
func (c *Client) Executions(ctx context.Context) ([]Execution, error) {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/accounts/%d/executions", c.accountID),
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeEnvelope(body)
	if err != nil || data == nil {
		return nil, err
	}

	var payload struct {
		Executions json.RawMessage `json:"executions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode executions: %w", err)
	}

	columns, err := c.columnNames(ctx, filledOrdersConfigKey)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(payload.Executions)
	if err != nil {
		return nil, err
	}

	executions := make([]Execution, 0, len(rows))
	for _, row := range rows {
		rec, err := zipRecord(columns, row, "executions")
		if err != nil {
			return nil, err
		}
		e, err := executionFromRecord(rec, "executions")
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}
