package tradelocker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/rest"
)

// Positions returns all open positions of the bound account.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/accounts/%d/positions", c.accountID),
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeEnvelope(body)
	if err != nil || data == nil {
		return nil, err
	}

	var payload struct {
		Positions json.RawMessage `json:"positions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	columns, err := c.columnNames(ctx, positionsConfigKey)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(payload.Positions)
	if err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(rows))
	for _, row := range rows {
		rec, err := zipRecord(columns, row, "positions")
		if err != nil {
			return nil, err
		}
		p, err := positionFromRecord(rec, "positions")
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

// CloseRequest selects the position to close. Exactly one of PositionID or
// OrderID must be set; with OrderID the position is resolved through the
// order history, covering orders from previous sessions. A zero Quantity
// closes the full position, a positive one reduces it.
type CloseRequest struct {
	PositionID int64
	OrderID    int64
	Quantity   decimal.Decimal
}

// ClosePosition places a closing order for one position. Closing is not
// guaranteed to be immediate: the broker first attempts an IOC and then a GTC
// order. A position id the broker does not know fails with the broker's
// APIError rather than silently succeeding.
func (c *Client) ClosePosition(ctx context.Context, req CloseRequest) error {
	if req.PositionID == 0 && req.OrderID == 0 {
		return fmt.Errorf("%w: either a position id or an order id is required", apperrors.ErrInvalidArgument)
	}
	if req.PositionID != 0 && req.OrderID != 0 {
		return fmt.Errorf("%w: position id and order id are mutually exclusive", apperrors.ErrInvalidArgument)
	}

	if req.PositionID != 0 {
		return c.placeClosePositionOrder(ctx, req.PositionID, req.Quantity)
	}

	positionID, qty, err := c.resolveCloseFromOrder(ctx, req.OrderID)
	if err != nil {
		return err
	}

	if req.Quantity.IsPositive() && req.Quantity.LessThan(qty) {
		qty = req.Quantity
	}
	qty = qty.Round(sizePrecision)
	if qty.LessThan(decimal.NewFromFloat(minLotSize)) {
		return fmt.Errorf("%w: quantity to close %s is below the minimum lot size %v",
			apperrors.ErrInvalidOrderParameter, qty, minLotSize)
	}

	return c.placeClosePositionOrder(ctx, positionID, qty)
}

// resolveCloseFromOrder walks the order history to find the position a filled
// order contributed to and the net open quantity of that position.
func (c *Client) resolveCloseFromOrder(ctx context.Context, orderID int64) (int64, decimal.Decimal, error) {
	orders, err := c.Orders(ctx, OrdersQuery{History: true})
	if err != nil {
		return 0, decimal.Zero, err
	}

	var positionID int64
	for _, o := range orders {
		if o.ID == orderID {
			if o.Status == OrderStatusRejected {
				c.log.Warn("order was rejected by the broker", "order_id", orderID)
			}
			if o.Status == OrderStatusFilled {
				positionID = o.PositionID
			}
		}
	}
	if positionID == 0 {
		return 0, decimal.Zero, fmt.Errorf("%w: no filled order with id %d",
			apperrors.ErrPositionNotFound, orderID)
	}

	// Net all filled orders of the position so partially closed positions
	// report their true remaining size.
	qty := decimal.Zero
	for _, o := range orders {
		if o.PositionID != positionID || o.Status != OrderStatusFilled {
			continue
		}
		if o.Side == SideSell {
			qty = qty.Sub(o.Qty)
		} else {
			qty = qty.Add(o.Qty)
		}
	}
	return positionID, qty.Abs(), nil
}

func (c *Client) placeClosePositionOrder(ctx context.Context, positionID int64, qty decimal.Decimal) error {
	c.log.Info("closing position", "position_id", positionID, "qty", qty)

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/trade/positions/%d", positionID),
		Body:   map[string]string{"qty": qty.String()},
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}

// CloseAllPositions places closing orders for every open position, or only
// those on the given instrument when instrumentID is non-zero.
func (c *Client) CloseAllPositions(ctx context.Context, instrumentID int64) error {
	query := map[string]string{}
	if instrumentID != 0 {
		query["tradableInstrumentId"] = strconv.FormatInt(instrumentID, 10)
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/trade/accounts/%d/positions", c.accountID),
		Query:  query,
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}

// ModifyPositionParams carries the fields of a PATCH on an open position.
type ModifyPositionParams struct {
	TakeProfit     *float64
	TakeProfitType RiskPriceType
	StopLoss       *float64
	StopLossType   RiskPriceType
}

func (p ModifyPositionParams) payload() map[string]any {
	body := map[string]any{}
	if p.TakeProfit != nil {
		body["takeProfit"] = *p.TakeProfit
	}
	if p.TakeProfitType != "" {
		body["takeProfitType"] = p.TakeProfitType
	}
	if p.StopLoss != nil {
		body["stopLoss"] = *p.StopLoss
	}
	if p.StopLossType != "" {
		body["stopLossType"] = p.StopLossType
	}
	return body
}

// ModifyPosition updates the stop loss or take profit of an open position.
func (c *Client) ModifyPosition(ctx context.Context, positionID int64, params ModifyPositionParams) error {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/trade/positions/%d", positionID),
		Body:   params.payload(),
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}
