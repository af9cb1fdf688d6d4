package tradelocker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apperrors "tradelocker/pkg/errors"
	"tradelocker/pkg/logging"
	"tradelocker/pkg/rest"
	"tradelocker/pkg/telemetry"
)

const (
	// sizePrecision is the number of decimal places order sizes are
	// rounded to before submission.
	sizePrecision = 6
	// minLotSize is the smallest order size the broker accepts.
	minLotSize = 0.01
	// maxStrategyIDLen is the broker's limit on the strategyId field.
	maxStrategyIDLen = 32
)

// OrderRequest describes a new order. Quantity and Side are required; Type
// defaults to market. Market orders must use (or omit, for) IOC validity,
// limit and stop orders require GTC.
type OrderRequest struct {
	InstrumentID int64
	Quantity     decimal.Decimal
	Side         Side
	Type         OrderType
	Price        float64 // limit orders
	StopPrice    float64 // stop orders
	Validity     Validity

	TakeProfit     float64
	TakeProfitType RiskPriceType
	StopLoss       float64
	StopLossType   RiskPriceType

	StrategyID string
}

// validate normalizes the request in place and rejects parameter combinations
// the broker would refuse.
func (r *OrderRequest) validate(log logging.Logger) error {
	if r.Type == "" {
		r.Type = OrderTypeMarket
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: side must be buy or sell", apperrors.ErrInvalidOrderParameter)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", apperrors.ErrInvalidOrderParameter)
	}

	if r.Type == OrderTypeMarket && r.Price != 0 {
		log.Warn("price specified for a market order, ignoring it")
		r.Price = 0
	}

	switch r.Type {
	case OrderTypeMarket:
		if r.Validity != "" && r.Validity != ValidityIOC {
			return fmt.Errorf("%w: market orders must use IOC validity", apperrors.ErrInvalidOrderParameter)
		}
		r.Validity = ValidityIOC
	case OrderTypeLimit, OrderTypeStop:
		if r.Validity == "" {
			return fmt.Errorf("%w: validity is required for %s orders, use GTC",
				apperrors.ErrInvalidOrderParameter, r.Type)
		}
		if r.Validity != ValidityGTC {
			return fmt.Errorf("%w: %s orders must use GTC validity", apperrors.ErrInvalidOrderParameter, r.Type)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", apperrors.ErrInvalidOrderParameter, r.Type)
	}

	if r.StopLoss != 0 && r.StopLossType == "" {
		return fmt.Errorf("%w: stop loss set without a stop loss type (absolute or offset)",
			apperrors.ErrInvalidOrderParameter)
	}
	if r.TakeProfit != 0 && r.TakeProfitType == "" {
		return fmt.Errorf("%w: take profit set without a take profit type (absolute or offset)",
			apperrors.ErrInvalidOrderParameter)
	}

	if r.Type == OrderTypeStop && r.StopPrice == 0 {
		if r.Price != 0 {
			return fmt.Errorf("%w: stop orders take a stop price, not a price",
				apperrors.ErrInvalidOrderParameter)
		}
		return fmt.Errorf("%w: stop orders require a stop price", apperrors.ErrInvalidOrderParameter)
	}

	if len(r.StrategyID) > maxStrategyIDLen {
		return fmt.Errorf("%w: strategy id longer than %d characters",
			apperrors.ErrInvalidOrderParameter, maxStrategyIDLen)
	}

	return nil
}

// PlaceOrder submits an order and returns the broker-assigned order id. A
// request the broker accepts but whose order is rejected (for example on
// insufficient margin) returns an *apperrors.OrderError.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (int64, error) {
	if err := req.validate(c.log); err != nil {
		return 0, err
	}

	routeID, err := c.tradeRouteID(ctx, req.InstrumentID)
	if err != nil {
		return 0, err
	}

	payload := map[string]any{
		"qty":                  req.Quantity.Round(sizePrecision).String(),
		"routeId":              routeID,
		"side":                 req.Side,
		"validity":             req.Validity,
		"tradableInstrumentId": strconv.FormatInt(req.InstrumentID, 10),
		"type":                 req.Type,
	}
	if req.Price != 0 {
		payload["price"] = req.Price
	}
	if req.StopPrice != 0 {
		payload["stopPrice"] = req.StopPrice
	}
	if req.TakeProfit != 0 {
		payload["takeProfit"] = req.TakeProfit
		payload["takeProfitType"] = req.TakeProfitType
	}
	if req.StopLoss != 0 {
		payload["stopLoss"] = req.StopLoss
		payload["stopLossType"] = req.StopLossType
	}
	if req.StrategyID != "" {
		payload["strategyId"] = req.StrategyID
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/trade/accounts/%d/orders", c.accountID),
		Body:   payload,
	})
	if err != nil {
		return 0, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return 0, fmt.Errorf("failed to decode order response: %w", err)
	}
	if env.S != statusOK {
		telemetry.GetGlobalMetrics().RecordOrderRejected(strconv.FormatInt(req.InstrumentID, 10))
		return 0, &apperrors.OrderError{ErrMsg: env.ErrMsg, Response: body}
	}

	var data struct {
		OrderID flexInt64 `json:"orderId"`
	}
	if err := json.Unmarshal(env.D, &data); err != nil || data.OrderID == 0 {
		telemetry.GetGlobalMetrics().RecordOrderRejected(strconv.FormatInt(req.InstrumentID, 10))
		return 0, &apperrors.OrderError{ErrMsg: env.ErrMsg, Response: body}
	}

	orderID := int64(data.OrderID)
	c.log.Info("order placed", "order_id", orderID,
		"instrument_id", req.InstrumentID, "side", req.Side, "qty", req.Quantity)
	telemetry.GetGlobalMetrics().RecordOrderPlaced(strconv.FormatInt(req.InstrumentID, 10))
	return orderID, nil
}

// OrdersQuery filters the orders listing. History switches to the
// ordersHistory endpoint, which includes filled and cancelled orders from
// previous sessions.
type OrdersQuery struct {
	History      bool
	InstrumentID int64
	Lookback     string
	From         int64
	To           int64
}

// Orders lists pending orders, or the order history when q.History is set.
func (c *Client) Orders(ctx context.Context, q OrdersQuery) ([]Order, error) {
	endpoint := "orders"
	configKey := ordersConfigKey
	if q.History {
		endpoint = "ordersHistory"
		configKey = ordersHistoryConfigKey
	}

	query := map[string]string{}
	if q.InstrumentID != 0 {
		query["tradableInstrumentId"] = strconv.FormatInt(q.InstrumentID, 10)
	}

	from, to := q.From, q.To
	if q.Lookback != "" {
		var err error
		from, to, err = resolveWindow(q.Lookback, q.From, q.To, time.Now())
		if err != nil {
			return nil, err
		}
	}
	if from != 0 {
		query["from"] = strconv.FormatInt(from, 10)
	}
	if to != 0 && (q.To != 0 || q.Lookback != "") {
		query["to"] = strconv.FormatInt(to, 10)
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/trade/accounts/%d/%s", c.accountID, endpoint),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeEnvelope(body)
	if err != nil || data == nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	raw, ok := payload[endpoint]
	if !ok {
		return nil, &apperrors.ShapeError{Key: endpoint, Context: "orders response"}
	}

	columns, err := c.columnNames(ctx, configKey)
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(rows))
	for _, row := range rows {
		rec, err := zipRecord(columns, row, endpoint)
		if err != nil {
			return nil, err
		}
		o, err := orderFromRecord(rec, endpoint)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// ModifyOrderParams carries the fields of a PATCH on a pending order. Only
// non-nil fields are sent.
type ModifyOrderParams struct {
	Qty            *decimal.Decimal
	Price          *float64
	StopPrice      *float64
	TakeProfit     *float64
	TakeProfitType RiskPriceType
	StopLoss       *float64
	StopLossType   RiskPriceType
	Validity       Validity
}

func (p ModifyOrderParams) payload() map[string]any {
	body := map[string]any{}
	if p.Qty != nil {
		body["qty"] = p.Qty.Round(sizePrecision).String()
	}
	if p.Price != nil {
		body["price"] = *p.Price
	}
	if p.StopPrice != nil {
		body["stopPrice"] = *p.StopPrice
	}
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
	if p.Validity != "" {
		body["validity"] = p.Validity
	}
	return body
}

// ModifyOrder updates a pending order.
func (c *Client) ModifyOrder(ctx context.Context, orderID int64, params ModifyOrderParams) error {
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf("/trade/orders/%d", orderID),
		Body:   params.payload(),
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}

// CancelOrder deletes a pending order.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	c.log.Info("cancelling order", "order_id", orderID)
	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/trade/orders/%d", orderID),
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}

// CancelAllOrders deletes every pending order, or only those on the given
// instrument when instrumentID is non-zero.
func (c *Client) CancelAllOrders(ctx context.Context, instrumentID int64) error {
	query := map[string]string{}
	if instrumentID != 0 {
		query["tradableInstrumentId"] = strconv.FormatInt(instrumentID, 10)
	}

	body, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("/trade/accounts/%d/orders", c.accountID),
		Query:  query,
	})
	if err != nil {
		return err
	}
	_, err = decodeEnvelope(body)
	return err
}

// PositionIDForOrder resolves the position created by a filled order by
// walking the order history.
func (c *Client) PositionIDForOrder(ctx context.Context, orderID int64) (int64, error) {
	orders, err := c.Orders(ctx, OrdersQuery{History: true})
	if err != nil {
		return 0, err
	}
	for _, o := range orders {
		if o.ID == orderID {
			return o.PositionID, nil
		}
	}
	return 0, fmt.Errorf("%w: order id %d", apperrors.ErrOrderNotFound, orderID)
}
