package tradelocker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	apperrors "tradelocker/pkg/errors"
)

// Envelope statuses used by the trade endpoints.
const (
	statusOK     = "ok"
	statusError  = "error"
	statusNoData = "no_data"
)

type envelope struct {
	S      string          `json:"s"`
	D      json.RawMessage `json:"d"`
	ErrMsg string          `json:"errmsg"`
}

// decodeEnvelope unpacks the {"s":...,"d":...} wrapper around trade
// responses. A "no_data" status yields a nil payload and no error; an "error"
// status is surfaced as an APIError carrying the broker message.
func decodeEnvelope(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response envelope: %w", err)
	}

	switch env.S {
	case statusOK:
		return env.D, nil
	case statusNoData:
		return nil, nil
	case statusError:
		return nil, &apperrors.APIError{Status: http.StatusOK, ErrMsg: env.ErrMsg, Body: body}
	default:
		return nil, &apperrors.ShapeError{Key: "s", Context: "response envelope"}
	}
}

// flexInt64 decodes an int64 from either a JSON number or a quoted string.
type flexInt64 int64

func (v *flexInt64) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "null" || s == "" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*v = flexInt64(n)
	return nil
}

// record is one row of a positional response zipped with the column names
// from the broker configuration.
type record map[string]any

// jsonDecoderUseNumber decodes raw JSON keeping numbers as json.Number so
// int64 ids survive undamaged.
func jsonDecoderUseNumber(raw json.RawMessage) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec
}

// decodeRows parses a JSON array of positional rows.
func decodeRows(raw json.RawMessage) ([][]any, error) {
	dec := jsonDecoderUseNumber(raw)
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode positional rows: %w", err)
	}
	return rows, nil
}

// zipRecord pairs one positional row with the column names. Rows shorter than
// the column list indicate a payload the configuration does not describe.
func zipRecord(columns []string, row []any, context string) (record, error) {
	if len(row) < len(columns) {
		return nil, &apperrors.ShapeError{
			Key:     fmt.Sprintf("row of %d values for %d columns", len(row), len(columns)),
			Context: context,
		}
	}
	rec := make(record, len(columns))
	for i, name := range columns {
		rec[name] = row[i]
	}
	return rec, nil
}

// Field getters. A missing column is a ShapeError; a JSON null coerces to the
// zero value, matching how the broker reports unset numeric fields.

func (r record) str(key, context string) (string, error) {
	v, ok := r[key]
	if !ok {
		return "", &apperrors.ShapeError{Key: key, Context: context}
	}
	if v == nil {
		return "", nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return fmt.Sprintf("%v", t), nil
	}
}

func (r record) int64(key, context string) (int64, error) {
	v, ok := r[key]
	if !ok {
		return 0, &apperrors.ShapeError{Key: key, Context: context}
	}
	if v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			f, ferr := t.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("column %s in %s: %w", key, context, err)
			}
			return int64(f), nil
		}
		return n, nil
	case string:
		var n int64
		if _, err := fmt.Sscanf(t, "%d", &n); err != nil {
			return 0, fmt.Errorf("column %s in %s: %w", key, context, err)
		}
		return n, nil
	default:
		return 0, &apperrors.ShapeError{Key: key, Context: context}
	}
}

func (r record) f64(key, context string) (float64, error) {
	v, ok := r[key]
	if !ok {
		return 0, &apperrors.ShapeError{Key: key, Context: context}
	}
	if v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("column %s in %s: %w", key, context, err)
		}
		return f, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err != nil {
			return 0, fmt.Errorf("column %s in %s: %w", key, context, err)
		}
		return f, nil
	default:
		return 0, &apperrors.ShapeError{Key: key, Context: context}
	}
}

func (r record) dec(key, context string) (decimal.Decimal, error) {
	v, ok := r[key]
	if !ok {
		return decimal.Zero, &apperrors.ShapeError{Key: key, Context: context}
	}
	if v == nil {
		return decimal.Zero, nil
	}
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("column %s in %s: %w", key, context, err)
		}
		return d, nil
	case string:
		if t == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, fmt.Errorf("column %s in %s: %w", key, context, err)
		}
		return d, nil
	default:
		return decimal.Zero, &apperrors.ShapeError{Key: key, Context: context}
	}
}

func (r record) boolean(key, context string) (bool, error) {
	v, ok := r[key]
	if !ok {
		return false, &apperrors.ShapeError{Key: key, Context: context}
	}
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &apperrors.ShapeError{Key: key, Context: context}
	}
	return b, nil
}

// orderFromRecord maps one zipped orders/ordersHistory row. The broker
// reports money and size fields as strings or numbers depending on the
// endpoint version, so everything goes through the coercing getters.
func orderFromRecord(rec record, context string) (Order, error) {
	var o Order
	var err error

	if o.ID, err = rec.int64("id", context); err != nil {
		return o, err
	}
	if o.InstrumentID, err = rec.int64("tradableInstrumentId", context); err != nil {
		return o, err
	}
	if o.RouteID, err = rec.int64("routeId", context); err != nil {
		return o, err
	}
	if o.Qty, err = rec.dec("qty", context); err != nil {
		return o, err
	}
	side, err := rec.str("side", context)
	if err != nil {
		return o, err
	}
	o.Side = Side(side)
	typ, err := rec.str("type", context)
	if err != nil {
		return o, err
	}
	o.Type = OrderType(typ)
	if o.Status, err = rec.str("status", context); err != nil {
		return o, err
	}
	if o.FilledQty, err = rec.dec("filledQty", context); err != nil {
		return o, err
	}
	if o.AvgPrice, err = rec.dec("avgPrice", context); err != nil {
		return o, err
	}
	if o.Price, err = rec.dec("price", context); err != nil {
		return o, err
	}
	if o.StopPrice, err = rec.dec("stopPrice", context); err != nil {
		return o, err
	}
	validity, err := rec.str("validity", context)
	if err != nil {
		return o, err
	}
	o.Validity = Validity(validity)
	if o.ExpireDate, err = rec.int64("expireDate", context); err != nil {
		return o, err
	}
	if o.CreatedDate, err = rec.int64("createdDate", context); err != nil {
		return o, err
	}
	if o.LastModified, err = rec.int64("lastModified", context); err != nil {
		return o, err
	}
	if o.IsOpen, err = rec.boolean("isOpen", context); err != nil {
		return o, err
	}
	if o.PositionID, err = rec.int64("positionId", context); err != nil {
		return o, err
	}
	if o.StopLoss, err = rec.dec("stopLoss", context); err != nil {
		return o, err
	}
	if o.TakeProfit, err = rec.dec("takeProfit", context); err != nil {
		return o, err
	}

	return o, nil
}

func positionFromRecord(rec record, context string) (Position, error) {
	var p Position
	var err error

	if p.ID, err = rec.int64("id", context); err != nil {
		return p, err
	}
	if p.InstrumentID, err = rec.int64("tradableInstrumentId", context); err != nil {
		return p, err
	}
	if p.RouteID, err = rec.int64("routeId", context); err != nil {
		return p, err
	}
	side, err := rec.str("side", context)
	if err != nil {
		return p, err
	}
	p.Side = Side(side)
	if p.Qty, err = rec.dec("qty", context); err != nil {
		return p, err
	}
	if p.AvgPrice, err = rec.dec("avgPrice", context); err != nil {
		return p, err
	}
	if p.StopLossID, err = rec.int64("stopLossId", context); err != nil {
		return p, err
	}
	if p.TakeProfitID, err = rec.int64("takeProfitId", context); err != nil {
		return p, err
	}
	if p.OpenDate, err = rec.int64("openDate", context); err != nil {
		return p, err
	}
	if p.UnrealizedPnL, err = rec.dec("unrealizedPl", context); err != nil {
		return p, err
	}

	return p, nil
}

func executionFromRecord(rec record, context string) (Execution, error) {
	var e Execution
	var err error

	if e.ID, err = rec.int64("id", context); err != nil {
		return e, err
	}
	if e.Price, err = rec.dec("price", context); err != nil {
		return e, err
	}
	side, err := rec.str("side", context)
	if err != nil {
		return e, err
	}
	e.Side = Side(side)
	if e.CreatedDate, err = rec.int64("createdDate", context); err != nil {
		return e, err
	}
	if e.Qty, err = rec.dec("qty", context); err != nil {
		return e, err
	}
	if e.OrderID, err = rec.int64("orderId", context); err != nil {
		return e, err
	}
	if e.PositionID, err = rec.int64("positionId", context); err != nil {
		return e, err
	}

	return e, nil
}
