package tradelocker

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the broker order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// Validity is the time-in-force of an order. Market orders use IOC, limit and
// stop orders use GTC.
type Validity string

const (
	ValidityIOC Validity = "IOC"
	ValidityGTC Validity = "GTC"
)

// RiskPriceType says how a stop loss or take profit value is interpreted.
type RiskPriceType string

const (
	RiskPriceAbsolute       RiskPriceType = "absolute"
	RiskPriceOffset         RiskPriceType = "offset"
	RiskPriceTrailingOffset RiskPriceType = "trailingOffset" // stop loss only
)

// BarType selects the price source for the daily bar endpoint.
type BarType string

const (
	BarTypeBid   BarType = "BID"
	BarTypeAsk   BarType = "ASK"
	BarTypeTrade BarType = "TRADE"
)

// Route types reported per instrument.
const (
	routeTypeTrade = "TRADE"
	routeTypeInfo  = "INFO"
)

// Order statuses reported by the orders history endpoint.
const (
	OrderStatusFilled    = "Filled"
	OrderStatusRejected  = "Rejected"
	OrderStatusCancelled = "Cancelled"
	OrderStatusRefused   = "Refused"
	OrderStatusUnplaced  = "Unplaced"
	OrderStatusRemoved   = "Removed"
)

// Account is one trading account tied to the authenticated user.
type Account struct {
	ID       int64
	Name     string
	Currency string
	AccNum   int64
	Balance  decimal.Decimal
}

// UnmarshalJSON tolerates the broker reporting ids as either strings or
// numbers.
func (a *Account) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID       flexInt64       `json:"id"`
		Name     string          `json:"name"`
		Currency string          `json:"currency"`
		AccNum   flexInt64       `json:"accNum"`
		Balance  decimal.Decimal `json:"accountBalance"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.ID = int64(aux.ID)
	a.Name = aux.Name
	a.Currency = aux.Currency
	a.AccNum = int64(aux.AccNum)
	a.Balance = aux.Balance
	return nil
}

// Route is one execution or data route attached to an instrument.
type Route struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Instrument is one tradable symbol available to the account.
type Instrument struct {
	TradableInstrumentID int64   `json:"tradableInstrumentId"`
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	Type                 string  `json:"type"`
	TradingExchange      string  `json:"tradingExchange"`
	MarketDataExchange   string  `json:"marketDataExchange"`
	Country              string  `json:"country"`
	LocalizedName        string  `json:"localizedName"`
	Routes               []Route `json:"routes"`
	BarSource            string  `json:"barSource"`
	HasIntraday          bool    `json:"hasIntraday"`
	HasDaily             bool    `json:"hasDaily"`
}

// InstrumentDetails is the per-instrument detail payload. The broker varies
// the fields per asset class, so everything beyond the common fields stays in
// Raw.
type InstrumentDetails struct {
	TradableInstrumentID int64   `json:"tradableInstrumentId"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	Type                 string  `json:"type"`
	TradingExchange      string  `json:"tradingExchange"`
	Country              string  `json:"country"`
	TickSize             float64 `json:"tickSize"`
	TickCost             float64 `json:"tickCost"`
	LotSize              float64 `json:"lotSize"`
	MinLot               float64 `json:"minLot"`
	MaxLot               float64 `json:"maxLot"`
	TradingSessionID     int64   `json:"tradeSessionId"`
	TradingSessionStatus int64   `json:"tradeSessionStatusId"`

	Raw map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the full payload in Raw alongside the typed fields.
func (d *InstrumentDetails) UnmarshalJSON(data []byte) error {
	type alias InstrumentDetails
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = InstrumentDetails(a)
	d.Raw = raw
	return nil
}

// Order mirrors one row of the orders or ordersHistory endpoints.
type Order struct {
	ID           int64
	InstrumentID int64
	RouteID      int64
	Qty          decimal.Decimal
	Side         Side
	Type         OrderType
	Status       string
	FilledQty    decimal.Decimal
	AvgPrice     decimal.Decimal
	Price        decimal.Decimal
	StopPrice    decimal.Decimal
	Validity     Validity
	ExpireDate   int64
	CreatedDate  int64
	LastModified int64
	IsOpen       bool
	PositionID   int64
	StopLoss     decimal.Decimal
	TakeProfit   decimal.Decimal
}

// Position mirrors one row of the positions endpoint.
type Position struct {
	ID            int64
	InstrumentID  int64
	RouteID       int64
	Side          Side
	Qty           decimal.Decimal
	AvgPrice      decimal.Decimal
	StopLossID    int64
	TakeProfitID  int64
	OpenDate      int64
	UnrealizedPnL decimal.Decimal
}

// Execution mirrors one row of the executions endpoint.
type Execution struct {
	ID          int64
	Price       decimal.Decimal
	Side        Side
	CreatedDate int64
	Qty         decimal.Decimal
	OrderID     int64
	PositionID  int64
}

// PriceBar is one OHLCV bar from the history endpoint. Timestamps are unix
// milliseconds.
type PriceBar struct {
	Timestamp int64   `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

// Quotes is the current top of book for an instrument.
type Quotes struct {
	AskPrice float64 `json:"ap"`
	BidPrice float64 `json:"bp"`
	AskSize  float64 `json:"as"`
	BidSize  float64 `json:"bs"`
}

// DailyBar is the running daily candle for an instrument.
type DailyBar struct {
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// MarketDepth holds the order book levels, each level being [price, size].
type MarketDepth struct {
	Asks [][]float64 `json:"asks"`
	Bids [][]float64 `json:"bids"`
}

// AccountState is the zipped accountDetails payload. Raw carries every metric
// the broker reported; the named fields cover the common ones.
type AccountState struct {
	Balance          decimal.Decimal
	ProjectedBalance decimal.Decimal
	AvailableFunds   decimal.Decimal
	BlockedBalance   decimal.Decimal
	OpenGrossPnL     decimal.Decimal
	OpenNetPnL       decimal.Decimal
	PositionsCount   int64
	OrdersCount      int64

	Raw map[string]decimal.Decimal
}

// SessionDetails is the trading-session payload. The schedule layout varies
// per broker, so it stays as raw JSON.
type SessionDetails struct {
	ID   int64                      `json:"id"`
	Name string                     `json:"name"`
	Raw  map[string]json.RawMessage `json:"-"`
}

func (d *SessionDetails) UnmarshalJSON(data []byte) error {
	type alias SessionDetails
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = SessionDetails(a)
	d.Raw = raw
	return nil
}

// SessionStatusDetails reports which operations and order types the session
// currently allows.
type SessionStatusDetails struct {
	AllowedOperations []int `json:"allowedOperations"`
	AllowedOrderTypes []int `json:"allowedOrderTypes"`
}

// TradeAccount is one entry of the /trade/accounts payload.
type TradeAccount struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Currency     string                     `json:"currency"`
	AccountType  string                     `json:"type"`
	TradingRules map[string]json.RawMessage `json:"tradingRules"`
	RiskRules    map[string]json.RawMessage `json:"riskRules"`
}
