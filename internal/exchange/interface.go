// Package exchange provides a unified interface to perpetual-futures
// venues used as execution targets for the funding-arbitrage pipeline.
package exchange

import (
	"context"
	"time"
)

// OrderSide is the canonical buy/sell direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// PositionSide describes the direction of a held position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// OrderState is the lifecycle state of a submitted order.
type OrderState string

const (
	OrderStateFilled    OrderState = "filled"
	OrderStatePartial   OrderState = "partial"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateRejected  OrderState = "rejected"
	OrderStateOpen      OrderState = "open"
)

// Exchange is the interface every venue adapter satisfies. One instance
// is bound to one venue; the Router (router.go) dispatches across venues
// by name for the outward-facing contract the execution/risk layers use.
type Exchange interface {
	// Connect authenticates the adapter against the venue's API.
	Connect(apiKey, secret, passphrase string) error

	// Name returns the venue identifier, e.g. "hyperliquid", "bybit".
	Name() string

	// Balance returns the perpetual account balance in USD.
	Balance(ctx context.Context) (Balance, error)

	// Ticker returns the current best bid/ask/mark for a symbol.
	Ticker(ctx context.Context, symbol string) (*Ticker, error)

	// FundingRate returns the venue's own view of the current funding
	// rate for a symbol at the venue's native settlement cadence, along
	// with that cadence in hours; the caller normalizes it to an 8h
	// window. Used by the VenueOnly market-data mode.
	FundingRate(ctx context.Context, symbol string) (rate float64, intervalHours float64, err error)

	// PlaceOrder submits a market order sized in USD notional. Returns
	// an OrderAck once the venue acknowledges receipt (not necessarily
	// fill) of the order.
	PlaceOrder(ctx context.Context, symbol string, side OrderSide, notionalUSD float64, clientOrderID string, reduceOnly bool) (*OrderAck, error)

	// Cancel cancels a previously placed order by client order ID.
	Cancel(ctx context.Context, clientOrderID string) error

	// OrderStatus polls the current state of a previously placed order.
	OrderStatus(ctx context.Context, clientOrderID string) (*OrderStatus, error)

	// Positions returns all open positions on this venue.
	Positions(ctx context.Context) ([]Position, error)

	// ClosePosition reduces or flattens an open position.
	ClosePosition(ctx context.Context, symbol string, side PositionSide, qty float64) error

	// Limits returns trading limits (lot size, min notional, max leverage).
	Limits(ctx context.Context, symbol string) (*Limits, error)

	// TradingFee returns the taker fee rate for a symbol, as a fraction.
	TradingFee(ctx context.Context, symbol string) (float64, error)

	// Close releases any held connections.
	Close() error
}

// Ticker is the current top-of-book snapshot for a symbol.
type Ticker struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	MarkPrice float64
	Timestamp time.Time
}

// Balance is the venue account's available margin balance.
type Balance struct {
	Venue      string
	EquityUSD  float64
	FreeUSD    float64
	UpdatedAt  time.Time
}

// OrderAck is returned synchronously when an order is accepted.
type OrderAck struct {
	ClientOrderID string
	VenueOrderID  string
	Venue         string
	Symbol        string
	Side          OrderSide
	State         OrderState
	FilledQty     float64
	AvgFillPrice  float64
	NotionalUSD   float64
	SubmittedAt   time.Time
}

// OrderStatus is the result of polling an order after submission.
type OrderStatus struct {
	ClientOrderID string
	State         OrderState
	FilledQty     float64
	AvgFillPrice  float64
	UpdatedAt     time.Time
}

// Position is an open position on a venue.
type Position struct {
	Venue         string
	Symbol        string
	Side          PositionSide
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      float64
	UnrealizedPnl float64
	Liquidated    bool
	UpdatedAt     time.Time
}

// Limits describes the venue's trading constraints for a symbol.
type Limits struct {
	Symbol      string
	MinOrderQty float64
	QtyStep     float64
	MinNotional float64
	PriceStep   float64
	MaxLeverage float64
}

// Error is a venue-tagged error that preserves the underlying cause for
// errors.Is/errors.As.
type Error struct {
	Venue    string
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	return e.Venue + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Original
}
