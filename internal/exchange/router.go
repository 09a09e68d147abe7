package exchange

import (
	"context"
	"fmt"
)

// Router dispatches venue-parameterized calls to the adapter registered
// for that venue. This is the interface the signal/risk/execution layers
// consume; they never hold a per-venue Exchange directly.
type Router struct {
	adapters map[string]Exchange
}

// NewRouter builds a Router from a set of already-connected adapters.
func NewRouter(adapters map[string]Exchange) *Router {
	r := &Router{adapters: make(map[string]Exchange, len(adapters))}
	for venue, a := range adapters {
		r.adapters[venue] = a
	}
	return r
}

func (r *Router) get(venue string) (Exchange, error) {
	a, ok := r.adapters[venue]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for venue %q", venue)
	}
	return a, nil
}

// Venues lists the names of all registered adapters.
func (r *Router) Venues() []string {
	names := make([]string, 0, len(r.adapters))
	for v := range r.adapters {
		names = append(names, v)
	}
	return names
}

// PlaceOrder submits a market order on the named venue.
func (r *Router) PlaceOrder(ctx context.Context, venue, symbol string, side OrderSide, notionalUSD float64, clientOrderID string, reduceOnly bool) (*OrderAck, error) {
	a, err := r.get(venue)
	if err != nil {
		return nil, err
	}
	return a.PlaceOrder(ctx, symbol, side, notionalUSD, clientOrderID, reduceOnly)
}

// Cancel cancels an order on the named venue.
func (r *Router) Cancel(ctx context.Context, venue, clientOrderID string) error {
	a, err := r.get(venue)
	if err != nil {
		return err
	}
	return a.Cancel(ctx, clientOrderID)
}

// Positions returns open positions on the named venue.
func (r *Router) Positions(ctx context.Context, venue string) ([]Position, error) {
	a, err := r.get(venue)
	if err != nil {
		return nil, err
	}
	return a.Positions(ctx)
}

// Ticker returns the current top-of-book snapshot on the named venue.
func (r *Router) Ticker(ctx context.Context, venue, symbol string) (*Ticker, error) {
	a, err := r.get(venue)
	if err != nil {
		return nil, err
	}
	return a.Ticker(ctx, symbol)
}

// Balance returns the account balance on the named venue.
func (r *Router) Balance(ctx context.Context, venue string) (Balance, error) {
	a, err := r.get(venue)
	if err != nil {
		return Balance{}, err
	}
	return a.Balance(ctx)
}

// OrderStatus polls order state on the named venue.
func (r *Router) OrderStatus(ctx context.Context, venue, clientOrderID string) (*OrderStatus, error) {
	a, err := r.get(venue)
	if err != nil {
		return nil, err
	}
	return a.OrderStatus(ctx, clientOrderID)
}

// ClosePosition reduces or flattens a position on the named venue.
func (r *Router) ClosePosition(ctx context.Context, venue, symbol string, side PositionSide, qty float64) error {
	a, err := r.get(venue)
	if err != nil {
		return err
	}
	return a.ClosePosition(ctx, symbol, side, qty)
}

// FundingRate reads the venue's own funding rate view for a symbol.
func (r *Router) FundingRate(ctx context.Context, venue, symbol string) (float64, float64, error) {
	a, err := r.get(venue)
	if err != nil {
		return 0, 0, err
	}
	return a.FundingRate(ctx, symbol)
}

// Limits reads venue trading limits for a symbol.
func (r *Router) Limits(ctx context.Context, venue, symbol string) (*Limits, error) {
	a, err := r.get(venue)
	if err != nil {
		return nil, err
	}
	return a.Limits(ctx, symbol)
}

// Close shuts down every registered adapter, collecting the first error.
func (r *Router) Close() error {
	var firstErr error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
