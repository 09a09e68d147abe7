package marketdata

import "errors"

// ErrRateNotFound is returned when no funding rate exists for a
// (venue, symbol) pair in the most recent fetch.
var ErrRateNotFound = errors.New("marketdata: rate not found")

// ErrNoSnapshot is returned when a symbol has no quotes from any venue.
var ErrNoSnapshot = errors.New("marketdata: no snapshot for symbol")
