package exchange

import (
	"fmt"
	"strings"
)

// SupportedVenues lists every venue a Factory knows how to construct.
var SupportedVenues = []string{"bybit", "okx", "bingx", "hyperliquid"}

// IsSupported reports whether name names a constructible venue.
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, v := range SupportedVenues {
		if v == name {
			return true
		}
	}
	return false
}

// Credential is the venue auth material a Factory needs; it mirrors
// config.VenueCredential without importing the config package, keeping
// internal/exchange free of a dependency on internal/config.
type Credential struct {
	Enabled    bool
	APIKey     string
	Secret     string
	Passphrase string
	Testnet    bool
}

// NewAdapter constructs a single venue adapter by name.
func NewAdapter(name string, cred Credential) (Exchange, error) {
	name = strings.ToLower(name)
	var adapter Exchange
	switch name {
	case "hyperliquid":
		adapter = NewHyperliquidAdapter(cred.Testnet)
	case "bybit", "okx", "bingx":
		a, err := NewGenericPerpAdapter(name)
		if err != nil {
			return nil, err
		}
		adapter = a
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", name)
	}
	if err := adapter.Connect(cred.APIKey, cred.Secret, cred.Passphrase); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", name, err)
	}
	return adapter, nil
}

// BuildRouter constructs adapters for every enabled credential and wires
// them into a Router. Venues whose credential is disabled are skipped.
func BuildRouter(creds map[string]Credential) (*Router, error) {
	adapters := make(map[string]Exchange)
	for name, cred := range creds {
		if !cred.Enabled {
			continue
		}
		adapter, err := NewAdapter(name, cred)
		if err != nil {
			return nil, err
		}
		adapters[name] = adapter
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("no venues enabled: at least one venue credential must set Enabled=true")
	}
	return NewRouter(adapters), nil
}
