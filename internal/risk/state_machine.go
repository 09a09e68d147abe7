package risk

import "funding-arb/internal/types"

// validTransitions enumerates every transition the drawdown-driven state
// machine may take; NextStatus below never returns a pair absent here.
var validTransitions = map[types.RiskStatus][]types.RiskStatus{
	types.RiskNormal:  {types.RiskNormal, types.RiskReduce, types.RiskHaltNew},
	types.RiskReduce:  {types.RiskReduce, types.RiskNormal, types.RiskHaltNew},
	types.RiskHaltNew: {types.RiskHaltNew, types.RiskReduce},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to types.RiskStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatus applies the hysteresis bands: entry thresholds are wider
// than exit thresholds so a drawdown oscillating near a boundary doesn't
// flap the state every cycle.
func NextStatus(current types.RiskStatus, drawdownPct float64) types.RiskStatus {
	var next types.RiskStatus
	switch current {
	case types.RiskHaltNew:
		if drawdownPct < 0.13 {
			next = types.RiskReduce
		} else {
			next = types.RiskHaltNew
		}
	case types.RiskReduce:
		switch {
		case drawdownPct >= 0.15:
			next = types.RiskHaltNew
		case drawdownPct < 0.08:
			next = types.RiskNormal
		default:
			next = types.RiskReduce
		}
	default: // NORMAL or unset
		switch {
		case drawdownPct >= 0.15:
			next = types.RiskHaltNew
		case drawdownPct >= 0.10:
			next = types.RiskReduce
		default:
			next = types.RiskNormal
		}
	}
	if current != "" && !CanTransition(current, next) {
		return current // guard against an invalid jump (e.g. HALT_NEW -> NORMAL)
	}
	return next
}
