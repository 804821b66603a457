// Package cycles detects the current market regime from historical candles
// and translates it into concrete strategy adaptations.
package cycles

import "fmt"

// Cycle is a market regime phase. The set is closed; every switch over it
// handles all five values.
type Cycle string

const (
	CycleAccumulation Cycle = "accumulation"
	CycleUptrend      Cycle = "uptrend"
	CycleDistribution Cycle = "distribution"
	CycleDowntrend    Cycle = "downtrend"
	CycleUnknown      Cycle = "unknown"
)

// scoredCycles is the fixed evaluation order. Ties resolve to the earliest
// entry so detection is deterministic.
var scoredCycles = []Cycle{CycleAccumulation, CycleUptrend, CycleDistribution, CycleDowntrend}

// Valid reports whether c is one of the defined phases.
func (c Cycle) Valid() bool {
	switch c {
	case CycleAccumulation, CycleUptrend, CycleDistribution, CycleDowntrend, CycleUnknown:
		return true
	}
	return false
}

func (c Cycle) String() string { return string(c) }

// Description returns the operator-facing explanation of a phase.
func (c Cycle) Description() string {
	switch c {
	case CycleAccumulation:
		return "Accumulation: the market is consolidating sideways near recent lows after a decline, while sentiment stays negative."
	case CycleUptrend:
		return "Uptrend: the market has confirmed an upward trend with rising volume and broken key resistance levels."
	case CycleDistribution:
		return "Distribution: the market sits near recent highs and shows signs of exhaustion with extremely optimistic sentiment."
	case CycleDowntrend:
		return "Downtrend: the market has broken key support levels with rising volatility and broad weakness."
	case CycleUnknown:
		return "Unknown: no clear market phase detected."
	}
	return fmt.Sprintf("unrecognized cycle %q", string(c))
}
