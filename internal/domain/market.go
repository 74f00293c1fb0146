package domain

import "time"

// MarketSnapshot is the per-asset market context supplied by the market data
// provider. The provider is assumed to have already deduplicated and cached
// upstream data.
type MarketSnapshot struct {
	Asset       string
	Price       float64
	PriceTS     time.Time
	ATR1h       float64
	ATR6h       float64
	SpreadPct   float64
	Volume1m    float64
	Mid         float64
}

// ATRFor returns the ATR for the timeframe relevant to the setup: the short
// window for pump setups, the long window otherwise. The second return is
// false when the reading is unavailable.
func (m MarketSnapshot) ATRFor(pumpScore, pumpThreshold int) (float64, bool) {
	atr := m.ATR6h
	if pumpScore >= pumpThreshold {
		atr = m.ATR1h
	}
	if atr <= 0 {
		return 0, false
	}
	return atr, true
}

// HasATR reports whether any ATR reading is available for the asset.
func (m MarketSnapshot) HasATR() bool {
	return m.ATR1h > 0 || m.ATR6h > 0
}
