package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Action is the closed set of actions a decision oracle may propose.
type Action string

const (
	ActionHold      Action = "hold"
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
)

// Valid reports whether the action is one of the recognized values.
func (a Action) Valid() bool {
	switch a {
	case ActionHold, ActionOpenLong, ActionOpenShort, ActionClose:
		return true
	default:
		return false
	}
}

// IsEntry reports whether the action opens a new position.
func (a Action) IsEntry() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// Sleeve is a named sub-allocation of equity with its own risk rules.
type Sleeve string

const (
	SleeveSafe       Sleeve = "safe"
	SleeveAggressive Sleeve = "aggressive"
	// SleeveAny lets the engine pick; it resolves to aggressive at intake.
	SleeveAny Sleeve = "any"
)

// Proposal is a structured trade proposal received from the decision oracle.
// It is immutable once parsed; identified by DecisionID.
type Proposal struct {
	DecisionID      string   `json:"decision_id"`
	Action          Action   `json:"decision"`
	Asset           string   `json:"asset"`
	Sleeve          Sleeve   `json:"sleeve"`
	PumpScore       int      `json:"pump_score"`
	Confidence      int      `json:"conviction"`
	Price           *float64 `json:"price,omitempty"`
	Stop            *float64 `json:"stop,omitempty"`
	TakeProfit      *float64 `json:"take_profit,omitempty"`
	Contracts       *float64 `json:"contracts,omitempty"`
	Leverage        *int     `json:"leverage,omitempty"`
	ExpectedHoldMin *int     `json:"expected_hold_min,omitempty"`
	TrailActivePct  *float64 `json:"trailing_activation_pct,omitempty"`
	TrailPct        *float64 `json:"trailing_pct,omitempty"`
	Reason          string   `json:"reason"`
	ReceivedAt      time.Time `json:"-"`
}

// ParseProposal decodes and validates a raw oracle payload into a Proposal.
// Unknown actions or unparseable input are rejected; the caller must treat a
// parse failure as a hold for that cycle. Sleeve "any" is resolved to
// aggressive and confidence/pump score are clamped to [0, 100].
func ParseProposal(raw []byte, now time.Time) (Proposal, error) {
	var p Proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return Proposal{}, fmt.Errorf("domain: parse proposal: %w", err)
	}

	p.Action = Action(strings.ToLower(strings.TrimSpace(string(p.Action))))
	if !p.Action.Valid() {
		return Proposal{}, fmt.Errorf("domain: parse proposal: %w: action %q", ErrInvalidProposal, p.Action)
	}

	switch Sleeve(strings.ToLower(strings.TrimSpace(string(p.Sleeve)))) {
	case SleeveSafe:
		p.Sleeve = SleeveSafe
	case SleeveAggressive, SleeveAny, "":
		p.Sleeve = SleeveAggressive
	default:
		p.Sleeve = SleeveAggressive
	}

	p.PumpScore = clampInt(p.PumpScore, 0, 100)
	p.Confidence = clampInt(p.Confidence, 0, 100)
	p.Asset = strings.TrimSpace(p.Asset)
	p.ReceivedAt = now

	if p.Action != ActionHold && p.Asset == "" {
		return Proposal{}, fmt.Errorf("domain: parse proposal: %w: missing asset", ErrInvalidProposal)
	}
	return p, nil
}

// IsPerp reports whether the asset is a perpetual product.
func IsPerp(asset string) bool {
	return strings.HasSuffix(asset, "-PERP-INTX")
}

// ValidAssetFormat reports whether the asset identifier names a tradable
// product (perpetual or USD/USDC spot).
func ValidAssetFormat(asset string) bool {
	return IsPerp(asset) ||
		strings.HasSuffix(asset, "-USD") ||
		strings.HasSuffix(asset, "-USDC")
}

// AssetBase returns the upper-cased base symbol of an asset identifier,
// e.g. "BTC" from "BTC-PERP-INTX".
func AssetBase(asset string) string {
	base, _, ok := strings.Cut(asset, "-")
	if !ok {
		return ""
	}
	return strings.ToUpper(base)
}

func clampInt(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
