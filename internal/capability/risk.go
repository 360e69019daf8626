package capability

import "fmt"

// RiskTier grades how much damage a capability can do. Higher is riskier.
type RiskTier int

const (
	RiskLow    RiskTier = 0 // reversible or cosmetic
	RiskMedium RiskTier = 1 // loses unsaved state in one app
	RiskHigh   RiskTier = 2 // irreversible, may need administrator rights
)

// String returns a human-readable label for the tier.
func (r RiskTier) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// MarshalText lets risk tiers appear by name in JSON and YAML output.
func (r RiskTier) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
