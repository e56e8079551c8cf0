package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is an ordered access level. Higher values rank above lower ones.
type Tier int

const (
	TierBronze Tier = iota
	TierSilver
	TierGold
	TierPlatinum
)

var tierNames = [...]string{"BRONZE", "SILVER", "GOLD", "PLATINUM"}

func (t Tier) String() string {
	if t < TierBronze || t > TierPlatinum {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// ParseTier parses a tier name case-insensitively
func ParseTier(s string) (Tier, error) {
	for i, name := range tierNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Tier(i), nil
		}
	}
	return TierBronze, fmt.Errorf("unknown tier %q", s)
}

// MarshalJSON encodes the tier as its name
func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
