package config

import (
	"fmt"

	"liquiditybook/native/lb/oracle"
)

// ValidateConfig checks every preset against the fee engine bounds and
// rejects duplicate bin steps.
func ValidateConfig(r Registry) error {
	if len(r.Presets) == 0 {
		return fmt.Errorf("registry: no presets configured")
	}
	seen := make(map[uint16]struct{}, len(r.Presets))
	for _, p := range r.Presets {
		if _, dup := seen[p.BinStep]; dup {
			return fmt.Errorf("preset %d: duplicate bin step", p.BinStep)
		}
		seen[p.BinStep] = struct{}{}
		if err := p.StaticFees().Validate(p.BinStep); err != nil {
			return fmt.Errorf("preset %d: %w", p.BinStep, err)
		}
		if p.OracleLength < 0 || p.OracleLength > oracle.MaxLength {
			return fmt.Errorf("preset %d: oracle length %d outside [0, %d]", p.BinStep, p.OracleLength, oracle.MaxLength)
		}
		if p.MaxBinsPerSwap < 0 {
			return fmt.Errorf("preset %d: max bins per swap must not be negative", p.BinStep)
		}
		if _, err := p.Algorithm(); err != nil {
			return fmt.Errorf("preset %d: %w", p.BinStep, err)
		}
	}
	return nil
}
