// Package fees computes the static and volatility-adjusted swap fee of a
// Liquidity Book pair and maintains the volatility accumulator that drives it.
package fees

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

const (
	maxPeriod                = 1<<12 - 1
	maxVariableFeeControl    = 1<<24 - 1
	maxVolatilityAccumulator = 1<<20 - 1
	// MaxProtocolShare caps the protocol cut of swap fees at 25%.
	MaxProtocolShare = 2_500
)

var (
	// MaxFee is the ceiling on the total fee, 10% scaled by 10^18.
	MaxFee = uint256.NewInt(100_000_000_000_000_000)

	baseFeeScale = uint256.NewInt(10_000_000_000)
	hundred      = uint256.NewInt(100)
	ninetyNine   = uint256.NewInt(99)
)

// StaticFeeParameters are set administratively and never change during a swap.
type StaticFeeParameters struct {
	BaseFactor               uint16 `json:"baseFactor"`
	FilterPeriod             uint16 `json:"filterPeriod"`
	DecayPeriod              uint16 `json:"decayPeriod"`
	ReductionFactor          uint16 `json:"reductionFactor"`
	VariableFeeControl       uint32 `json:"variableFeeControl"`
	ProtocolShare            uint16 `json:"protocolShare"`
	MaxVolatilityAccumulator uint32 `json:"maxVolatilityAccumulator"`
}

// Validate checks the parameter bounds and that the fee at maximum volatility
// stays under MaxFee for the given bin step.
func (s StaticFeeParameters) Validate(binStep uint16) error {
	switch {
	case s.FilterPeriod > s.DecayPeriod:
		return fmt.Errorf("%w: filter period %d exceeds decay period %d", lberr.ErrValidation, s.FilterPeriod, s.DecayPeriod)
	case s.DecayPeriod > maxPeriod:
		return fmt.Errorf("%w: decay period %d exceeds %d", lberr.ErrValidation, s.DecayPeriod, maxPeriod)
	case s.ReductionFactor > fixed.BasisPointMax:
		return fmt.Errorf("%w: reduction factor %d exceeds %d", lberr.ErrValidation, s.ReductionFactor, fixed.BasisPointMax)
	case s.ProtocolShare > MaxProtocolShare:
		return fmt.Errorf("%w: protocol share %d exceeds %d", lberr.ErrValidation, s.ProtocolShare, MaxProtocolShare)
	case s.VariableFeeControl > maxVariableFeeControl:
		return fmt.Errorf("%w: variable fee control %d exceeds %d", lberr.ErrValidation, s.VariableFeeControl, maxVariableFeeControl)
	case s.MaxVolatilityAccumulator > maxVolatilityAccumulator:
		return fmt.Errorf("%w: max volatility accumulator %d exceeds %d", lberr.ErrValidation, s.MaxVolatilityAccumulator, maxVolatilityAccumulator)
	}
	peak := Parameters{Static: s, Variable: VariableFeeState{VolatilityAccumulator: s.MaxVolatilityAccumulator}}
	total := new(uint256.Int).Add(peak.BaseFee(binStep), peak.VariableFee(binStep))
	if total.Gt(MaxFee) {
		return fmt.Errorf("%w: fee at max volatility %s exceeds ceiling %s", lberr.ErrValidation, total.Dec(), MaxFee.Dec())
	}
	return nil
}

// VariableFeeState is the time-decayed volatility record.
type VariableFeeState struct {
	VolatilityAccumulator uint32 `json:"volatilityAccumulator"`
	VolatilityReference   uint32 `json:"volatilityReference"`
	IDReference           uint32 `json:"idReference"`
	TimeOfLastUpdate      uint64 `json:"timeOfLastUpdate"`
}

// Parameters bundles the fee configuration with the pair's active id.
type Parameters struct {
	Static   StaticFeeParameters
	Variable VariableFeeState
	ActiveID uint32
}

// BaseFee returns baseFactor * binStep * 10^10.
func (p Parameters) BaseFee(binStep uint16) *uint256.Int {
	fee := uint256.NewInt(uint64(p.Static.BaseFactor) * uint64(binStep))
	return fee.Mul(fee, baseFeeScale)
}

// VariableFee returns ceil((volatilityAccumulator * binStep)^2 * variableFeeControl / 100).
func (p Parameters) VariableFee(binStep uint16) *uint256.Int {
	if p.Static.VariableFeeControl == 0 {
		return new(uint256.Int)
	}
	prod := uint256.NewInt(uint64(p.Variable.VolatilityAccumulator) * uint64(binStep))
	fee := new(uint256.Int).Mul(prod, prod)
	fee.Mul(fee, uint256.NewInt(uint64(p.Static.VariableFeeControl)))
	fee.Add(fee, ninetyNine)
	return fee.Div(fee, hundred)
}

// TotalFee returns base + variable, never above MaxFee.
func (p Parameters) TotalFee(binStep uint16) *uint256.Int {
	total := new(uint256.Int).Add(p.BaseFee(binStep), p.VariableFee(binStep))
	if total.Gt(MaxFee) {
		return new(uint256.Int).Set(MaxFee)
	}
	return total
}

// DeltaID returns |activeID - idReference|.
func (p Parameters) DeltaID(activeID uint32) uint32 {
	if activeID > p.Variable.IDReference {
		return activeID - p.Variable.IDReference
	}
	return p.Variable.IDReference - activeID
}

// UpdateReferences refreshes the id and volatility references. Once
// filterPeriod has elapsed the id reference moves to the active id and the
// volatility reference decays by reductionFactor, or resets to zero once
// decayPeriod has elapsed.
func (p *Parameters) UpdateReferences(now uint64) {
	last := p.Variable.TimeOfLastUpdate
	var dt uint64
	if now > last {
		dt = now - last
	}
	if dt >= uint64(p.Static.FilterPeriod) {
		p.Variable.IDReference = p.ActiveID
		if dt < uint64(p.Static.DecayPeriod) {
			p.decayReference()
		} else {
			p.Variable.VolatilityReference = 0
		}
	}
	if now > last {
		p.Variable.TimeOfLastUpdate = now
	}
}

// UpdateVolatilityAccumulator sets the accumulator from the reference and
// the distance between id and the id reference.
func (p *Parameters) UpdateVolatilityAccumulator(id uint32) {
	delta := uint64(p.DeltaID(id))
	acc := uint64(p.Variable.VolatilityReference) + delta*fixed.BasisPointMax
	if limit := uint64(p.Static.MaxVolatilityAccumulator); acc > limit {
		acc = limit
	}
	p.Variable.VolatilityAccumulator = uint32(acc)
}

// UpdateVolatilityParameters runs UpdateReferences then
// UpdateVolatilityAccumulator.
func (p *Parameters) UpdateVolatilityParameters(id uint32, now uint64) {
	p.UpdateReferences(now)
	p.UpdateVolatilityAccumulator(id)
}

// ForceDecay moves the id reference to the active id and decays the
// volatility reference immediately.
func (p *Parameters) ForceDecay() {
	p.Variable.IDReference = p.ActiveID
	p.decayReference()
}

func (p *Parameters) decayReference() {
	ref := uint64(p.Variable.VolatilityAccumulator) * uint64(p.Static.ReductionFactor) / fixed.BasisPointMax
	p.Variable.VolatilityReference = uint32(ref)
}
