package config

import (
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/rewards"
)

// Preset is the factory configuration applied to every pair of a bin step.
type Preset struct {
	BinStep                  uint16 `toml:"BinStep"`
	BaseFactor               uint16 `toml:"BaseFactor"`
	FilterPeriod             uint16 `toml:"FilterPeriod"`
	DecayPeriod              uint16 `toml:"DecayPeriod"`
	ReductionFactor          uint16 `toml:"ReductionFactor"`
	VariableFeeControl       uint32 `toml:"VariableFeeControl"`
	ProtocolShare            uint16 `toml:"ProtocolShare"`
	MaxVolatilityAccumulator uint32 `toml:"MaxVolatilityAccumulator"`
	OracleLength             int    `toml:"OracleLength"`
	MaxBinsPerSwap           int    `toml:"MaxBinsPerSwap,omitempty"`
	RewardsAlgorithm         string `toml:"RewardsAlgorithm,omitempty"`
	RewardsDenominator       uint64 `toml:"RewardsDenominator,omitempty"`
	// Open presets may be used by anyone; closed ones only by the operator.
	Open bool `toml:"Open"`
}

// StaticFees projects the preset onto the fee engine parameters.
func (p Preset) StaticFees() fees.StaticFeeParameters {
	return fees.StaticFeeParameters{
		BaseFactor:               p.BaseFactor,
		FilterPeriod:             p.FilterPeriod,
		DecayPeriod:              p.DecayPeriod,
		ReductionFactor:          p.ReductionFactor,
		VariableFeeControl:       p.VariableFeeControl,
		ProtocolShare:            p.ProtocolShare,
		MaxVolatilityAccumulator: p.MaxVolatilityAccumulator,
	}
}

// Algorithm returns the configured reward algorithm, time based when unset.
func (p Preset) Algorithm() (rewards.Algorithm, error) {
	return rewards.ParseAlgorithm(p.RewardsAlgorithm)
}

// Registry is the preset file: one entry per supported bin step.
type Registry struct {
	Presets []Preset `toml:"Preset"`
}
