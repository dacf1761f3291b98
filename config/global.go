package config

// DefaultPresets seeds a new registry file with the common bin steps.
func DefaultPresets() []Preset {
	return []Preset{
		{
			BinStep:                  1,
			BaseFactor:               20_000,
			FilterPeriod:             10,
			DecayPeriod:              120,
			ReductionFactor:          5_000,
			VariableFeeControl:       2_000_000,
			ProtocolShare:            1_000,
			MaxVolatilityAccumulator: 100_000,
			OracleLength:             8,
			Open:                     false,
		},
		{
			BinStep:                  25,
			BaseFactor:               8_000,
			FilterPeriod:             30,
			DecayPeriod:              600,
			ReductionFactor:          5_000,
			VariableFeeControl:       120_000,
			ProtocolShare:            1_000,
			MaxVolatilityAccumulator: 300_000,
			OracleLength:             8,
			Open:                     true,
		},
		{
			BinStep:                  100,
			BaseFactor:               8_000,
			FilterPeriod:             30,
			DecayPeriod:              600,
			ReductionFactor:          5_000,
			VariableFeeControl:       7_500,
			ProtocolShare:            1_000,
			MaxVolatilityAccumulator: 150_000,
			OracleLength:             8,
			Open:                     true,
		},
	}
}
