package lb

import (
	"fmt"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/bins"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/lberr"
	"liquiditybook/native/lb/oracle"
	"liquiditybook/native/lb/pricing"
	"liquiditybook/native/lb/rewards"
)

// StaticFeeParameters returns the configured fee parameters.
func (p *Pair) StaticFeeParameters() fees.StaticFeeParameters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.params.Static
}

// SetStaticFeeParameters replaces the fee parameters after validating them
// against the pair's bin step.
func (p *Pair) SetStaticFeeParameters(params fees.StaticFeeParameters) error {
	if err := params.Validate(p.binStep); err != nil {
		return err
	}
	return p.update(func(tx *txn) error {
		tx.params.Static = params
		return nil
	})
}

// VariableFeeParameters returns the volatility state.
func (p *Pair) VariableFeeParameters() fees.VariableFeeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.params.Variable
}

// Fee returns the total fee a swap in the active bin would currently pay,
// scaled by 10^18.
func (p *Pair) Fee() *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.params.TotalFee(p.binStep)
}

// ForceDecay moves the id reference to the active id and decays the
// volatility reference now.
func (p *Pair) ForceDecay() error {
	return p.update(func(tx *txn) error {
		tx.params.ForceDecay()
		return nil
	})
}

// PriceFromID returns the 128.128 price of id for this pair's bin step.
func (p *Pair) PriceFromID(id uint32) (*uint256.Int, error) {
	return pricing.PriceFromID(id, p.binStep)
}

// IDFromPrice returns the highest id priced at or below price.
func (p *Pair) IDFromPrice(price *uint256.Int) (uint32, error) {
	return pricing.IDFromPrice(price, p.binStep)
}

// Reserves returns the summed reserves of all bins. Protocol fees are held
// apart and not included.
func (p *Pair) Reserves() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.bins.Totals()
}

// BinReserves returns the reserves of bin id; unpopulated bins are empty.
func (p *Pair) BinReserves(id uint32) (*uint256.Int, *uint256.Int, error) {
	b, err := p.Bin(id)
	if err != nil {
		return nil, nil, err
	}
	return b.Reserve(true), b.Reserve(false), nil
}

// Bin returns the full bin record including its share supply.
func (p *Pair) Bin(id uint32) (bins.Bin, error) {
	if err := pricing.ValidateID(int64(id)); err != nil {
		return bins.Bin{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b, _ := p.state.bins.Get(id)
	return b, nil
}

// BinIDs lists the populated bins in ascending order.
func (p *Pair) BinIDs() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.bins.IDs()
}

// ActiveID returns the bin that currently defines the price.
func (p *Pair) ActiveID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.params.ActiveID
}

// NextNonEmptyBin returns the next populated bin after id in the swap
// direction: lower ids when swapping for Y. ok is false when none exists.
func (p *Pair) NextNonEmptyBin(id uint32, swapForY bool) (next uint32, ok bool, err error) {
	if err := pricing.ValidateID(int64(id)); err != nil {
		return 0, false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	next, ok = p.state.bins.Next(id, swapForY)
	return next, ok, nil
}

// OracleParameters summarises the oracle ring.
func (p *Pair) OracleParameters() oracle.Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.oracle.Params()
}

// OracleSampleAt returns the cumulative oracle values at ts. Timestamps after
// the last sample are extrapolated with the volatility the pair would have at
// ts; timestamps in the future are rejected.
func (p *Pair) OracleSampleAt(ts uint64) (oracle.Cumulative, error) {
	var sample oracle.Cumulative
	err := p.view(func(st *state, now uint64) error {
		if ts > now {
			return fmt.Errorf("%w: timestamp %d is in the future (now %d)", lberr.ErrValidation, ts, now)
		}
		params := st.params
		if ts > params.Variable.TimeOfLastUpdate {
			params.UpdateVolatilityParameters(params.ActiveID, ts)
		}
		var err error
		sample, err = st.oracle.SampleAt(ts, currentRates(params))
		return err
	})
	return sample, err
}

// IncreaseOracleLength grows the oracle ring to length samples.
func (p *Pair) IncreaseOracleLength(length int) error {
	return p.update(func(tx *txn) error {
		return tx.oracle.IncreaseLength(length, tx.now)
	})
}

// ProtocolFees returns the uncollected protocol fees.
func (p *Pair) ProtocolFees() (*uint256.Int, *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(&p.state.protocolX), new(uint256.Int).Set(&p.state.protocolY)
}

// CollectProtocolFees returns and clears the accumulated protocol fees.
func (p *Pair) CollectProtocolFees() (*uint256.Int, *uint256.Int, error) {
	var x, y *uint256.Int
	err := p.update(func(tx *txn) error {
		x, y = new(uint256.Int).Set(&tx.protocolX), new(uint256.Int).Set(&tx.protocolY)
		tx.protocolX.Clear()
		tx.protocolY.Clear()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}

// CloseEpoch finalizes the open reward epoch with the pair's denominator and
// opens the next one.
func (p *Pair) CloseEpoch() (rewards.Epoch, error) {
	var epoch rewards.Epoch
	err := p.update(func(tx *txn) error {
		var err error
		epoch, err = tx.rewards.Close(tx.now, tx.params.ActiveID, p.denominator)
		return err
	})
	return epoch, err
}

// SetRewardsAlgorithm schedules algorithm for the next epoch.
func (p *Pair) SetRewardsAlgorithm(algorithm rewards.Algorithm) error {
	if _, err := rewards.ParseAlgorithm(string(algorithm)); err != nil {
		return err
	}
	return p.update(func(tx *txn) error {
		return tx.rewards.SetAlgorithm(algorithm)
	})
}

// RewardsAlgorithm returns the open epoch, its algorithm and the algorithm
// the next epoch will use.
func (p *Pair) RewardsAlgorithm() (epoch uint64, current, pending rewards.Algorithm) {
	p.mu.Lock()
	defer p.mu.Unlock()
	epoch, current = p.state.rewards.CurrentEpoch()
	return epoch, current, p.state.rewards.PendingAlgorithm()
}

// RewardsDistribution returns a finalized epoch; nil selects the latest.
func (p *Pair) RewardsDistribution(epoch *uint64) (rewards.Epoch, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.rewards.Epoch(epoch)
}
