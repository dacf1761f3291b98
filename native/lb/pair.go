// Package lb implements a Liquidity Book pair: the swap and liquidity engines
// over the bin store, the fee and oracle state they drive, and the epoch reward
// distributor. Every mutating call runs against a private copy of the pair
// state that replaces the live state only when the call succeeds.
package lb

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquiditybook/native/lb/bins"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
	"liquiditybook/native/lb/oracle"
	"liquiditybook/native/lb/pricing"
	"liquiditybook/native/lb/rewards"
)

// DefaultMaxBinsPerSwap bounds the bins a single swap or quote may visit.
const DefaultMaxBinsPerSwap = 128

// Config describes a pair at instantiation.
type Config struct {
	TokenX             common.Address
	TokenY             common.Address
	BinStep            uint16
	ActiveID           uint32
	StaticFees         fees.StaticFeeParameters
	MaxBinsPerSwap     int
	OracleLength       int
	RewardsAlgorithm   rewards.Algorithm
	RewardsDenominator uint64
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func (c *Config) normalize() error {
	if c.TokenX == c.TokenY {
		return fmt.Errorf("%w: token x and token y must differ", lberr.ErrValidation)
	}
	if err := pricing.ValidateBinStep(c.BinStep); err != nil {
		return err
	}
	if _, err := pricing.PriceFromID(c.ActiveID, c.BinStep); err != nil {
		return err
	}
	if err := c.StaticFees.Validate(c.BinStep); err != nil {
		return err
	}
	if c.MaxBinsPerSwap == 0 {
		c.MaxBinsPerSwap = DefaultMaxBinsPerSwap
	}
	if c.MaxBinsPerSwap < 0 {
		return fmt.Errorf("%w: max bins per swap %d must be positive", lberr.ErrValidation, c.MaxBinsPerSwap)
	}
	if c.OracleLength < 0 || c.OracleLength > oracle.MaxLength {
		return fmt.Errorf("%w: oracle length %d outside [0, %d]", lberr.ErrValidation, c.OracleLength, oracle.MaxLength)
	}
	algorithm, err := rewards.ParseAlgorithm(string(c.RewardsAlgorithm))
	if err != nil {
		return err
	}
	c.RewardsAlgorithm = algorithm
	if c.RewardsDenominator == 0 {
		c.RewardsDenominator = rewards.DefaultDenominator
	}
	return nil
}

// state is everything a call may mutate.
type state struct {
	params    fees.Parameters
	bins      *bins.Store
	oracle    *oracle.Oracle
	rewards   *rewards.Distributor
	protocolX uint256.Int
	protocolY uint256.Int
}

func (s *state) clone() *state {
	c := *s
	c.bins = s.bins.Clone()
	c.oracle = s.oracle.Clone()
	c.rewards = s.rewards.Clone()
	return &c
}

// Pair is a single Liquidity Book market. Calls are serialized.
type Pair struct {
	mu sync.Mutex

	tokenX      common.Address
	tokenY      common.Address
	binStep     uint16
	maxBins     int
	denominator uint64

	state  *state
	ledger ShareLedger
	clock  func() time.Time
}

// New instantiates a pair with an empty bin store. A nil ledger selects an
// in-memory share ledger.
func New(cfg Config, ledger ShareLedger) (*Pair, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if ledger == nil {
		ledger = NewMemLedger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	p := &Pair{
		tokenX:      cfg.TokenX,
		tokenY:      cfg.TokenY,
		binStep:     cfg.BinStep,
		maxBins:     cfg.MaxBinsPerSwap,
		denominator: cfg.RewardsDenominator,
		ledger:      ledger,
		clock:       cfg.Clock,
	}
	now := p.now()
	p.state = &state{
		params: fees.Parameters{
			Static:   cfg.StaticFees,
			Variable: fees.VariableFeeState{IDReference: cfg.ActiveID},
			ActiveID: cfg.ActiveID,
		},
		bins:    bins.NewStore(),
		oracle:  oracle.New(),
		rewards: rewards.NewDistributor(cfg.RewardsAlgorithm, now),
	}
	if cfg.OracleLength > 0 {
		if err := p.state.oracle.IncreaseLength(cfg.OracleLength, now); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (p *Pair) SetClock(clock func() time.Time) {
	if p == nil || clock == nil {
		return
	}
	p.mu.Lock()
	p.clock = clock
	p.mu.Unlock()
}

func (p *Pair) now() uint64 {
	ts := p.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// TokenX returns the pair's X token.
func (p *Pair) TokenX() common.Address { return p.tokenX }

// TokenY returns the pair's Y token.
func (p *Pair) TokenY() common.Address { return p.tokenY }

// BinStep returns the basis-point step between adjacent bins.
func (p *Pair) BinStep() uint16 { return p.binStep }

// txn is the working copy handed to a mutating call.
type txn struct {
	*state
	now     uint64
	changes []ShareChange
}

// update runs fn against a clone of the state. The clone and any staged share
// changes are committed together only if fn succeeds.
func (p *Pair) update(fn func(tx *txn) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx := &txn{state: p.state.clone(), now: p.now()}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.changes) > 0 {
		if err := p.ledger.Apply(tx.changes); err != nil {
			return fmt.Errorf("apply share changes: %w", err)
		}
	}
	p.state = tx.state
	return nil
}

// view runs fn against the live state under the lock. fn must not mutate it.
func (p *Pair) view(fn func(st *state, now uint64) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(p.state, p.now())
}

func (p *Pair) checkIdentity(tokenX, tokenY common.Address, binStep uint16) error {
	if tokenX != p.tokenX || tokenY != p.tokenY {
		return fmt.Errorf("%w: tokens %s/%s do not match pair %s/%s", lberr.ErrValidation, tokenX.Hex(), tokenY.Hex(), p.tokenX.Hex(), p.tokenY.Hex())
	}
	if binStep != p.binStep {
		return fmt.Errorf("%w: bin step %d does not match pair bin step %d", lberr.ErrValidation, binStep, p.binStep)
	}
	return nil
}

func checkDeadline(now, deadline uint64) error {
	if now > deadline {
		return fmt.Errorf("%w: now %d is past deadline %d", lberr.ErrDeadlineExpired, now, deadline)
	}
	return nil
}

// addReserve adds amount to a bin reserve, keeping reserves within 128 bits.
func addReserve(reserve *uint256.Int, amount *uint256.Int) error {
	sum, err := fixed.Add(reserve, amount)
	if err != nil {
		return err
	}
	if sum.Gt(fixed.MaxU128) {
		return fmt.Errorf("%w: bin reserve %s exceeds 2^128-1", lberr.ErrArithmeticOverflow, sum.Dec())
	}
	reserve.Set(sum)
	return nil
}

func subReserve(reserve *uint256.Int, amount *uint256.Int) error {
	diff, err := fixed.Sub(reserve, amount)
	if err != nil {
		return err
	}
	reserve.Set(diff)
	return nil
}

// observeBin reports the bin's current value in Y to the reward tracker.
func (p *Pair) observeBin(st *state, id uint32, price *uint256.Int, now uint64) error {
	b, ok := st.bins.Get(id)
	if !ok {
		return st.rewards.ObserveLiquidity(id, new(uint256.Int), now)
	}
	liquidity, err := bins.Liquidity(&b.ReserveX, &b.ReserveY, price)
	if err != nil {
		return err
	}
	return st.rewards.ObserveLiquidity(id, liquidity.Rsh(liquidity, fixed.ScaleOffset), now)
}

// updateOracle folds the current volatility state into the oracle.
func updateOracle(st *state, now uint64) error {
	return st.oracle.Update(now, currentRates(st.params))
}

func currentRates(params fees.Parameters) oracle.Rates {
	return oracle.Rates{
		ActiveID:   params.ActiveID,
		Volatility: params.Variable.VolatilityAccumulator,
		DeltaID:    params.DeltaID(params.ActiveID),
	}
}
