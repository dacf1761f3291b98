// Package rewards apportions an epoch's reward pool across bins. Each bin
// earns a score during the epoch and closing the epoch turns the scores into
// integer weights that sum exactly to the denominator.
package rewards

import (
	"fmt"
	"maps"
	"slices"

	"github.com/holiman/uint256"

	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/lberr"
)

// Algorithm selects how bins score during an epoch.
type Algorithm string

const (
	// TimeBased scores liquidity (valued in Y) multiplied by the seconds it
	// stayed in the bin.
	TimeBased Algorithm = "time_based"
	// VolumeBased scores swap input routed through the bin, valued in Y.
	VolumeBased Algorithm = "volume_based"

	// DefaultDenominator matches the basis-point scale.
	DefaultDenominator = fixed.BasisPointMax
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(value string) (Algorithm, error) {
	switch Algorithm(value) {
	case TimeBased, VolumeBased:
		return Algorithm(value), nil
	case "":
		return TimeBased, nil
	default:
		return "", fmt.Errorf("%w: unknown rewards algorithm %q", lberr.ErrValidation, value)
	}
}

// Epoch is a finalized distribution. Empty epochs publish no weights.
type Epoch struct {
	Index       uint64    `json:"index"`
	Algorithm   Algorithm `json:"algorithm"`
	StartedAt   uint64    `json:"startedAt"`
	ClosedAt    uint64    `json:"closedAt"`
	Empty       bool      `json:"empty"`
	Denominator uint64    `json:"denominator"`
	IDs         []uint32  `json:"ids"`
	Weightages  []uint64  `json:"weightages"`
}

// BinScore is the per-bin accumulator of the open epoch.
type BinScore struct {
	ID          uint32
	Score       uint256.Int
	Liquidity   uint256.Int
	LastAccrued uint64
}

// State is the persisted form of a Distributor.
type State struct {
	Epoch     uint64
	Algorithm Algorithm
	Pending   Algorithm
	StartedAt uint64
	Bins      []BinScore
	History   []Epoch
}

// Distributor tracks the open epoch and the finalized history.
type Distributor struct {
	epoch     uint64
	algorithm Algorithm
	pending   Algorithm
	startedAt uint64
	bins      map[uint32]BinScore
	history   map[uint64]Epoch
}

// NewDistributor opens epoch 0 at now.
func NewDistributor(algorithm Algorithm, now uint64) *Distributor {
	return &Distributor{
		algorithm: algorithm,
		pending:   algorithm,
		startedAt: now,
		bins:      make(map[uint32]BinScore),
		history:   make(map[uint64]Epoch),
	}
}

// Restore rebuilds a distributor from its persisted state.
func Restore(state State) *Distributor {
	d := &Distributor{
		epoch:     state.Epoch,
		algorithm: state.Algorithm,
		pending:   state.Pending,
		startedAt: state.StartedAt,
		bins:      make(map[uint32]BinScore, len(state.Bins)),
		history:   make(map[uint64]Epoch, len(state.History)),
	}
	for _, b := range state.Bins {
		d.bins[b.ID] = b
	}
	for _, e := range state.History {
		d.history[e.Index] = e
	}
	return d
}

// Snapshot returns the persisted form, sorted for deterministic encoding.
func (d *Distributor) Snapshot() State {
	state := State{Epoch: d.epoch, Algorithm: d.algorithm, Pending: d.pending, StartedAt: d.startedAt}
	for _, id := range slices.Sorted(maps.Keys(d.bins)) {
		state.Bins = append(state.Bins, d.bins[id])
	}
	for _, index := range slices.Sorted(maps.Keys(d.history)) {
		state.History = append(state.History, d.history[index])
	}
	return state
}

// Clone returns an independent copy. Finalized epochs are immutable and share
// their slices.
func (d *Distributor) Clone() *Distributor {
	c := *d
	c.bins = maps.Clone(d.bins)
	c.history = maps.Clone(d.history)
	return &c
}

// CurrentEpoch returns the open epoch index and its algorithm.
func (d *Distributor) CurrentEpoch() (uint64, Algorithm) { return d.epoch, d.algorithm }

// PendingAlgorithm is the algorithm the next epoch will use.
func (d *Distributor) PendingAlgorithm() Algorithm { return d.pending }

// SetAlgorithm schedules algorithm for the next epoch; the open epoch keeps
// scoring with its current algorithm.
func (d *Distributor) SetAlgorithm(algorithm Algorithm) error {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return err
	}
	d.pending = algorithm
	return nil
}

// ObserveLiquidity records that bin id now holds liquidity (valued in Y). The
// previous liquidity is credited for the time since its last observation.
func (d *Distributor) ObserveLiquidity(id uint32, liquidity *uint256.Int, now uint64) error {
	b, ok := d.bins[id]
	if !ok {
		b = BinScore{ID: id, LastAccrued: now}
	}
	if err := d.accrue(&b, now); err != nil {
		return err
	}
	b.Liquidity.Set(liquidity)
	if b.Liquidity.IsZero() && b.Score.IsZero() {
		delete(d.bins, id)
		return nil
	}
	d.bins[id] = b
	return nil
}

// ObserveVolume credits value (in Y) swapped through bin id.
func (d *Distributor) ObserveVolume(id uint32, value *uint256.Int, now uint64) error {
	if d.algorithm != VolumeBased || value.IsZero() {
		return nil
	}
	b, ok := d.bins[id]
	if !ok {
		b = BinScore{ID: id, LastAccrued: now}
	}
	sum, err := fixed.Add(&b.Score, value)
	if err != nil {
		return err
	}
	b.Score.Set(sum)
	d.bins[id] = b
	return nil
}

func (d *Distributor) accrue(b *BinScore, now uint64) error {
	if now <= b.LastAccrued {
		return nil
	}
	if d.algorithm == TimeBased && !b.Liquidity.IsZero() {
		weighted, err := fixed.Mul(&b.Liquidity, uint256.NewInt(now-b.LastAccrued))
		if err != nil {
			return err
		}
		sum, err := fixed.Add(&b.Score, weighted)
		if err != nil {
			return err
		}
		b.Score.Set(sum)
	}
	b.LastAccrued = now
	return nil
}

// Close finalizes the open epoch at now and opens the next one. The rounding
// remainder goes to activeID when it scored, otherwise to the highest scoring
// bin. An epoch where nothing scored is recorded as empty.
func (d *Distributor) Close(now uint64, activeID uint32, denominator uint64) (Epoch, error) {
	if denominator == 0 {
		return Epoch{}, fmt.Errorf("%w: rewards denominator must be positive", lberr.ErrValidation)
	}
	total := new(uint256.Int)
	ids := make([]uint32, 0, len(d.bins))
	for _, id := range slices.Sorted(maps.Keys(d.bins)) {
		b := d.bins[id]
		if err := d.accrue(&b, now); err != nil {
			return Epoch{}, err
		}
		d.bins[id] = b
		if b.Score.IsZero() {
			continue
		}
		sum, err := fixed.Add(total, &b.Score)
		if err != nil {
			return Epoch{}, err
		}
		total = sum
		ids = append(ids, id)
	}

	epoch := Epoch{
		Index:       d.epoch,
		Algorithm:   d.algorithm,
		StartedAt:   d.startedAt,
		ClosedAt:    now,
		Denominator: denominator,
	}
	if total.IsZero() {
		epoch.Empty = true
	} else {
		weights, err := d.weigh(ids, total, activeID, denominator)
		if err != nil {
			return Epoch{}, err
		}
		epoch.IDs = ids
		epoch.Weightages = weights
	}
	if err := epoch.Validate(); err != nil {
		return Epoch{}, err
	}

	d.history[epoch.Index] = epoch
	d.roll(now)
	return epoch, nil
}

func (d *Distributor) weigh(ids []uint32, total *uint256.Int, activeID uint32, denominator uint64) ([]uint64, error) {
	den := uint256.NewInt(denominator)
	weights := make([]uint64, len(ids))
	var assigned uint64
	remainderAt := -1
	best := -1
	var bestScore uint256.Int
	for i, id := range ids {
		b := d.bins[id]
		w, err := fixed.MulDivRoundDown(&b.Score, den, total)
		if err != nil {
			return nil, err
		}
		weights[i] = w.Uint64()
		assigned += weights[i]
		if id == activeID {
			remainderAt = i
		}
		if best < 0 || b.Score.Gt(&bestScore) {
			best = i
			bestScore = b.Score
		}
	}
	if remainderAt < 0 {
		remainderAt = best
	}
	weights[remainderAt] += denominator - assigned
	return weights, nil
}

func (d *Distributor) roll(now uint64) {
	next := make(map[uint32]BinScore, len(d.bins))
	for id, b := range d.bins {
		if b.Liquidity.IsZero() {
			continue
		}
		next[id] = BinScore{ID: id, Liquidity: b.Liquidity, LastAccrued: now}
	}
	d.bins = next
	d.epoch++
	d.algorithm = d.pending
	d.startedAt = now
}

// Epoch returns a finalized epoch; nil selects the most recent one.
func (d *Distributor) Epoch(index *uint64) (Epoch, error) {
	if index == nil {
		if d.epoch == 0 {
			return Epoch{}, fmt.Errorf("%w: no epoch has been finalized", lberr.ErrValidation)
		}
		latest := d.epoch - 1
		index = &latest
	}
	e, ok := d.history[*index]
	if !ok {
		return Epoch{}, fmt.Errorf("%w: epoch %d not finalized", lberr.ErrValidation, *index)
	}
	return e, nil
}

// Validate enforces sum(weightages) == denominator for a published epoch and
// no weights for an empty one.
func (e Epoch) Validate() error {
	if e.Empty {
		if len(e.IDs) != 0 || len(e.Weightages) != 0 {
			return fmt.Errorf("%w: empty epoch %d carries weights", lberr.ErrValidation, e.Index)
		}
		return nil
	}
	if e.Denominator == 0 {
		return fmt.Errorf("%w: epoch %d has zero denominator", lberr.ErrValidation, e.Index)
	}
	if len(e.IDs) != len(e.Weightages) || len(e.IDs) == 0 {
		return fmt.Errorf("%w: epoch %d has %d ids and %d weightages", lberr.ErrValidation, e.Index, len(e.IDs), len(e.Weightages))
	}
	var sum uint64
	for _, w := range e.Weightages {
		sum += w
	}
	if sum != e.Denominator {
		return fmt.Errorf("%w: epoch %d weightages sum to %d, want %d", lberr.ErrValidation, e.Index, sum, e.Denominator)
	}
	return nil
}
