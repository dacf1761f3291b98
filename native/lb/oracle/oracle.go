// Package oracle keeps the pair's price history as a fixed-capacity ring of
// cumulative samples. Capacity only grows, through IncreaseLength.
package oracle

import (
	"fmt"
	"math/bits"

	"liquiditybook/native/lb/lberr"
)

const (
	// MaxSampleLifetime is how long, in seconds, one sample keeps absorbing
	// updates before the cursor advances.
	MaxSampleLifetime = 120
	// MaxLength bounds the ring capacity.
	MaxLength = 1<<16 - 1
)

// Sample holds cumulative values as of CreatedAt + Lifetime.
type Sample struct {
	CumulativeID         uint64 `json:"cumulativeId"`
	CumulativeVolatility uint64 `json:"cumulativeVolatility"`
	CumulativeBinCrossed uint64 `json:"cumulativeBinCrossed"`
	Lifetime             uint64 `json:"lifetime"`
	CreatedAt            uint64 `json:"createdAt"`
}

// LastUpdate is the time the cumulative values refer to.
func (s Sample) LastUpdate() uint64 { return s.CreatedAt + s.Lifetime }

// Rates are the per-second increments applied to the cumulative fields.
type Rates struct {
	ActiveID   uint32
	Volatility uint32
	DeltaID    uint32
}

// Cumulative is the result of a point-in-time lookup.
type Cumulative struct {
	ID         uint64 `json:"cumulativeId"`
	Volatility uint64 `json:"cumulativeVolatility"`
	BinCrossed uint64 `json:"cumulativeBinCrossed"`
}

// Params summarises the ring for get_oracle_parameters.
type Params struct {
	SampleLifetime uint64 `json:"sampleLifetime"`
	Size           int    `json:"size"`
	ActiveSize     int    `json:"activeSize"`
	LastUpdated    uint64 `json:"lastUpdated"`
	FirstTimestamp uint64 `json:"firstTimestamp"`
}

// Oracle is an index-addressed ring with a write cursor and a logical size.
type Oracle struct {
	samples []Sample
	cursor  int
	active  int
}

// New returns an oracle with no capacity; updates are ignored until
// IncreaseLength is called.
func New() *Oracle { return &Oracle{} }

// Restore rebuilds an oracle from persisted parts.
func Restore(samples []Sample, cursor, active int) (*Oracle, error) {
	if active > len(samples) || (len(samples) > 0 && (cursor < 0 || cursor >= len(samples))) {
		return nil, fmt.Errorf("%w: oracle cursor %d active %d size %d inconsistent", lberr.ErrValidation, cursor, active, len(samples))
	}
	return &Oracle{samples: append([]Sample(nil), samples...), cursor: cursor, active: active}, nil
}

// Clone returns an independent copy.
func (o *Oracle) Clone() *Oracle {
	if o == nil {
		return New()
	}
	return &Oracle{samples: append([]Sample(nil), o.samples...), cursor: o.cursor, active: o.active}
}

// Samples returns a copy of the raw slots together with the cursor and size.
func (o *Oracle) Samples() ([]Sample, int, int) {
	return append([]Sample(nil), o.samples...), o.cursor, o.active
}

// Size is the ring capacity.
func (o *Oracle) Size() int { return len(o.samples) }

// ActiveSize is the number of written samples.
func (o *Oracle) ActiveSize() int { return o.active }

func (o *Oracle) at(i int) Sample {
	n := len(o.samples)
	oldest := (o.cursor - o.active + 1 + n) % n
	return o.samples[(oldest+i)%n]
}

// Params reports the ring configuration and the time span it covers.
func (o *Oracle) Params() Params {
	p := Params{SampleLifetime: MaxSampleLifetime, Size: len(o.samples), ActiveSize: o.active}
	if o.active > 0 {
		p.LastUpdated = o.samples[o.cursor].LastUpdate()
		p.FirstTimestamp = o.at(0).CreatedAt
	}
	return p
}

// IncreaseLength grows the ring to length slots. Existing samples are kept in
// chronological order at the front and zeroed slots are appended. The first
// activation stamps an initial sample at now.
func (o *Oracle) IncreaseLength(length int, now uint64) error {
	if length <= len(o.samples) {
		return fmt.Errorf("%w: oracle length %d must exceed current length %d", lberr.ErrValidation, length, len(o.samples))
	}
	if length > MaxLength {
		return fmt.Errorf("%w: oracle length %d exceeds %d", lberr.ErrValidation, length, MaxLength)
	}
	grown := make([]Sample, length)
	for i := 0; i < o.active; i++ {
		grown[i] = o.at(i)
	}
	active := o.active
	if active == 0 {
		grown[0] = Sample{CreatedAt: now}
		active = 1
	}
	o.samples = grown
	o.active = active
	o.cursor = active - 1
	return nil
}

// Update folds the interval since the latest sample into the cumulative
// fields. A sample older than MaxSampleLifetime is closed and the cursor
// moves to a fresh slot, overwriting the oldest sample once the ring is full.
func (o *Oracle) Update(now uint64, rates Rates) error {
	if len(o.samples) == 0 {
		return nil
	}
	latest := o.samples[o.cursor]
	last := latest.LastUpdate()
	if now <= last {
		return nil
	}
	next, err := extend(latest, now-last, rates)
	if err != nil {
		return err
	}
	lifetime := now - latest.CreatedAt
	if lifetime > MaxSampleLifetime {
		o.cursor = (o.cursor + 1) % len(o.samples)
		if o.active < len(o.samples) {
			o.active++
		}
		next.CreatedAt = now
		next.Lifetime = 0
	} else {
		next.Lifetime = lifetime
	}
	o.samples[o.cursor] = next
	return nil
}

// SampleAt returns the cumulative values at ts. Lookups between samples are
// interpolated linearly; lookups after the latest update are extended with
// current rates.
func (o *Oracle) SampleAt(ts uint64, current Rates) (Cumulative, error) {
	if o.active == 0 {
		return Cumulative{}, fmt.Errorf("%w: oracle has no samples", lberr.ErrValidation)
	}
	oldest := o.at(0)
	if ts < oldest.LastUpdate() {
		return Cumulative{}, fmt.Errorf("%w: timestamp %d older than oldest sample at %d", lberr.ErrValidation, ts, oldest.LastUpdate())
	}
	latest := o.at(o.active - 1)
	if ts >= latest.LastUpdate() {
		extended, err := extend(latest, ts-latest.LastUpdate(), current)
		if err != nil {
			return Cumulative{}, err
		}
		return cumulativeOf(extended), nil
	}

	// Largest index whose update time is <= ts; index active-1 is excluded above.
	lo, hi := 0, o.active-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if o.at(mid).LastUpdate() <= ts {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	prev, next := o.at(lo), o.at(lo+1)
	prevT, nextT := prev.LastUpdate(), next.LastUpdate()
	if prevT == ts {
		return cumulativeOf(prev), nil
	}
	num, den := ts-prevT, nextT-prevT
	return Cumulative{
		ID:         interpolate(prev.CumulativeID, next.CumulativeID, num, den),
		Volatility: interpolate(prev.CumulativeVolatility, next.CumulativeVolatility, num, den),
		BinCrossed: interpolate(prev.CumulativeBinCrossed, next.CumulativeBinCrossed, num, den),
	}, nil
}

func cumulativeOf(s Sample) Cumulative {
	return Cumulative{ID: s.CumulativeID, Volatility: s.CumulativeVolatility, BinCrossed: s.CumulativeBinCrossed}
}

func extend(s Sample, dt uint64, rates Rates) (Sample, error) {
	var err error
	if s.CumulativeID, err = accumulate("cumulative id", s.CumulativeID, uint64(rates.ActiveID), dt); err != nil {
		return Sample{}, err
	}
	if s.CumulativeVolatility, err = accumulate("cumulative volatility", s.CumulativeVolatility, uint64(rates.Volatility), dt); err != nil {
		return Sample{}, err
	}
	if s.CumulativeBinCrossed, err = accumulate("cumulative bins crossed", s.CumulativeBinCrossed, uint64(rates.DeltaID), dt); err != nil {
		return Sample{}, err
	}
	return s, nil
}

func accumulate(field string, acc, rate, dt uint64) (uint64, error) {
	hi, lo := bits.Mul64(rate, dt)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %s increment %d*%d exceeds 64 bits", lberr.ErrArithmeticOverflow, field, rate, dt)
	}
	sum, carry := bits.Add64(acc, lo, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s exceeds 64 bits", lberr.ErrArithmeticOverflow, field)
	}
	return sum, nil
}

// interpolate returns a + (b-a)*num/den with num < den and b >= a.
func interpolate(a, b, num, den uint64) uint64 {
	hi, lo := bits.Mul64(b-a, num)
	q, _ := bits.Div64(hi, lo, den)
	return a + q
}
