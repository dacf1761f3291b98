package lb

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"liquiditybook/native/lb/bins"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/oracle"
	"liquiditybook/native/lb/rewards"
	"liquiditybook/storage"
)

const snapshotVersion = 1

var (
	pairSnapshotPrefix = []byte("lb/pair/")

	// ErrSnapshotNotFound is returned when no snapshot is stored for a pair.
	ErrSnapshotNotFound = errors.New("lb: snapshot not found")
	// ErrSnapshotCorrupt is returned when a stored snapshot fails its digest.
	ErrSnapshotCorrupt = errors.New("lb: snapshot digest mismatch")
)

type storedBin struct {
	ID          uint32
	ReserveX    *big.Int
	ReserveY    *big.Int
	TotalSupply *big.Int
}

type storedScore struct {
	ID          uint32
	Score       *big.Int
	Liquidity   *big.Int
	LastAccrued uint64
}

type storedEpoch struct {
	Index       uint64
	Algorithm   string
	StartedAt   uint64
	ClosedAt    uint64
	Empty       bool
	Denominator uint64
	IDs         []uint32
	Weightages  []uint64
}

type storedPair struct {
	Version        uint64
	TokenX         common.Address
	TokenY         common.Address
	BinStep        uint16
	MaxBinsPerSwap uint64
	Denominator    uint64
	ActiveID       uint32
	Static         fees.StaticFeeParameters
	Variable       fees.VariableFeeState
	ProtocolX      *big.Int
	ProtocolY      *big.Int
	Bins           []storedBin
	Samples        []oracle.Sample
	OracleCursor   uint64
	OracleActive   uint64
	Epoch          uint64
	Algorithm      string
	Pending        string
	EpochStart     uint64
	Scores         []storedScore
	History        []storedEpoch
}

type storedEnvelope struct {
	Digest  []byte
	Payload []byte
}

// MarshalSnapshot encodes the full pair state. The share ledger is not part
// of the snapshot.
func (p *Pair) MarshalSnapshot() ([]byte, error) {
	p.mu.Lock()
	st := p.state.clone()
	p.mu.Unlock()

	record := storedPair{
		Version:        snapshotVersion,
		TokenX:         p.tokenX,
		TokenY:         p.tokenY,
		BinStep:        p.binStep,
		MaxBinsPerSwap: uint64(p.maxBins),
		Denominator:    p.denominator,
		ActiveID:       st.params.ActiveID,
		Static:         st.params.Static,
		Variable:       st.params.Variable,
		ProtocolX:      st.protocolX.ToBig(),
		ProtocolY:      st.protocolY.ToBig(),
	}
	for _, id := range st.bins.IDs() {
		b, _ := st.bins.Get(id)
		record.Bins = append(record.Bins, storedBin{
			ID:          id,
			ReserveX:    b.ReserveX.ToBig(),
			ReserveY:    b.ReserveY.ToBig(),
			TotalSupply: b.TotalSupply.ToBig(),
		})
	}
	samples, cursor, active := st.oracle.Samples()
	record.Samples = samples
	record.OracleCursor = uint64(cursor)
	record.OracleActive = uint64(active)

	dist := st.rewards.Snapshot()
	record.Epoch = dist.Epoch
	record.Algorithm = string(dist.Algorithm)
	record.Pending = string(dist.Pending)
	record.EpochStart = dist.StartedAt
	for _, s := range dist.Bins {
		record.Scores = append(record.Scores, storedScore{
			ID:          s.ID,
			Score:       s.Score.ToBig(),
			Liquidity:   s.Liquidity.ToBig(),
			LastAccrued: s.LastAccrued,
		})
	}
	for _, e := range dist.History {
		record.History = append(record.History, storedEpoch{
			Index:       e.Index,
			Algorithm:   string(e.Algorithm),
			StartedAt:   e.StartedAt,
			ClosedAt:    e.ClosedAt,
			Empty:       e.Empty,
			Denominator: e.Denominator,
			IDs:         e.IDs,
			Weightages:  e.Weightages,
		})
	}

	payload, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, fmt.Errorf("encode pair snapshot: %w", err)
	}
	digest := blake3.Sum256(payload)
	return rlp.EncodeToBytes(&storedEnvelope{Digest: digest[:], Payload: payload})
}

// UnmarshalSnapshot rebuilds a pair from MarshalSnapshot output. A nil ledger
// selects an in-memory one.
func UnmarshalSnapshot(data []byte, ledger ShareLedger) (*Pair, error) {
	var envelope storedEnvelope
	if err := rlp.DecodeBytes(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	digest := blake3.Sum256(envelope.Payload)
	if !bytes.Equal(digest[:], envelope.Digest) {
		return nil, ErrSnapshotCorrupt
	}
	var record storedPair
	if err := rlp.DecodeBytes(envelope.Payload, &record); err != nil {
		return nil, fmt.Errorf("decode pair snapshot: %w", err)
	}
	if record.Version != snapshotVersion {
		return nil, fmt.Errorf("pair snapshot version %d not supported", record.Version)
	}

	cfg := Config{
		TokenX:             record.TokenX,
		TokenY:             record.TokenY,
		BinStep:            record.BinStep,
		ActiveID:           record.ActiveID,
		StaticFees:         record.Static,
		MaxBinsPerSwap:     int(record.MaxBinsPerSwap),
		RewardsAlgorithm:   rewards.Algorithm(record.Algorithm),
		RewardsDenominator: record.Denominator,
	}
	p, err := New(cfg, ledger)
	if err != nil {
		return nil, fmt.Errorf("restore pair: %w", err)
	}

	st := p.state
	st.params.Variable = record.Variable
	if err := setBig(&st.protocolX, record.ProtocolX); err != nil {
		return nil, err
	}
	if err := setBig(&st.protocolY, record.ProtocolY); err != nil {
		return nil, err
	}
	for _, sb := range record.Bins {
		var b bins.Bin
		for _, field := range []struct {
			dst *uint256.Int
			src *big.Int
		}{{&b.ReserveX, sb.ReserveX}, {&b.ReserveY, sb.ReserveY}, {&b.TotalSupply, sb.TotalSupply}} {
			if err := setBig(field.dst, field.src); err != nil {
				return nil, fmt.Errorf("bin %d: %w", sb.ID, err)
			}
		}
		st.bins.Put(sb.ID, b)
	}
	if st.oracle, err = oracle.Restore(record.Samples, int(record.OracleCursor), int(record.OracleActive)); err != nil {
		return nil, err
	}

	dist := rewards.State{
		Epoch:     record.Epoch,
		Algorithm: rewards.Algorithm(record.Algorithm),
		Pending:   rewards.Algorithm(record.Pending),
		StartedAt: record.EpochStart,
	}
	for _, s := range record.Scores {
		score := rewards.BinScore{ID: s.ID, LastAccrued: s.LastAccrued}
		if err := setBig(&score.Score, s.Score); err != nil {
			return nil, err
		}
		if err := setBig(&score.Liquidity, s.Liquidity); err != nil {
			return nil, err
		}
		dist.Bins = append(dist.Bins, score)
	}
	for _, e := range record.History {
		epoch := rewards.Epoch{
			Index:       e.Index,
			Algorithm:   rewards.Algorithm(e.Algorithm),
			StartedAt:   e.StartedAt,
			ClosedAt:    e.ClosedAt,
			Empty:       e.Empty,
			Denominator: e.Denominator,
			IDs:         e.IDs,
			Weightages:  e.Weightages,
		}
		if err := epoch.Validate(); err != nil {
			return nil, err
		}
		dist.History = append(dist.History, epoch)
	}
	st.rewards = rewards.Restore(dist)
	return p, nil
}

func setBig(dst *uint256.Int, src *big.Int) error {
	if src == nil {
		dst.Clear()
		return nil
	}
	v, overflow := uint256.FromBig(src)
	if overflow || src.Sign() < 0 {
		return fmt.Errorf("snapshot value %s outside uint256", src)
	}
	dst.Set(v)
	return nil
}

// SnapshotStore persists pair snapshots under lb/pair/<name>.
type SnapshotStore struct {
	db storage.Database
}

// NewSnapshotStore wraps db.
func NewSnapshotStore(db storage.Database) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func pairSnapshotKey(name string) []byte {
	trimmed := strings.TrimSpace(name)
	buf := make([]byte, len(pairSnapshotPrefix)+len(trimmed))
	copy(buf, pairSnapshotPrefix)
	copy(buf[len(pairSnapshotPrefix):], trimmed)
	return buf
}

// Save writes the current state of p under name.
func (s *SnapshotStore) Save(name string, p *Pair) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("snapshot: pair name required")
	}
	data, err := p.MarshalSnapshot()
	if err != nil {
		return err
	}
	return s.db.Put(pairSnapshotKey(name), data)
}

// Load restores the pair stored under name.
func (s *SnapshotStore) Load(name string, ledger ShareLedger) (*Pair, error) {
	data, err := s.db.Get(pairSnapshotKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(data, ledger)
}

// Names lists the stored pair names.
func (s *SnapshotStore) Names() ([]string, error) {
	keys, err := s.db.Keys(pairSnapshotPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = string(key[len(pairSnapshotPrefix):])
	}
	return names, nil
}

// Delete removes the snapshot stored under name.
func (s *SnapshotStore) Delete(name string) error {
	return s.db.Delete(pairSnapshotKey(name))
}
