package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"liquiditybook/native/lb"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/lberr"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func openStore(t *testing.T, pair string) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "shares.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := New(db, pair)
	require.NoError(t, err)
	return store
}

func TestApplyMintAndBurn(t *testing.T) {
	store := openStore(t, "NHB-USDC-100")
	require.NoError(t, store.Apply([]lb.ShareChange{
		{Owner: alice, ID: 10, Delta: uint256.NewInt(500)},
		{Owner: alice, ID: 11, Delta: uint256.NewInt(700)},
		{Owner: bob, ID: 10, Delta: uint256.NewInt(5)},
		{Owner: alice, ID: 10, Delta: uint256.NewInt(100), Burn: true},
	}))

	balance, err := store.BalanceOf(alice, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(400), balance.Uint64())

	positions, err := store.Positions(alice)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, uint32(10), positions[0].ID)
	require.Equal(t, uint64(700), positions[1].Shares.Uint64())

	require.NoError(t, store.Apply([]lb.ShareChange{{Owner: alice, ID: 11, Delta: uint256.NewInt(700), Burn: true}}))
	positions, err = store.Positions(alice)
	require.NoError(t, err)
	require.Len(t, positions, 1)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	store := openStore(t, "NHB-USDC-100")
	require.NoError(t, store.Apply([]lb.ShareChange{{Owner: alice, ID: 1, Delta: uint256.NewInt(10)}}))

	err := store.Apply([]lb.ShareChange{
		{Owner: alice, ID: 2, Delta: uint256.NewInt(50)},
		{Owner: alice, ID: 1, Delta: uint256.NewInt(11), Burn: true},
	})
	require.True(t, errors.Is(err, lberr.ErrValidation), "got %v", err)

	balance, err := store.BalanceOf(alice, 2)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	balance, err = store.BalanceOf(alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(10), balance.Uint64())
}

func TestPairsAreIsolated(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "shares.db"), nil)
	require.NoError(t, err)
	defer db.Close()
	first, err := New(db, "A")
	require.NoError(t, err)
	second, err := New(db, "B")
	require.NoError(t, err)
	require.NoError(t, first.Apply([]lb.ShareChange{{Owner: alice, ID: 1, Delta: uint256.NewInt(3)}}))

	balance, err := second.BalanceOf(alice, 1)
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	_, err = New(db, "")
	require.ErrorIs(t, err, ErrPairRequired)
}

func TestPairEngineUsesBoltLedger(t *testing.T) {
	store := openStore(t, "NHB-USDC-100")
	tokenX := common.HexToAddress("0xa1")
	tokenY := common.HexToAddress("0xb2")
	pair, err := lb.New(lb.Config{
		TokenX:     tokenX,
		TokenY:     tokenY,
		BinStep:    100,
		ActiveID:   1 << 23,
		StaticFees: fees.StaticFeeParameters{BaseFactor: 8_000, FilterPeriod: 30, DecayPeriod: 600, ReductionFactor: 5_000, VariableFeeControl: 7_500, ProtocolShare: 1_000, MaxVolatilityAccumulator: 150_000},
	}, store)
	require.NoError(t, err)

	one := uint256.NewInt(1_000_000_000_000_000_000)
	res, err := pair.AddLiquidity(alice, lb.LiquidityRequest{
		TokenX:          tokenX,
		TokenY:          tokenY,
		BinStep:         100,
		AmountX:         uint256.NewInt(1_000_000),
		AmountY:         uint256.NewInt(1_000_000),
		ActiveIDDesired: 1 << 23,
		DeltaIDs:        []int64{0},
		DistributionX:   []*uint256.Int{one},
		DistributionY:   []*uint256.Int{one},
		Deadline:        uint64(time.Now().Unix() + 600),
	})
	require.NoError(t, err)

	stored, err := store.BalanceOf(alice, 1<<23)
	require.NoError(t, err)
	require.True(t, stored.Eq(res.Deposits[0].Shares))
}
