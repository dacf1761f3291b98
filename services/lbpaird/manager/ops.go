package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"liquiditybook/integrations/exports"
	"liquiditybook/integrations/webhooks"
	"liquiditybook/native/lb"
	"liquiditybook/native/lb/fees"
	"liquiditybook/native/lb/fixed"
	"liquiditybook/native/lb/rewards"
	"liquiditybook/services/lbpaird/events"
	"liquiditybook/services/lbpaird/history"
	"liquiditybook/services/lbpaird/ledger"
)

type requestIDKey struct{}

// WithRequestID tags ctx with the id recorded alongside history rows.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id set by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// SwapEvent is the stream payload of a committed swap.
type SwapEvent struct {
	SwapForY    bool   `json:"swapForY"`
	AmountIn    string `json:"amountIn"`
	AmountOut   string `json:"amountOut"`
	Fee         string `json:"fee"`
	ProtocolFee string `json:"protocolFee"`
	BinsCrossed int    `json:"binsCrossed"`
}

// LiquidityEvent is the stream payload of a deposit or withdrawal.
type LiquidityEvent struct {
	Owner   string   `json:"owner"`
	AmountX string   `json:"amountX"`
	AmountY string   `json:"amountY"`
	BinIDs  []uint32 `json:"binIds"`
}

// Swap executes an exact-input swap on name.
func (m *Manager) Swap(ctx context.Context, name string, req lb.SwapRequest) (lb.SwapResult, error) {
	var res lb.SwapResult
	ctx, span := m.startSpan(ctx, name, "swap")
	defer span.End()
	e, err := m.mutate(ctx, name, "swap", func(p *lb.Pair) error {
		var err error
		res, err = p.Swap(req)
		return err
	})
	if err != nil {
		return lb.SwapResult{}, err
	}
	m.afterSwap(ctx, e, req.SwapForY, res)
	return res, nil
}

// SwapExactOut executes an exact-output swap on name.
func (m *Manager) SwapExactOut(ctx context.Context, name string, req lb.ExactOutRequest) (lb.SwapResult, error) {
	var res lb.SwapResult
	ctx, span := m.startSpan(ctx, name, "swap_exact_out")
	defer span.End()
	e, err := m.mutate(ctx, name, "swap_exact_out", func(p *lb.Pair) error {
		var err error
		res, err = p.SwapExactOut(req)
		return err
	})
	if err != nil {
		return lb.SwapResult{}, err
	}
	m.afterSwap(ctx, e, req.SwapForY, res)
	return res, nil
}

func (m *Manager) afterSwap(ctx context.Context, e *entry, swapForY bool, res lb.SwapResult) {
	m.metrics.ObserveSwap(e.name, swapForY, res.BinsCrossed, res.ActiveID)
	m.recordProtocolFees(e)
	m.record(ctx, e.name, "swap", func(ctx context.Context) error {
		return m.history.RecordSwap(ctx, history.SwapRecord{
			Pair:         e.name,
			RequestID:    RequestID(ctx),
			SwapForY:     swapForY,
			AmountIn:     fixed.String(res.AmountIn),
			AmountInLeft: fixed.String(res.AmountInLeft),
			AmountOut:    fixed.String(res.AmountOut),
			Fee:          fixed.String(res.Fee),
			ProtocolFee:  fixed.String(res.ProtocolFee),
			BinsCrossed:  res.BinsCrossed,
			ActiveID:     res.ActiveID,
			CreatedAt:    m.clock().UTC(),
		})
	})
	m.publish(e, events.TypeSwap, SwapEvent{
		SwapForY:    swapForY,
		AmountIn:    fixed.String(res.AmountIn),
		AmountOut:   fixed.String(res.AmountOut),
		Fee:         fixed.String(res.Fee),
		ProtocolFee: fixed.String(res.ProtocolFee),
		BinsCrossed: res.BinsCrossed,
	})
}

// AddLiquidity deposits for owner into name.
func (m *Manager) AddLiquidity(ctx context.Context, name string, owner common.Address, req lb.LiquidityRequest) (lb.AddLiquidityResult, error) {
	var res lb.AddLiquidityResult
	ctx, span := m.startSpan(ctx, name, "add_liquidity")
	defer span.End()
	e, err := m.mutate(ctx, name, "add_liquidity", func(p *lb.Pair) error {
		var err error
		res, err = p.AddLiquidity(owner, req)
		return err
	})
	if err != nil {
		return lb.AddLiquidityResult{}, err
	}
	ids := make([]uint32, len(res.Deposits))
	shares := make([]string, len(res.Deposits))
	for i, d := range res.Deposits {
		ids[i] = d.ID
		shares[i] = fixed.String(d.Shares)
	}
	m.metrics.ObserveLiquidity(e.name, "add", e.pair.ActiveID())
	m.metrics.AddRoundingDust(e.name, toFloat(res.DustX), toFloat(res.DustY))
	m.afterLiquidity(ctx, e, events.TypeLiquidityAdded, owner, res.AmountXAdded, res.AmountYAdded, ids, shares)
	return res, nil
}

// RemoveLiquidity burns shares of owner in name.
func (m *Manager) RemoveLiquidity(ctx context.Context, name string, owner common.Address, req lb.RemoveLiquidityRequest) (lb.RemoveLiquidityResult, error) {
	var res lb.RemoveLiquidityResult
	ctx, span := m.startSpan(ctx, name, "remove_liquidity")
	defer span.End()
	e, err := m.mutate(ctx, name, "remove_liquidity", func(p *lb.Pair) error {
		var err error
		res, err = p.RemoveLiquidity(owner, req)
		return err
	})
	if err != nil {
		return lb.RemoveLiquidityResult{}, err
	}
	ids := make([]uint32, len(res.Withdrawals))
	shares := make([]string, len(res.Withdrawals))
	for i, w := range res.Withdrawals {
		ids[i] = w.ID
		shares[i] = fixed.String(w.Shares)
	}
	m.metrics.ObserveLiquidity(e.name, "remove", e.pair.ActiveID())
	m.afterLiquidity(ctx, e, events.TypeLiquidityRemoved, owner, res.AmountX, res.AmountY, ids, shares)
	return res, nil
}

func (m *Manager) afterLiquidity(ctx context.Context, e *entry, typ events.Type, owner common.Address, x, y *uint256.Int, ids []uint32, shares []string) {
	operation := "add"
	if typ == events.TypeLiquidityRemoved {
		operation = "remove"
	}
	m.record(ctx, e.name, "liquidity", func(ctx context.Context) error {
		return m.history.RecordLiquidity(ctx, history.LiquidityRecord{
			Pair:      e.name,
			RequestID: RequestID(ctx),
			Owner:     strings.ToLower(owner.Hex()),
			Operation: operation,
			AmountX:   fixed.String(x),
			AmountY:   fixed.String(y),
			BinIDs:    ids,
			Shares:    shares,
			CreatedAt: m.clock().UTC(),
		})
	})
	m.publish(e, typ, LiquidityEvent{
		Owner:   owner.Hex(),
		AmountX: fixed.String(x),
		AmountY: fixed.String(y),
		BinIDs:  ids,
	})
}

// SetStaticFees replaces the static fee parameters of name.
func (m *Manager) SetStaticFees(ctx context.Context, name string, params fees.StaticFeeParameters) error {
	ctx, span := m.startSpan(ctx, name, "set_static_fees")
	defer span.End()
	e, err := m.mutate(ctx, name, "set_static_fees", func(p *lb.Pair) error {
		return p.SetStaticFeeParameters(params)
	})
	if err != nil {
		return err
	}
	m.logger.Info("static fees updated", "pair", name, "request_id", RequestID(ctx))
	m.publish(e, events.TypeFeesUpdated, params)
	return nil
}

// ForceDecay resets the volatility reference of name.
func (m *Manager) ForceDecay(ctx context.Context, name string) error {
	ctx, span := m.startSpan(ctx, name, "force_decay")
	defer span.End()
	e, err := m.mutate(ctx, name, "force_decay", func(p *lb.Pair) error {
		return p.ForceDecay()
	})
	if err != nil {
		return err
	}
	m.publish(e, events.TypeFeesUpdated, e.pair.VariableFeeParameters())
	return nil
}

// IncreaseOracleLength grows the oracle ring of name.
func (m *Manager) IncreaseOracleLength(ctx context.Context, name string, length int) error {
	ctx, span := m.startSpan(ctx, name, "increase_oracle_length")
	defer span.End()
	_, err := m.mutate(ctx, name, "increase_oracle_length", func(p *lb.Pair) error {
		return p.IncreaseOracleLength(length)
	})
	return err
}

// SetRewardsAlgorithm schedules algorithm for the next epoch of name.
func (m *Manager) SetRewardsAlgorithm(ctx context.Context, name string, algorithm rewards.Algorithm) error {
	ctx, span := m.startSpan(ctx, name, "set_rewards_algorithm")
	defer span.End()
	_, err := m.mutate(ctx, name, "set_rewards_algorithm", func(p *lb.Pair) error {
		return p.SetRewardsAlgorithm(algorithm)
	})
	return err
}

// CollectProtocolFees withdraws the protocol fees accrued on name.
func (m *Manager) CollectProtocolFees(ctx context.Context, name string) (*uint256.Int, *uint256.Int, error) {
	var x, y *uint256.Int
	ctx, span := m.startSpan(ctx, name, "collect_protocol_fees")
	defer span.End()
	e, err := m.mutate(ctx, name, "collect_protocol_fees", func(p *lb.Pair) error {
		var err error
		x, y, err = p.CollectProtocolFees()
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	m.recordProtocolFees(e)
	m.logger.Info("protocol fees collected", "pair", name, "amount_x", fixed.String(x), "amount_y", fixed.String(y))
	if m.notifier != nil {
		err := m.notifier.EnqueueFeesCollected(webhooks.FeesCollectedPayload{
			Pair:        name,
			AmountX:     fixed.String(x),
			AmountY:     fixed.String(y),
			CollectedAt: m.clock().UTC(),
		})
		if err != nil {
			m.logger.Error("enqueue fees webhook", "pair", name, "error", err)
		}
	}
	return x, y, nil
}

// CloseEpoch finalizes the open reward epoch of name.
func (m *Manager) CloseEpoch(ctx context.Context, name string) (rewards.Epoch, error) {
	var epoch rewards.Epoch
	ctx, span := m.startSpan(ctx, name, "close_epoch")
	defer span.End()
	e, err := m.mutate(ctx, name, "close_epoch", func(p *lb.Pair) error {
		var err error
		epoch, err = p.CloseEpoch()
		return err
	})
	if err != nil {
		return rewards.Epoch{}, err
	}
	m.metrics.ObserveEpoch(name, epoch.Empty)
	m.logger.Info("reward epoch closed", "pair", name, "epoch", epoch.Index, "empty", epoch.Empty, "bins", len(epoch.IDs))
	m.record(ctx, name, "epoch", func(ctx context.Context) error {
		return m.history.RecordEpoch(ctx, history.EpochRecord{
			Pair:        name,
			Epoch:       epoch.Index,
			Algorithm:   string(epoch.Algorithm),
			Empty:       epoch.Empty,
			Denominator: epoch.Denominator,
			BinIDs:      epoch.IDs,
			Weightages:  epoch.Weightages,
			StartedAt:   unixTime(epoch.StartedAt),
			ClosedAt:    unixTime(epoch.ClosedAt),
		})
	})
	m.publish(e, events.TypeEpochClosed, epoch)
	m.notifyEpoch(e, epoch)
	return epoch, nil
}

func (m *Manager) notifyEpoch(e *entry, epoch rewards.Epoch) {
	if m.notifier == nil {
		return
	}
	payload := webhooks.EpochClosedPayload{
		Pair:        e.name,
		Epoch:       epoch.Index,
		Algorithm:   string(epoch.Algorithm),
		Empty:       epoch.Empty,
		Bins:        len(epoch.IDs),
		GeneratedAt: m.clock().UTC(),
	}
	if !epoch.Empty {
		rows, err := exports.EpochRows(e.name, e.pair.BinStep(), epoch)
		if err == nil {
			_, payload.Checksum, err = exports.EpochJSONL(rows)
		}
		if err != nil {
			m.logger.Error("build epoch export", "pair", e.name, "epoch", epoch.Index, "error", err)
		}
		if base := strings.TrimRight(m.exportURL, "/"); base != "" {
			for _, format := range []exports.Format{exports.FormatCSV, exports.FormatJSONL, exports.FormatParquet} {
				payload.ExportURLs = append(payload.ExportURLs,
					fmt.Sprintf("%s/v1/pairs/%s/rewards/%d/export?format=%s", base, e.name, epoch.Index, format))
			}
		}
	}
	if err := m.notifier.EnqueueEpochClosed(payload); err != nil {
		m.logger.Error("enqueue epoch webhook", "pair", e.name, "epoch", epoch.Index, "error", err)
	}
}

// ExportEpoch renders a finalized epoch of name; nil selects the latest.
// It returns the encoded rows, their sha256 checksum and the epoch.
func (m *Manager) ExportEpoch(name string, index *uint64, format exports.Format) ([]byte, string, rewards.Epoch, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, "", rewards.Epoch{}, err
	}
	epoch, err := e.pair.RewardsDistribution(index)
	if err != nil {
		return nil, "", rewards.Epoch{}, err
	}
	rows, err := exports.EpochRows(name, e.pair.BinStep(), epoch)
	if err != nil {
		return nil, "", rewards.Epoch{}, err
	}
	data, sum, err := exports.Encode(format, rows)
	if err != nil {
		return nil, "", rewards.Epoch{}, err
	}
	return data, sum, epoch, nil
}

// Positions lists the bins where owner holds shares of name.
func (m *Manager) Positions(name string, owner common.Address) ([]ledger.Position, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.ledger.Positions(owner)
}

// SwapHistory returns recent swaps of name, newest first.
func (m *Manager) SwapHistory(ctx context.Context, name string, limit int) ([]history.SwapRecord, error) {
	if _, err := m.lookup(name); err != nil {
		return nil, err
	}
	if m.history == nil {
		return nil, nil
	}
	return m.history.Swaps(ctx, name, limit)
}

// LiquidityHistory returns the deposits and withdrawals of owner in name.
func (m *Manager) LiquidityHistory(ctx context.Context, name string, owner common.Address) ([]history.LiquidityRecord, error) {
	if _, err := m.lookup(name); err != nil {
		return nil, err
	}
	if m.history == nil {
		return nil, nil
	}
	return m.history.Liquidity(ctx, name, strings.ToLower(owner.Hex()))
}

func unixTime(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
