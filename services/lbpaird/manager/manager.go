// Package manager owns the pairs served by lbpaird. Every mutation runs the
// engine call, persists the pair snapshot, records history, publishes a
// stream event and updates metrics.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	lbconfig "liquiditybook/config"
	"liquiditybook/integrations/webhooks"
	"liquiditybook/native/lb"
	"liquiditybook/native/lb/lberr"
	"liquiditybook/observability/metrics"
	telemetry "liquiditybook/observability/otel"
	"liquiditybook/services/lbpaird/events"
	"liquiditybook/services/lbpaird/history"
	"liquiditybook/services/lbpaird/ledger"
	"liquiditybook/storage"
)

// ErrPairNotFound is returned for names the manager does not serve.
var ErrPairNotFound = errors.New("manager: pair not found")

// Notifier receives operator notifications. The webhook dispatcher satisfies it.
type Notifier interface {
	EnqueueEpochClosed(payload webhooks.EpochClosedPayload) error
	EnqueueFeesCollected(payload webhooks.FeesCollectedPayload) error
}

// PairSpec declares one served pair.
type PairSpec struct {
	Name     string
	TokenX   common.Address
	TokenY   common.Address
	BinStep  uint16
	ActiveID uint32
}

// Options wires the manager's collaborators. Snapshots, Ledger and Presets
// are required.
type Options struct {
	Snapshots storage.Database
	Ledger    *bolt.DB
	Presets   *lbconfig.Registry
	History   *history.Store
	Hub       *events.Hub
	Notifier  Notifier
	Logger    *slog.Logger
	Clock     func() time.Time
	// Tracer defaults to the global liquiditybook tracer.
	Tracer trace.Tracer
	// ExportBaseURL prefixes the export links announced in epoch webhooks.
	ExportBaseURL string
}

type entry struct {
	// mu orders mutation and snapshot so the stored state never regresses.
	mu     sync.Mutex
	name   string
	pair   *lb.Pair
	ledger *ledger.Store
}

// Manager serves a fixed set of pairs.
type Manager struct {
	snapshots *lb.SnapshotStore
	history   *history.Store
	hub       *events.Hub
	notifier  Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics.LBMetrics
	clock     func() time.Time
	exportURL string

	pairs map[string]*entry
}

// New restores every pair in specs from its snapshot, instantiating pairs
// that were never stored from the preset of their bin step.
func New(opts Options, specs []PairSpec) (*Manager, error) {
	if opts.Snapshots == nil {
		return nil, errors.New("manager: snapshot database required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("manager: ledger database required")
	}
	if opts.Presets == nil {
		return nil, errors.New("manager: preset registry required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}
	m := &Manager{
		snapshots: lb.NewSnapshotStore(opts.Snapshots),
		history:   opts.History,
		hub:       opts.Hub,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		metrics:   metrics.LB(),
		clock:     opts.Clock,
		exportURL: opts.ExportBaseURL,
		pairs:     make(map[string]*entry, len(specs)),
	}
	for _, spec := range specs {
		if _, dup := m.pairs[spec.Name]; dup {
			return nil, fmt.Errorf("manager: pair %s declared twice", spec.Name)
		}
		e, err := m.load(opts.Ledger, opts.Presets, spec)
		if err != nil {
			return nil, fmt.Errorf("manager: load pair %s: %w", spec.Name, err)
		}
		m.pairs[spec.Name] = e
	}
	return m, nil
}

func (m *Manager) load(db *bolt.DB, presets *lbconfig.Registry, spec PairSpec) (*entry, error) {
	store, err := ledger.New(db, spec.Name)
	if err != nil {
		return nil, err
	}
	pair, err := m.snapshots.Load(spec.Name, store)
	switch {
	case err == nil:
		if pair.TokenX() != spec.TokenX || pair.TokenY() != spec.TokenY || pair.BinStep() != spec.BinStep {
			return nil, fmt.Errorf("stored pair %s/%s step %d does not match configuration",
				pair.TokenX().Hex(), pair.TokenY().Hex(), pair.BinStep())
		}
		pair.SetClock(m.clock)
		m.logger.Info("pair restored", "pair", spec.Name, "active_id", pair.ActiveID())
	case errors.Is(err, lb.ErrSnapshotNotFound):
		preset, err := presets.Lookup(spec.BinStep)
		if err != nil {
			return nil, err
		}
		algorithm, err := preset.Algorithm()
		if err != nil {
			return nil, err
		}
		pair, err = lb.New(lb.Config{
			TokenX:             spec.TokenX,
			TokenY:             spec.TokenY,
			BinStep:            spec.BinStep,
			ActiveID:           spec.ActiveID,
			StaticFees:         preset.StaticFees(),
			MaxBinsPerSwap:     preset.MaxBinsPerSwap,
			OracleLength:       preset.OracleLength,
			RewardsAlgorithm:   algorithm,
			RewardsDenominator: preset.RewardsDenominator,
			Clock:              m.clock,
		}, store)
		if err != nil {
			return nil, err
		}
		if err := m.snapshots.Save(spec.Name, pair); err != nil {
			return nil, err
		}
		m.logger.Info("pair created", "pair", spec.Name, "bin_step", spec.BinStep, "active_id", spec.ActiveID)
	default:
		return nil, err
	}
	return &entry{name: spec.Name, pair: pair, ledger: store}, nil
}

// Names lists the served pairs in lexical order.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.pairs))
	for name := range m.pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pair returns the engine of name for read-only queries.
func (m *Manager) Pair(name string) (*lb.Pair, error) {
	e, err := m.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.pair, nil
}

func (m *Manager) lookup(name string) (*entry, error) {
	e, ok := m.pairs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, name)
	}
	return e, nil
}

// startSpan opens the span of one pair operation. Post-commit work must use
// the returned context so it is parented to the operation.
func (m *Manager) startSpan(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "lb."+operation, trace.WithAttributes(attribute.String("lb.pair", name)))
}

// record runs a post-commit history write in a child span. Failures are
// logged since the pair state is already committed.
func (m *Manager) record(ctx context.Context, pair, kind string, write func(context.Context) error) {
	if m.history == nil {
		return
	}
	ctx, span := m.tracer.Start(ctx, "lb.history."+kind, trace.WithAttributes(attribute.String("lb.pair", pair)))
	defer span.End()
	if err := write(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history")
		m.logger.Error("record "+kind+" history", "pair", pair, "request_id", RequestID(ctx), "error", err)
	}
}

// mutate runs fn under the pair lock and persists the pair when it succeeds.
// Rejected calls leave the engine untouched, so nothing is stored. ctx must
// carry the operation span from startSpan.
func (m *Manager) mutate(ctx context.Context, name, operation string, fn func(*lb.Pair) error) (*entry, error) {
	span := trace.SpanFromContext(ctx)

	e, err := m.lookup(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown pair")
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.pair); err != nil {
		kind := lberr.Kind(err)
		m.metrics.ObserveRejection(name, operation, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		m.logger.Warn("lb operation rejected",
			"pair", name, "operation", operation, "kind", kind,
			"request_id", RequestID(ctx), "error", err)
		return nil, err
	}
	if err := m.snapshots.Save(name, e.pair); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot")
		m.logger.Error("persist pair snapshot", "pair", name, "operation", operation, "error", err)
		return nil, fmt.Errorf("persist snapshot of %s: %w", name, err)
	}
	span.SetAttributes(attribute.Int64("lb.active_id", int64(e.pair.ActiveID())))
	return e, nil
}

func (m *Manager) publish(e *entry, typ events.Type, data any) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(events.Event{
		Type:     typ,
		Pair:     e.name,
		ActiveID: e.pair.ActiveID(),
		Data:     data,
		At:       m.clock().UTC(),
	})
}

func (m *Manager) recordProtocolFees(e *entry) {
	x, y := e.pair.ProtocolFees()
	m.metrics.SetProtocolFees(e.name, toFloat(x), toFloat(y))
}

// Run closes the reward epoch of every pair each interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("manager: epoch interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("epoch scheduler started", "pairs", len(m.pairs), "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick closes the open epoch of every pair once. Failures are logged and do
// not stop the remaining pairs.
func (m *Manager) Tick(ctx context.Context) {
	for _, name := range m.Names() {
		if _, err := m.CloseEpoch(ctx, name); err != nil {
			m.logger.Error("scheduled epoch close", "pair", name, "error", err)
		}
	}
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
