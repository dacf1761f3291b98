// Package history records committed pair operations in a SQL database so
// operators can audit swaps, liquidity movements and reward epochs after the
// fact. The pair state itself never depends on it.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrDSNRequired is returned when no database location is configured.
	ErrDSNRequired = errors.New("history: dsn must be configured")
	// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("history: unknown driver")
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("history: record not found")
)

// SwapRecord is one committed swap.
type SwapRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair         string    `gorm:"index:idx_swap_pair_time"`
	RequestID    string
	SwapForY     bool
	AmountIn     string
	AmountInLeft string
	AmountOut    string
	Fee          string
	ProtocolFee  string
	BinsCrossed  int
	ActiveID     uint32
	CreatedAt    time.Time `gorm:"index:idx_swap_pair_time"`
}

// LiquidityRecord is one committed deposit or withdrawal.
type LiquidityRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Pair      string    `gorm:"index:idx_liquidity_pair_owner"`
	RequestID string
	Owner     string `gorm:"index:idx_liquidity_pair_owner"`
	Operation string
	AmountX   string
	AmountY   string
	BinIDs    []uint32 `gorm:"serializer:json"`
	Shares    []string `gorm:"serializer:json"`
	CreatedAt time.Time
}

// EpochRecord is a finalized reward epoch.
type EpochRecord struct {
	Pair        string   `gorm:"primaryKey"`
	Epoch       uint64   `gorm:"primaryKey;autoIncrement:false"`
	Algorithm   string
	Empty       bool
	Denominator uint64
	BinIDs      []uint32 `gorm:"serializer:json"`
	Weightages  []uint64 `gorm:"serializer:json"`
	StartedAt   time.Time
	ClosedAt    time.Time
	CreatedAt   time.Time
}

// AutoMigrate creates or updates the history tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SwapRecord{}, &LiquidityRecord{}, &EpochRecord{})
}

// Store wraps the history database.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured driver and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an already migrated handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) RecordSwap(ctx context.Context, rec SwapRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

func (s *Store) RecordLiquidity(ctx context.Context, rec LiquidityRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert liquidity: %w", err)
	}
	return nil
}

// RecordEpoch stores a closed epoch. Epochs are immutable once recorded.
func (s *Store) RecordEpoch(ctx context.Context, rec EpochRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// Swaps returns the most recent swaps of pair, newest first.
func (s *Store) Swaps(ctx context.Context, pair string, limit int) ([]SwapRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []SwapRecord
	err := s.db.WithContext(ctx).
		Where("pair = ?", pair).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query swaps: %w", err)
	}
	return out, nil
}

// Liquidity returns the deposits and withdrawals of owner in pair, oldest first.
func (s *Store) Liquidity(ctx context.Context, pair, owner string) ([]LiquidityRecord, error) {
	var out []LiquidityRecord
	err := s.db.WithContext(ctx).
		Where("pair = ? AND owner = ?", pair, owner).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query liquidity: %w", err)
	}
	return out, nil
}

// Epoch loads one recorded epoch.
func (s *Store) Epoch(ctx context.Context, pair string, epoch uint64) (EpochRecord, error) {
	var rec EpochRecord
	err := s.db.WithContext(ctx).Where("pair = ? AND epoch = ?", pair, epoch).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, fmt.Errorf("%w: %s epoch %d", ErrNotFound, pair, epoch)
	}
	if err != nil {
		return rec, fmt.Errorf("query epoch: %w", err)
	}
	return rec, nil
}
