// Package exports renders finalized reward epochs as CSV, JSON Lines and
// parquet files. Every export is returned with a SHA-256 checksum of the
// payload so downstream payout jobs can verify what they ingest.
package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"liquiditybook/native/lb/pricing"
	"liquiditybook/native/lb/rewards"
)

// Format names a supported export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ContentType returns the media type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

// EpochRow is one bin's weight in a finalized epoch.
type EpochRow struct {
	Pair        string
	Epoch       uint64
	Algorithm   string
	BinID       uint32
	Price       decimal.Decimal
	Weight      uint64
	Denominator uint64
	Share       decimal.Decimal
	StartedAt   time.Time
	ClosedAt    time.Time
}

// EpochRows flattens an epoch into rows priced with the pair's bin step. An
// empty epoch yields no rows.
func EpochRows(pair string, binStep uint16, epoch rewards.Epoch) ([]EpochRow, error) {
	if err := epoch.Validate(); err != nil {
		return nil, err
	}
	rows := make([]EpochRow, 0, len(epoch.IDs))
	denominator := decimal.NewFromInt(int64(epoch.Denominator))
	for i, id := range epoch.IDs {
		price, err := pricing.PriceFromID(id, binStep)
		if err != nil {
			return nil, fmt.Errorf("epoch %d bin %d: %w", epoch.Index, id, err)
		}
		rendered, err := pricing.Render(price)
		if err != nil {
			return nil, fmt.Errorf("epoch %d bin %d: %w", epoch.Index, id, err)
		}
		weight := epoch.Weightages[i]
		rows = append(rows, EpochRow{
			Pair:        pair,
			Epoch:       epoch.Index,
			Algorithm:   string(epoch.Algorithm),
			BinID:       id,
			Price:       rendered,
			Weight:      weight,
			Denominator: epoch.Denominator,
			Share:       decimal.NewFromInt(int64(weight)).DivRound(denominator, 8),
			StartedAt:   time.Unix(int64(epoch.StartedAt), 0).UTC(),
			ClosedAt:    time.Unix(int64(epoch.ClosedAt), 0).UTC(),
		})
	}
	return rows, nil
}

// Encode dispatches to the encoder for format.
func Encode(format Format, rows []EpochRow) ([]byte, string, error) {
	switch format {
	case FormatCSV:
		return EpochCSV(rows)
	case FormatJSONL:
		return EpochJSONL(rows)
	case FormatParquet:
		return EpochParquet(rows)
	default:
		return nil, "", fmt.Errorf("exports: unsupported format %q", format)
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
