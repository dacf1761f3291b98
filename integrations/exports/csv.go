package exports

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

// EpochCSV builds a CSV export for the supplied rows and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func EpochCSV(rows []EpochRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"pair", "epoch", "algorithm", "bin_id", "price", "weight", "denominator", "share", "started_at", "closed_at"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			row.Pair,
			strconv.FormatUint(row.Epoch, 10),
			row.Algorithm,
			strconv.FormatUint(uint64(row.BinID), 10),
			row.Price.String(),
			strconv.FormatUint(row.Weight, 10),
			strconv.FormatUint(row.Denominator, 10),
			row.Share.StringFixed(8),
			row.StartedAt.Format(time.RFC3339),
			row.ClosedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
