package exports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Pair        string `parquet:"name=pair, type=BYTE_ARRAY, convertedtype=UTF8"`
	Epoch       int64  `parquet:"name=epoch, type=INT64"`
	Algorithm   string `parquet:"name=algorithm, type=BYTE_ARRAY, convertedtype=UTF8"`
	BinID       int64  `parquet:"name=bin_id, type=INT64"`
	Price       string `parquet:"name=price, type=BYTE_ARRAY, convertedtype=UTF8"`
	Weight      int64  `parquet:"name=weight, type=INT64"`
	Denominator int64  `parquet:"name=denominator, type=INT64"`
	Share       string `parquet:"name=share, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartedAt   string `parquet:"name=started_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClosedAt    string `parquet:"name=closed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// EpochParquet encodes rows as a snappy-compressed parquet file.
func EpochParquet(rows []EpochRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	fw := writerfile.NewWriterFile(buffer)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Pair:        row.Pair,
			Epoch:       int64(row.Epoch),
			Algorithm:   row.Algorithm,
			BinID:       int64(row.BinID),
			Price:       row.Price.String(),
			Weight:      int64(row.Weight),
			Denominator: int64(row.Denominator),
			Share:       row.Share.StringFixed(8),
			StartedAt:   row.StartedAt.Format(time.RFC3339),
			ClosedAt:    row.ClosedAt.Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			return nil, "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
