package exports

import (
	"bytes"
	"encoding/json"
	"time"
)

// EpochJSONL builds a JSON Lines export for the supplied rows and returns the
// serialised payload alongside a checksum.
func EpochJSONL(rows []EpochRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"pair":        row.Pair,
			"epoch":       row.Epoch,
			"algorithm":   row.Algorithm,
			"binId":       row.BinID,
			"price":       row.Price.String(),
			"weight":      row.Weight,
			"denominator": row.Denominator,
			"share":       row.Share.StringFixed(8),
			"startedAt":   row.StartedAt.Format(time.RFC3339),
			"closedAt":    row.ClosedAt.Format(time.RFC3339),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}
