package audit

import (
	"bytes"
	"encoding/csv"
	"time"
)

var csvHeader = []string{"occurred_at", "actor", "action", "entity", "entity_id", "outcome", "ip"}

// WriteCSV renders rows for download. Outcome and IP are lifted out of the
// metadata of signin entries.
func WriteCSV(rows []TimelineRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{
			row.At.UTC().Format(time.RFC3339),
			row.Actor,
			row.Action,
			row.Entity,
			row.EntityID,
			metaString(row.Meta, "outcome"),
			metaString(row.Meta, "ip"),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}
