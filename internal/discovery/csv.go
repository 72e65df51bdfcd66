package discovery

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rotisserie/eris"
)

// ReadRecordsCSV parses contractor records from CSV. The header row names
// Record's json fields; list columns separate values with ";". Rows without
// an id are skipped and repeated ids keep the first row. Pool and
// availability default to verified and available.
func ReadRecordsCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "discovery: read csv")
	}
	if len(rows) < 2 {
		return nil, nil
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
	}

	seen := make(map[string]bool)
	var out []Record
	for line, row := range rows[1:] {
		m := make(map[string]any, len(headers))
		for i, h := range headers {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				m[h] = strings.TrimSpace(row[i])
			}
		}
		if m["id"] == nil || seen[m["id"].(string)] {
			continue
		}

		rec, err := decodeRecord(m)
		if err != nil {
			return nil, eris.Wrapf(err, "discovery: csv line %d", line+2)
		}
		if rec.Pool == "" {
			rec.Pool = PoolVerified
		}
		if rec.Availability == "" {
			rec.Availability = AvailabilityAvailable
		}
		seen[rec.ID] = true
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(m map[string]any) (Record, error) {
	var rec Record
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rec,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(";"),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return rec, eris.Wrap(err, "discovery: build decoder")
	}
	if err := dec.Decode(m); err != nil {
		return rec, eris.Wrap(err, "discovery: decode record")
	}
	for i, s := range rec.Specialties {
		rec.Specialties[i] = strings.TrimSpace(s)
	}
	for i, s := range rec.ServicePostalCodes {
		rec.ServicePostalCodes[i] = strings.TrimSpace(s)
	}
	return rec, nil
}
