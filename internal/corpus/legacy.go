package corpus

import (
	"bytes"
	"encoding/json"
	"io"

	"corpusbot/internal/models"
	"corpusbot/internal/record"
)

// LegacyReport summarizes a legacy conversion.
type LegacyReport struct {
	Recovered int `json:"recovered"`
	Skipped   int `json:"skipped"`
}

// ParseLegacy reads the old comma-prefixed fragment format
// (",{...}\n,{...}\n", optionally wrapped in brackets) and returns every
// fragment that is a valid record. Unparsable fragments are skipped up to the
// next line.
func ParseLegacy(r io.Reader) ([]*models.TrainingRecord, LegacyReport, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, LegacyReport{}, err
	}

	var (
		recs   []*models.TrainingRecord
		report LegacyReport
	)

	rest := data
	for {
		rest = bytes.TrimLeft(rest, " \t\r\n,[]")
		if len(rest) == 0 {
			break
		}

		dec := json.NewDecoder(bytes.NewReader(rest))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			report.Skipped++
			rest = skipLine(rest)
			continue
		}
		rest = rest[dec.InputOffset():]

		rec, err := record.Build(string(raw))
		if err != nil {
			report.Skipped++
			continue
		}
		recs = append(recs, rec)
		report.Recovered++
	}

	return recs, report, nil
}

func skipLine(b []byte) []byte {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil
	}
	return b[i+1:]
}
