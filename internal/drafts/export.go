package drafts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"dfsportal/internal/types"
)

// maxImportLine bounds a single exported draft line.
const maxImportLine = 8 << 20

// exportLine is one draft in the export stream.
type exportLine struct {
	Station string         `json:"station"`
	Date    string         `json:"date"`
	SavedAt time.Time      `json:"savedAt"`
	Payload map[string]any `json:"payload"`
}

// Export writes every live, well-formed draft to w as zstd-compressed JSON
// lines and returns how many were written.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	return s.ExportStations(ctx, w, nil)
}

// ExportStations is Export restricted to the stations allow accepts. A nil
// filter exports everything.
func (s *Store) ExportStations(ctx context.Context, w io.Writer, allow StationFilter) (int, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("creating zstd encoder: %w", err)
	}

	now := s.clock.Now()
	policy := s.Policy()
	jsonEnc := json.NewEncoder(enc)
	n := 0
	for _, e := range entries {
		if e.err != nil || policy.Expired(e.rec.SavedAt, now) || !allow.Allows(e.station) {
			continue
		}
		line := exportLine{Station: e.station, Date: e.date, SavedAt: e.rec.SavedAt, Payload: e.rec.Payload}
		if err := jsonEnc.Encode(line); err != nil {
			_ = enc.Close()
			return n, fmt.Errorf("writing draft %s: %w", e.key, err)
		}
		n++
	}

	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("finishing zstd stream: %w", err)
	}
	s.logger.InfoContext(ctx, "drafts exported", "count", n)
	return n, nil
}

// Import restores drafts from an Export stream, keeping each draft's original
// savedAt. Drafts that have expired in the meantime are skipped, and so are
// drafts claiming a savedAt later than now, since they would outlive the TTL.
// Existing drafts with the same (station, date) are overwritten. Import stops
// at the first malformed line or failed write and returns how many drafts
// were written before it.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, error) {
	return s.ImportStations(ctx, r, nil)
}

// ImportStations is Import restricted to the stations allow accepts. A line
// for any other station stops the import with permission_station_denied.
func (s *Store) ImportStations(ctx context.Context, r io.Reader, allow StationFilter) (int, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeValidationInvalidJSON, "import stream is not zstd compressed", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	now := s.clock.Now()
	policy := s.Policy()
	n, lineNo, expired, future := 0, 0, 0, 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var line exportLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return n, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON,
				"malformed draft in import stream", err, map[string]any{"line": lineNo})
		}
		if err := validateID(line.Station, line.Date); err != nil {
			return n, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidJSON,
				"draft in import stream is missing station or date", err, map[string]any{"line": lineNo})
		}
		if !allow.Allows(line.Station) {
			return n, types.NewAppErrorWithDetails(types.ErrCodePermissionStation,
				"import stream contains a station outside your permission scope", nil,
				map[string]any{"line": lineNo, "station": line.Station})
		}
		if line.SavedAt.IsZero() || policy.Expired(line.SavedAt, now) {
			expired++
			continue
		}
		if line.SavedAt.After(now) {
			future++
			continue
		}

		if err := s.put(ctx, line.Station, line.Date, line.Payload, line.SavedAt); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read import stream", err)
	}

	s.logger.InfoContext(ctx, "drafts imported", "count", n, "skipped_expired", expired, "skipped_future", future)
	return n, nil
}
