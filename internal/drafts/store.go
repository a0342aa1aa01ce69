// Package drafts persists in-progress sales reports with a fixed time to live.
//
// A draft is keyed by (station, date). Saving overwrites; reads derive the
// expiry state from the stored savedAt so the TTL can never drift from what
// was written. Expired entries stay physically present until CleanupExpired
// removes them, but Load and Get already treat them as absent.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"dfsportal/internal/expiry"
	"dfsportal/internal/storage"
	"dfsportal/internal/types"
)

// Store is the draft store. It is safe for concurrent use as long as the
// underlying KV is.
type Store struct {
	kv     storage.KV
	clock  types.Clock
	policy atomic.Pointer[expiry.Policy]
	logger *slog.Logger
}

// NewStore wires a Store. A nil clock uses the system clock and a nil logger
// uses slog.Default().
func NewStore(kv storage.KV, clock types.Clock, policy expiry.Policy, logger *slog.Logger) *Store {
	if clock == nil {
		clock = types.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:     kv,
		clock:  clock,
		logger: logger.With("component", "draft_store"),
	}
	s.policy.Store(&policy)
	return s
}

// Policy returns the expiry policy in effect.
func (s *Store) Policy() expiry.Policy {
	return *s.policy.Load()
}

// SetWarningThreshold changes the expiring-soon window. The TTL is fixed.
func (s *Store) SetWarningThreshold(d time.Duration) {
	p := s.Policy()
	p.WarningThreshold = d
	s.policy.Store(&p)
}

func validateID(station, date string) error {
	if station == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidStation, "station is required", nil)
	}
	if date == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidDate, "date is required", nil)
	}
	return nil
}

// Save serializes payload with the current time as savedAt and overwrites any
// existing draft for (station, date). Failures come back as *types.AppError:
// storage_serialization when the payload cannot be encoded,
// storage_quota_exceeded when the backend is full and internal_storage_error
// for any other write failure. Nothing is retried.
func (s *Store) Save(ctx context.Context, station, date string, payload map[string]any) error {
	if err := validateID(station, date); err != nil {
		return err
	}
	return s.put(ctx, station, date, payload, s.clock.Now())
}

func (s *Store) put(ctx context.Context, station, date string, payload map[string]any, savedAt time.Time) error {
	value, err := encodeRecord(payload, savedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeStorageSerialization,
			"draft payload cannot be serialized", err)
	}

	key := Key(station, date)
	if err := s.kv.Set(ctx, key, value); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			s.logger.WarnContext(ctx, "draft save rejected by storage quota",
				"station", station, "date", date, "size_bytes", len(key)+len(value))
			return types.NewAppErrorWithDetails(types.ErrCodeStorageQuota,
				"draft storage is full; delete or clean up old drafts", err,
				map[string]any{"size_bytes": len(key) + len(value)})
		}
		s.logger.ErrorContext(ctx, "draft save failed", "station", station, "date", date, "error", err)
		return types.NewAppError(types.ErrCodeInternalStorage, "failed to save draft", err)
	}

	s.logger.DebugContext(ctx, "draft saved", "station", station, "date", date, "saved_at", savedAt)
	return nil
}

// Load returns the payload of a live draft. It reports false when the draft
// is missing, unreadable or expired. Loading never changes savedAt.
func (s *Store) Load(ctx context.Context, station, date string) (map[string]any, bool) {
	d, ok := s.Get(ctx, station, date)
	if !ok {
		return nil, false
	}
	return d.Payload, true
}

// Get is Load returning the whole record.
func (s *Store) Get(ctx context.Context, station, date string) (*types.Draft, bool) {
	if validateID(station, date) != nil {
		return nil, false
	}

	raw, found, err := s.kv.Get(ctx, Key(station, date))
	if err != nil {
		s.logger.WarnContext(ctx, "draft read failed", "station", station, "date", date, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "draft entry unreadable", "station", station, "date", date, "error", err)
		return nil, false
	}
	if s.Policy().Expired(rec.SavedAt, s.clock.Now()) {
		return nil, false
	}

	return &types.Draft{
		Station: station,
		Date:    date,
		Payload: rec.Payload,
		SavedAt: rec.SavedAt,
	}, true
}

// entry is one scanned key in the draft namespace.
type entry struct {
	key     string
	station string
	date    string
	raw     string
	rec     record
	err     error // non-nil when raw could not be decoded
}

func (e entry) size() int { return len(e.key) + len(e.raw) }

// scan enumerates the draft namespace. Keys that do not parse are skipped and
// keys that vanish between enumeration and read are ignored. Only a failure
// to enumerate is returned.
func (s *Store) scan(ctx context.Context) ([]entry, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStorage, "failed to enumerate drafts", err)
	}

	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		station, date, ok := ParseKey(key)
		if !ok {
			s.logger.WarnContext(ctx, "skipping unrecognised draft key", "key", key)
			continue
		}
		raw, found, err := s.kv.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable draft", "key", key, "error", err)
			continue
		}
		if !found {
			continue
		}

		e := entry{key: key, station: station, date: date, raw: raw}
		e.rec, e.err = decodeRecord(raw)
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) summarize(e entry, now time.Time) types.DraftSummary {
	st := s.Policy().Summarize(e.rec.SavedAt, now)
	return types.DraftSummary{
		Station:            e.station,
		Date:               e.date,
		SavedAt:            e.rec.SavedAt,
		ExpiresAt:          st.ExpiresAt,
		TimeRemainingHours: st.RemainingHours,
		Expired:            st.Expired,
		ExpiringSoon:       st.ExpiringSoon,
		SizeBytes:          e.size(),
	}
}

// ListAll returns one summary per well-formed draft, newest first. Expired
// drafts are included and flagged until CleanupExpired removes them; corrupt
// entries are logged and left out.
func (s *Store) ListAll(ctx context.Context) ([]types.DraftSummary, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]types.DraftSummary, 0, len(entries))
	for _, e := range entries {
		if e.err != nil {
			s.logger.WarnContext(ctx, "skipping corrupt draft", "key", e.key, "error", e.err)
			continue
		}
		out = append(out, s.summarize(e, now))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		if out[i].Station != out[j].Station {
			return out[i].Station < out[j].Station
		}
		return out[i].Date < out[j].Date
	})
	return out, nil
}

// ExpiringSoon lists live drafts inside the warning window.
func (s *Store) ExpiringSoon(ctx context.Context) ([]types.DraftSummary, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.DraftSummary
	for _, d := range all {
		if d.ExpiringSoon {
			out = append(out, d)
		}
	}
	return out, nil
}

// Delete removes the draft for (station, date) and reports whether one
// existed. A missing draft is not an error.
func (s *Store) Delete(ctx context.Context, station, date string) (bool, error) {
	if err := validateID(station, date); err != nil {
		return false, err
	}
	existed, err := s.kv.Delete(ctx, Key(station, date))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStorage, "failed to delete draft", err)
	}
	if existed {
		s.logger.DebugContext(ctx, "draft deleted", "station", station, "date", date)
	}
	return existed, nil
}

// CleanupExpired removes every draft that is expired at the moment of the
// call and returns how many were removed. Corrupt entries are removed too
// but only reported in the log. Individual delete failures do not stop the
// sweep; they are joined into the returned error.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	var (
		removed int
		corrupt int
		errs    []error
	)
	for _, e := range entries {
		isCorrupt := e.err != nil
		if !isCorrupt && !s.Policy().Expired(e.rec.SavedAt, now) {
			continue
		}

		existed, err := s.kv.Delete(ctx, e.key)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", e.key, err))
			continue
		}
		if !existed {
			continue
		}
		if isCorrupt {
			corrupt++
		} else {
			removed++
		}
	}

	if removed > 0 || corrupt > 0 {
		s.logger.InfoContext(ctx, "expired drafts cleaned up", "removed", removed, "corrupt_removed", corrupt)
	}
	if len(errs) > 0 {
		return removed, types.NewAppError(types.ErrCodeInternalStorage,
			fmt.Sprintf("%d drafts could not be removed", len(errs)), errors.Join(errs...))
	}
	return removed, nil
}

// StationFilter selects the stations a caller may see. A nil filter
// accepts every station.
type StationFilter func(station string) bool

// Allows reports whether station passes the filter.
func (f StationFilter) Allows(station string) bool {
	return f == nil || f(station)
}

// TotalUsage reports how many entries the draft namespace holds and how many
// bytes they occupy, corrupt ones included.
func (s *Store) TotalUsage(ctx context.Context) (types.StorageUsage, error) {
	return s.UsageFor(ctx, nil)
}

// UsageFor is TotalUsage restricted to the stations allow accepts.
func (s *Store) UsageFor(ctx context.Context, allow StationFilter) (types.StorageUsage, error) {
	entries, err := s.scan(ctx)
	if err != nil {
		return types.StorageUsage{}, err
	}
	var u types.StorageUsage
	for _, e := range entries {
		if !allow.Allows(e.station) {
			continue
		}
		u.Count++
		u.TotalBytes += e.size()
	}
	return u, nil
}
