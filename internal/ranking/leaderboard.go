package ranking

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"partyapp-referral-engine/internal/monitoring"

	"go.uber.org/zap"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit maps a caller limit into [1, MaxLimit], using DefaultLimit for
// anything below one.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Leaderboard serves read-only views over the ranking snapshots. Results go
// through the cache; any cache failure falls back to the store.
type Leaderboard struct {
	store        Store
	cache        Cache
	log          *zap.Logger
	now          func() time.Time
	defaultLimit int
}

func NewLeaderboard(store Store, cache Cache, log *zap.Logger) *Leaderboard {
	if cache == nil {
		cache = NopCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Leaderboard{store: store, cache: cache, log: log, now: time.Now, defaultLimit: DefaultLimit}
}

// WithClock replaces the clock used to resolve the current period.
func (l *Leaderboard) WithClock(now func() time.Time) *Leaderboard {
	l.now = now
	return l
}

// WithDefaultLimit sets the size used when a caller asks for no limit.
// Values outside [1, MaxLimit] are ignored.
func (l *Leaderboard) WithDefaultLimit(n int) *Leaderboard {
	if n > 0 && n <= MaxLimit {
		l.defaultLimit = n
	}
	return l
}

func (l *Leaderboard) clamp(limit int) int {
	if limit <= 0 {
		return l.defaultLimit
	}
	return ClampLimit(limit)
}

// District returns the snapshot of a district for period (current month when
// empty), ordered by rank.
func (l *Leaderboard) District(ctx context.Context, districtID string, limit int, period string) ([]*Ranking, error) {
	if districtID == "" {
		return nil, ErrInvalidDistrict
	}
	period, err := ResolvePeriod(period, l.now())
	if err != nil {
		return nil, err
	}
	limit = l.clamp(limit)

	return readThrough(ctx, l, "district", DistrictKey(districtID, period), "limit:"+strconv.Itoa(limit),
		func() ([]*Ranking, error) {
			return l.store.ListDistrictRankings(ctx, districtID, period, limit)
		})
}

// National ranks ACTIVE members by cached score across every district. Ties
// keep registration order.
func (l *Leaderboard) National(ctx context.Context, limit int) ([]*NationalEntry, error) {
	limit = l.clamp(limit)
	return readThrough(ctx, l, "national", NationalKey(), "limit:"+strconv.Itoa(limit),
		func() ([]*NationalEntry, error) {
			members, err := l.store.ListTopMembers(ctx, limit)
			if err != nil {
				return nil, err
			}
			out := make([]*NationalEntry, len(members))
			for i, m := range members {
				out[i] = &NationalEntry{
					Position:   i + 1,
					MemberID:   m.ID,
					FullName:   m.FullName,
					DistrictID: m.DistrictID,
					ProvinceID: m.ProvinceID,
					Score:      m.Score,
				}
			}
			return out, nil
		})
}

// Candidates lists the rank-1 member of every district for period, optionally
// restricted to one province, highest score first.
func (l *Leaderboard) Candidates(ctx context.Context, provinceID, period string) ([]*Ranking, error) {
	period, err := ResolvePeriod(period, l.now())
	if err != nil {
		return nil, err
	}
	return readThrough(ctx, l, "candidates", CandidatesKey(period), "province:"+provinceID,
		func() ([]*Ranking, error) {
			return l.store.ListCandidates(ctx, provinceID, period)
		})
}

func readThrough[T any](ctx context.Context, l *Leaderboard, view, key, field string, load func() ([]T, error)) ([]T, error) {
	payload, ok, err := l.cache.Get(ctx, key, field)
	switch {
	case err != nil:
		monitoring.LeaderboardCache.WithLabelValues(view, "error").Inc()
		l.log.Warn("⚠️ Leaderboard cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		var out []T
		if err := json.Unmarshal(payload, &out); err == nil {
			monitoring.LeaderboardCache.WithLabelValues(view, "hit").Inc()
			return out, nil
		}
		monitoring.LeaderboardCache.WithLabelValues(view, "error").Inc()
	default:
		monitoring.LeaderboardCache.WithLabelValues(view, "miss").Inc()
	}

	out, err := load()
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	if payload, err := json.Marshal(out); err == nil {
		if err := l.cache.Set(ctx, key, field, payload); err != nil {
			l.log.Warn("⚠️ Leaderboard cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}
