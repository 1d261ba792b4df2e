package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/monitoring"
	"partyapp-referral-engine/internal/referral"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Summary describes one district ranking pass.
type Summary struct {
	DistrictID  string    `json:"district_id" yaml:"district_id"`
	Period      string    `json:"period" yaml:"period"`
	Ranked      int       `json:"ranked" yaml:"ranked"`
	StaleRows   int64     `json:"stale_rows" yaml:"stale_rows"`
	ClearedRank int64     `json:"cleared_ranks" yaml:"cleared_ranks"`
	CandidateID string    `json:"candidate_id,omitempty" yaml:"candidate_id,omitempty"`
	ComputedAt  time.Time `json:"computed_at" yaml:"computed_at"`
}

// BatchSummary describes a ranking pass over every district.
type BatchSummary struct {
	Period    string            `json:"period" yaml:"period"`
	Districts []*Summary        `json:"districts" yaml:"districts"`
	Failed    map[string]string `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Computer materializes period-scoped district leaderboards.
type Computer struct {
	store Store
	cache Cache
	audit audit.Recorder
	log   *zap.Logger
	now   func() time.Time
	group singleflight.Group
}

// ====== Options ======

type ComputerOption func(*Computer)

func WithCache(c Cache) ComputerOption {
	return func(rc *Computer) {
		if c != nil {
			rc.cache = c
		}
	}
}

func WithRecorder(r audit.Recorder) ComputerOption {
	return func(rc *Computer) { rc.audit = audit.OrNop(r) }
}

func WithLog(l *zap.Logger) ComputerOption {
	return func(rc *Computer) { rc.log = l }
}

func WithNow(now func() time.Time) ComputerOption {
	return func(rc *Computer) { rc.now = now }
}

// NewComputer - builds a computer with no cache, audit trail or logging
// unless opts say otherwise.
func NewComputer(store Store, opts ...ComputerOption) *Computer {
	c := &Computer{
		store: store,
		cache: NopCache{},
		audit: audit.Nop{},
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// 🔹 1. ONE DISTRICT

// ComputeDistrictRankings re-derives the score of every ACTIVE member of the
// district and replaces the district's snapshot for period (current month
// when empty). Concurrent calls for the same district and period share one
// pass.
func (c *Computer) ComputeDistrictRankings(ctx context.Context, districtID, period string) (*Summary, error) {
	if districtID == "" {
		return nil, ErrInvalidDistrict
	}
	period, err := ResolvePeriod(period, c.now())
	if err != nil {
		return nil, err
	}

	v, err, _ := c.group.Do(districtID+"|"+period, func() (any, error) {
		return c.computeDistrict(ctx, districtID, period)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Summary), nil
}

func (c *Computer) computeDistrict(ctx context.Context, districtID, period string) (*Summary, error) {
	start := time.Now()
	now := c.now()
	sum := &Summary{DistrictID: districtID, Period: period, ComputedAt: now}

	err := c.store.RunInTx(ctx, func(tx TxStore) error {
		// === Step 1: snapshot the ACTIVE members and their subtrees ===
		members, err := tx.ListActiveMembersByDistrict(ctx, districtID)
		if err != nil {
			return fmt.Errorf("list members of district %s: %w", districtID, err)
		}
		forest, err := referral.LoadSnapshot(ctx, tx, members)
		if err != nil {
			return fmt.Errorf("snapshot district %s: %w", districtID, err)
		}

		// === Step 2: score and order ===
		type scored struct {
			m     *member.Member
			score int
		}
		board := make([]scored, len(members))
		for i, m := range members {
			board[i] = scored{m: m, score: referral.ScoreOf(forest, m.ID, now).TotalScore}
		}
		// members arrive ordered by created_at, id; the stable sort keeps
		// that order among equal scores.
		sort.SliceStable(board, func(i, j int) bool { return board[i].score > board[j].score })

		// === Step 3: write the snapshot and the cached rank ===
		for i, e := range board {
			rank := i + 1
			row := &Ranking{
				ID:          uuid.New().String(),
				MemberID:    e.m.ID,
				MemberName:  e.m.FullName,
				DistrictID:  districtID,
				ProvinceID:  e.m.ProvinceID,
				Period:      period,
				Score:       e.score,
				Rank:        rank,
				IsCandidate: rank == 1,
				ComputedAt:  now,
			}
			if err := tx.UpsertRanking(ctx, row); err != nil {
				return fmt.Errorf("upsert ranking of %s: %w", e.m.ID, err)
			}
			if err := tx.UpdateMemberScoreRank(ctx, e.m.ID, e.score, &rank); err != nil {
				return fmt.Errorf("update cached rank of %s: %w", e.m.ID, err)
			}
		}
		if len(board) > 0 {
			sum.CandidateID = board[0].m.ID
		}
		sum.Ranked = len(board)

		// === Step 4: drop members that left or went inactive ===
		if sum.StaleRows, err = tx.DeleteStaleRankings(ctx, districtID, period); err != nil {
			return fmt.Errorf("delete stale rankings: %w", err)
		}
		if sum.ClearedRank, err = tx.ClearInactiveRanks(ctx, districtID); err != nil {
			return fmt.Errorf("clear inactive ranks: %w", err)
		}
		return nil
	})

	monitoring.RankingRuns.WithLabelValues(monitoring.Result(err)).Inc()
	monitoring.RankingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Error("❌ District ranking failed",
			zap.String("district_id", districtID), zap.String("period", period), zap.Error(err))
		c.record(ctx, districtID, audit.ActionRankingFailed, err.Error())
		return nil, err
	}

	if err := c.cache.Invalidate(ctx, DistrictKey(districtID, period), CandidatesKey(period), NationalKey()); err != nil {
		c.log.Warn("⚠️ Leaderboard cache invalidation failed", zap.String("district_id", districtID), zap.Error(err))
	}
	c.log.Info("✅ District ranked",
		zap.String("district_id", districtID), zap.String("period", period),
		zap.Int("members", sum.Ranked), zap.Int64("stale_rows", sum.StaleRows),
		zap.Duration("took", time.Since(start)))
	c.record(ctx, districtID, audit.ActionRankingComputed, fmt.Sprintf("period=%s members=%d", period, sum.Ranked))
	return sum, nil
}

// 🔹 2. EVERY DISTRICT

// ComputeAllDistricts ranks every district that has at least one ACTIVE
// member. A failing district is logged and recorded in Failed; the batch
// continues with the next one.
func (c *Computer) ComputeAllDistricts(ctx context.Context, period string) (*BatchSummary, error) {
	period, err := ResolvePeriod(period, c.now())
	if err != nil {
		return nil, err
	}
	districts, err := c.store.ListActiveDistricts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active districts: %w", err)
	}

	batch := &BatchSummary{Period: period}
	for _, d := range districts {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		sum, err := c.ComputeDistrictRankings(ctx, d, period)
		if err != nil {
			if batch.Failed == nil {
				batch.Failed = make(map[string]string)
			}
			batch.Failed[d] = err.Error()
			continue
		}
		batch.Districts = append(batch.Districts, sum)
	}

	c.log.Info("🏁 Ranking batch finished", zap.String("period", period),
		zap.Int("ranked", len(batch.Districts)), zap.Int("failed", len(batch.Failed)))
	return batch, nil
}

// ====== Helpers ======

func (c *Computer) record(ctx context.Context, subject, action, detail string) {
	if err := c.audit.Record(ctx, subject, action, detail); err != nil {
		c.log.Debug("audit record dropped", zap.String("action", action), zap.Error(err))
	}
}
