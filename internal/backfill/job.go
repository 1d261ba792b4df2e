// Package backfill rebuilds the referral ledger and every derived score and
// ranking from the current referred_by_id graph.
package backfill

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/monitoring"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"

	"go.uber.org/zap"
)

type Store interface {
	ListAllMembers(ctx context.Context) ([]*member.Member, error)
	UpsertReferral(ctx context.Context, r *referral.Referral) error
	ListReferrerIDs(ctx context.Context) ([]string, error)
	UpdateMemberScore(ctx context.Context, id string, score int) error
	ZeroNonReferrerScores(ctx context.Context) (int64, error)
}

type Ranker interface {
	ComputeAllDistricts(ctx context.Context, period string) (*ranking.BatchSummary, error)
}

// Report summarizes one run.
type Report struct {
	StartedAt       time.Time         `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time         `json:"finished_at" yaml:"finished_at"`
	MembersScanned  int               `json:"members_scanned" yaml:"members_scanned"`
	ReferredMembers int               `json:"referred_members" yaml:"referred_members"`
	LedgerUpserted  int               `json:"ledger_upserted" yaml:"ledger_upserted"`
	LedgerFailed    int               `json:"ledger_failed" yaml:"ledger_failed"`
	ScoresUpdated   int               `json:"scores_updated" yaml:"scores_updated"`
	ScoresFailed    int               `json:"scores_failed" yaml:"scores_failed"`
	ScoresZeroed    int64             `json:"scores_zeroed" yaml:"scores_zeroed"`
	CycleMembers    []string          `json:"cycle_members,omitempty" yaml:"cycle_members,omitempty"`
	Period          string            `json:"period" yaml:"period"`
	DistrictsRanked int               `json:"districts_ranked" yaml:"districts_ranked"`
	DistrictsFailed map[string]string `json:"districts_failed,omitempty" yaml:"districts_failed,omitempty"`
}

type Job struct {
	store  Store
	ranker Ranker
	audit  audit.Recorder
	log    *zap.Logger
	now    func() time.Time
}

func NewJob(store Store, ranker Ranker, rec audit.Recorder, log *zap.Logger) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{store: store, ranker: ranker, audit: audit.OrNop(rec), log: log, now: time.Now}
}

// WithClock replaces the wall clock used for ledger timestamps and scores.
func (j *Job) WithClock(now func() time.Time) *Job {
	j.now = now
	return j
}

// Run repairs the ledger, recomputes every referrer's score from the graph,
// zeroes the scores of members who refer nobody and re-ranks every district.
// Individual ledger and score failures are counted and skipped; a failing
// listing or bulk statement aborts the run. Every step is idempotent, so an
// aborted run is repaired by running again.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	rep := &Report{StartedAt: j.now()}
	err := j.run(ctx, rep)
	rep.FinishedAt = j.now()
	monitoring.BackfillRuns.WithLabelValues(monitoring.Result(err)).Inc()
	if err != nil {
		j.log.Error("❌ Backfill aborted", zap.Error(err))
		return rep, err
	}

	j.log.Info("✅ Backfill finished",
		zap.Int("members", rep.MembersScanned),
		zap.Int("ledger_upserted", rep.LedgerUpserted),
		zap.Int("ledger_failed", rep.LedgerFailed),
		zap.Int("scores_updated", rep.ScoresUpdated),
		zap.Int64("scores_zeroed", rep.ScoresZeroed),
		zap.Int("cycle_members", len(rep.CycleMembers)),
		zap.Int("districts_ranked", rep.DistrictsRanked),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
	detail := fmt.Sprintf("ledger=%d failed=%d scores=%d zeroed=%d districts=%d",
		rep.LedgerUpserted, rep.LedgerFailed, rep.ScoresUpdated, rep.ScoresZeroed, rep.DistrictsRanked)
	if err := j.audit.Record(ctx, "backfill", audit.ActionBackfillCompleted, detail); err != nil {
		j.log.Debug("audit record dropped", zap.Error(err))
	}
	return rep, nil
}

func (j *Job) run(ctx context.Context, rep *Report) error {
	members, err := j.store.ListAllMembers(ctx)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	rep.MembersScanned = len(members)
	forest := referral.NewForest(members)
	now := j.now()

	// 1. ledger repair
	for _, m := range members {
		if m.ReferrerID() == "" {
			continue
		}
		rep.ReferredMembers++
		if forest.InCycle(m.ID) {
			rep.CycleMembers = append(rep.CycleMembers, m.ID)
			j.log.Warn("🚫 Member sits on a referral cycle, no ledger rows written", zap.String("member_id", m.ID))
			continue
		}
		for i, ancestorID := range forest.Ancestors(m.ID, referral.MaxDepth) {
			level := referral.Level(i + 1)
			err := j.store.UpsertReferral(ctx, referral.NewVerified(ancestorID, m.ID, level, now))
			monitoring.LedgerWrites.WithLabelValues(strconv.Itoa(int(level)), monitoring.Result(err)).Inc()
			if err != nil {
				rep.LedgerFailed++
				j.log.Warn("⚠️ Ledger upsert failed, continuing",
					zap.String("referrer_id", ancestorID), zap.String("referee_id", m.ID),
					zap.Int("level", int(level)), zap.Error(err))
				continue
			}
			rep.LedgerUpserted++
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// 2. referrer scores from the live graph
	referrers, err := j.store.ListReferrerIDs(ctx)
	if err != nil {
		return fmt.Errorf("list referrers: %w", err)
	}
	for _, id := range referrers {
		if !forest.Contains(id) {
			continue
		}
		score := referral.ScoreOf(forest, id, now).TotalScore
		err := j.store.UpdateMemberScore(ctx, id, score)
		monitoring.ScoreRecomputes.WithLabelValues(monitoring.Result(err)).Inc()
		if err != nil {
			rep.ScoresFailed++
			j.log.Warn("⚠️ Score update failed, continuing", zap.String("member_id", id), zap.Error(err))
			continue
		}
		rep.ScoresUpdated++
	}

	// 3. drift cleanup
	if rep.ScoresZeroed, err = j.store.ZeroNonReferrerScores(ctx); err != nil {
		return fmt.Errorf("zero non-referrer scores: %w", err)
	}

	// 4. rankings
	batch, err := j.ranker.ComputeAllDistricts(ctx, "")
	if err != nil {
		return fmt.Errorf("rank districts: %w", err)
	}
	rep.Period = batch.Period
	rep.DistrictsRanked = len(batch.Districts)
	rep.DistrictsFailed = batch.Failed
	return nil
}
