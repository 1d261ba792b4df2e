package engine

import (
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"

	"go.uber.org/zap"
)

// Deps are the shared collaborators of every component.
type Deps struct {
	Repo  store.Repository
	Cache ranking.Cache
	Audit audit.Recorder
	Log   *zap.Logger
	Now   func() time.Time

	// LeaderboardLimit is the leaderboard size when a caller passes none.
	LeaderboardLimit int
}

// Components exposes the individual parts alongside the Service, for callers
// such as the scheduler that need one of them directly.
type Components struct {
	Processor   *referral.Processor
	Computer    *ranking.Computer
	Leaderboard *ranking.Leaderboard
	Backfill    *backfill.Job
	Service     *Service
}

// Build wires the processor, ranking computer, leaderboard reader and
// backfill job over one repository.
func Build(d Deps) *Components {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Cache == nil {
		d.Cache = ranking.NopCache{}
	}
	rec := audit.OrNop(d.Audit)

	proc := referral.NewProcessor(d.Repo,
		referral.WithClock(d.Now),
		referral.WithAudit(rec),
		referral.WithLogger(d.Log.Named("referral")))
	comp := ranking.NewComputer(d.Repo,
		ranking.WithCache(d.Cache),
		ranking.WithRecorder(rec),
		ranking.WithLog(d.Log.Named("ranking")),
		ranking.WithNow(d.Now))
	board := ranking.NewLeaderboard(d.Repo, d.Cache, d.Log.Named("leaderboard")).
		WithClock(d.Now).
		WithDefaultLimit(d.LeaderboardLimit)
	job := backfill.NewJob(d.Repo, comp, rec, d.Log.Named("backfill")).WithClock(d.Now)

	return &Components{
		Processor:   proc,
		Computer:    comp,
		Leaderboard: board,
		Backfill:    job,
		Service:     NewService(proc, d.Repo, comp, board, job).WithCache(d.Cache, d.Log.Named("engine")),
	}
}
