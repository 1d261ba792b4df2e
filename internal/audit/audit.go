// Package audit defines the append-only activity trail the engine writes to
// when it skips work, rejects input or finishes a batch.
package audit

import "context"

// Actions recorded by the engine.
const (
	ActionReferralProcessed = "referral_processed"
	ActionReferralRejected  = "referral_rejected"
	ActionLedgerWriteFailed = "ledger_write_failed"
	ActionScoreFailed       = "score_recompute_failed"
	ActionRankingComputed   = "ranking_computed"
	ActionRankingFailed     = "ranking_failed"
	ActionBackfillCompleted = "backfill_completed"
	ActionHealthCheck       = "health_check"
)

// Recorder persists one activity entry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, subject, action, detail string) error
}

// Nop drops every entry. It is used when no audit store is configured.
type Nop struct{}

func (Nop) Record(context.Context, string, string, string) error { return nil }

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
