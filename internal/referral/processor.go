package referral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"partyapp-referral-engine/internal/audit"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/monitoring"

	"go.uber.org/zap"
)

// Store is what the processor reads and writes.
type Store interface {
	SubtreeReader
	// UpsertReferral writes r keyed by (referrer, referee) and leaves the
	// stored id, created_at and verified_at in r.
	UpsertReferral(ctx context.Context, r *Referral) error
	UpdateMemberScore(ctx context.Context, id string, score int) error
}

// AncestorScore is the recomputed score of one ancestor touched by a
// registration.
type AncestorScore struct {
	MemberID string `json:"member_id" yaml:"member_id"`
	Level    Level  `json:"level" yaml:"level"`
	Score    int    `json:"score" yaml:"score"`
}

// Result describes one ProcessReferral call.
type Result struct {
	ReferrerID     string          `json:"referrer_id" yaml:"referrer_id"`
	RefereeID      string          `json:"referee_id" yaml:"referee_id"`
	Ledger         []*Referral     `json:"ledger" yaml:"ledger"`
	LedgerFailures int             `json:"ledger_failures" yaml:"ledger_failures"`
	Scores         []AncestorScore `json:"scores" yaml:"scores"`
}

// Processor attributes a new registration to up to three ancestors.
type Processor struct {
	store Store
	calc  *Calculator
	audit audit.Recorder
	log   *zap.Logger
	now   func() time.Time
}

// ====== Options ======

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithAudit(r audit.Recorder) Option {
	return func(p *Processor) { p.audit = audit.OrNop(r) }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// NewProcessor - builds a processor with a silent logger and no audit trail
// unless opts say otherwise.
func NewProcessor(store Store, opts ...Option) *Processor {
	p := &Processor{
		store: store,
		audit: audit.Nop{},
		log:   zap.NewNop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.calc = NewCalculator(store, p.now)
	return p
}

// Calculator exposes the live score calculator sharing the processor clock.
func (p *Processor) Calculator() *Calculator { return p.calc }

// 🔹 1. PROCESS REFERRAL

// ProcessReferral writes the ledger rows for refereeID and refreshes the
// cached score of every ancestor that earns points from it.
//
// Level-2 and level-3 ledger writes are best effort: a failure is logged,
// audited and counted in Result.LedgerFailures, and processing continues.
// Score recomputation always runs. A level-1 write failure or a score
// persistence failure is returned together with the partial Result.
func (p *Processor) ProcessReferral(ctx context.Context, referrerID, refereeID string) (*Result, error) {
	if referrerID == "" || refereeID == "" {
		monitoring.ReferralsProcessed.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidArgument
	}

	// === Step 1: reject cycles before any write ===
	circular, err := DetectCircularReferral(ctx, p.store, referrerID, refereeID)
	if err != nil {
		monitoring.ReferralsProcessed.WithLabelValues("error").Inc()
		return nil, err
	}
	if circular {
		monitoring.ReferralsProcessed.WithLabelValues("rejected").Inc()
		p.log.Warn("🚫 Circular referral rejected",
			zap.String("referrer_id", referrerID), zap.String("referee_id", refereeID))
		p.record(ctx, refereeID, audit.ActionReferralRejected, "referrer="+referrerID)
		return nil, fmt.Errorf("%w: %s is already an ancestor of %s", ErrCircularReferral, refereeID, referrerID)
	}

	referrer, err := p.store.GetMember(ctx, referrerID)
	if err != nil {
		monitoring.ReferralsProcessed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load referrer %s: %w", referrerID, err)
	}

	now := p.now()
	res := &Result{ReferrerID: referrerID, RefereeID: refereeID}
	chain := []*member.Member{referrer}

	// === Step 2: level-1 row, the only one that fails the call ===
	var levelOneErr error
	if row, err := p.writeRow(ctx, referrerID, refereeID, LevelDirect, now); err != nil {
		levelOneErr = fmt.Errorf("write level-1 ledger row: %w", err)
		p.log.Error("❌ Level-1 ledger write failed", zap.String("referrer_id", referrerID),
			zap.String("referee_id", refereeID), zap.Error(err))
		p.record(ctx, refereeID, audit.ActionLedgerWriteFailed, "level=1 referrer="+referrerID)
	} else {
		res.Ledger = append(res.Ledger, row)
	}

	// === Step 3: up to two more generations, best effort ===
	visited := map[string]bool{refereeID: true, referrerID: true}
	current := referrer
	for level := LevelSecond; level <= LevelThird; level++ {
		parentID := current.ReferrerID()
		if parentID == "" || visited[parentID] {
			break
		}
		parent, err := p.store.GetMember(ctx, parentID)
		if err != nil {
			if !errors.Is(err, member.ErrNotFound) {
				p.log.Warn("⚠️ Ancestor lookup failed, stopping chain walk",
					zap.String("ancestor_id", parentID), zap.Int("level", int(level)), zap.Error(err))
			}
			break
		}
		visited[parentID] = true
		chain = append(chain, parent)

		row, err := p.writeRow(ctx, parent.ID, refereeID, level, now)
		if err != nil {
			res.LedgerFailures++
			p.log.Warn("⚠️ Ledger write skipped, continuing",
				zap.String("referrer_id", parent.ID), zap.String("referee_id", refereeID),
				zap.Int("level", int(level)), zap.Error(err))
			p.record(ctx, refereeID, audit.ActionLedgerWriteFailed,
				fmt.Sprintf("level=%d referrer=%s", level, parent.ID))
		} else {
			res.Ledger = append(res.Ledger, row)
		}
		current = parent
	}

	// === Step 4: refresh every touched ancestor ===
	var scoreErrs []error
	for i, ancestor := range chain {
		score, err := p.recompute(ctx, ancestor.ID)
		if err != nil {
			scoreErrs = append(scoreErrs, err)
			continue
		}
		res.Scores = append(res.Scores, AncestorScore{MemberID: ancestor.ID, Level: Level(i + 1), Score: score})
	}

	err = errors.Join(append([]error{levelOneErr}, scoreErrs...)...)
	monitoring.ReferralsProcessed.WithLabelValues(monitoring.Result(err)).Inc()
	if err == nil {
		p.log.Info("✅ Referral processed",
			zap.String("referrer_id", referrerID), zap.String("referee_id", refereeID),
			zap.Int("ledger_rows", len(res.Ledger)), zap.Int("ancestors", len(chain)))
		p.record(ctx, refereeID, audit.ActionReferralProcessed, "referrer="+referrerID)
	}
	return res, err
}

// 🔹 2. RECOMPUTE SCORE

// RecomputeScore - recalculates and persists the cached score of one member.
func (p *Processor) RecomputeScore(ctx context.Context, memberID string) (Breakdown, error) {
	b, err := p.calc.CalculateScore(ctx, memberID)
	if err != nil {
		monitoring.ScoreRecomputes.WithLabelValues("error").Inc()
		return Breakdown{}, err
	}
	if err := p.store.UpdateMemberScore(ctx, memberID, b.TotalScore); err != nil {
		monitoring.ScoreRecomputes.WithLabelValues("error").Inc()
		return Breakdown{}, fmt.Errorf("persist score of %s: %w", memberID, err)
	}
	monitoring.ScoreRecomputes.WithLabelValues("ok").Inc()
	return b, nil
}

// ====== Helpers ======

func (p *Processor) recompute(ctx context.Context, memberID string) (int, error) {
	b, err := p.RecomputeScore(ctx, memberID)
	if err != nil {
		p.log.Error("❌ Score recompute failed", zap.String("member_id", memberID), zap.Error(err))
		p.record(ctx, memberID, audit.ActionScoreFailed, err.Error())
		return 0, err
	}
	return b.TotalScore, nil
}

func (p *Processor) writeRow(ctx context.Context, referrerID, refereeID string, level Level, now time.Time) (*Referral, error) {
	row := NewVerified(referrerID, refereeID, level, now)
	err := p.store.UpsertReferral(ctx, row)
	monitoring.LedgerWrites.WithLabelValues(strconv.Itoa(int(level)), monitoring.Result(err)).Inc()
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (p *Processor) record(ctx context.Context, subject, action, detail string) {
	if err := p.audit.Record(ctx, subject, action, detail); err != nil {
		p.log.Debug("audit record dropped", zap.String("action", action), zap.Error(err))
	}
}
