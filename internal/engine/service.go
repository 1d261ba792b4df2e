// Package engine bundles the referral, ranking and backfill components behind
// the single API the HTTP, gRPC and CLI surfaces call.
package engine

import (
	"context"
	"errors"
	"sync"

	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"

	"go.uber.org/zap"
)

// ErrBackfillRunning is returned when a backfill is requested while another
// one is still in progress.
var ErrBackfillRunning = errors.New("backfill already running")

// API is the operation set exposed by every transport.
type API interface {
	ProcessReferral(ctx context.Context, referrerID, refereeID string) (*referral.Result, error)
	CheckCycle(ctx context.Context, referrerID, refereeID string) (bool, error)
	GetScore(ctx context.Context, memberID string) (referral.Breakdown, error)
	ComputeDistrictRankings(ctx context.Context, districtID, period string) (*ranking.Summary, error)
	ComputeAllDistricts(ctx context.Context, period string) (*ranking.BatchSummary, error)
	Backfill(ctx context.Context) (*backfill.Report, error)
	DistrictLeaderboard(ctx context.Context, districtID string, limit int, period string) ([]*ranking.Ranking, error)
	NationalLeaderboard(ctx context.Context, limit int) ([]*ranking.NationalEntry, error)
	Candidates(ctx context.Context, provinceID, period string) ([]*ranking.Ranking, error)
}

type Service struct {
	processor   *referral.Processor
	members     referral.MemberGetter
	computer    *ranking.Computer
	leaderboard *ranking.Leaderboard
	backfill    *backfill.Job
	backfillMu  sync.Mutex
	cache       ranking.Cache
	log         *zap.Logger
}

var _ API = (*Service)(nil)

func NewService(p *referral.Processor, members referral.MemberGetter, c *ranking.Computer, l *ranking.Leaderboard, b *backfill.Job) *Service {
	return &Service{
		processor:   p,
		members:     members,
		computer:    c,
		leaderboard: l,
		backfill:    b,
		cache:       ranking.NopCache{},
		log:         zap.NewNop(),
	}
}

// WithCache sets the leaderboard cache whose score-ordered views a
// processed referral makes stale.
func (s *Service) WithCache(cache ranking.Cache, log *zap.Logger) *Service {
	if cache != nil {
		s.cache = cache
	}
	if log != nil {
		s.log = log
	}
	return s
}

// ProcessReferral also drops the cached national board once any ancestor
// score was persisted, since that board orders members by stored score.
func (s *Service) ProcessReferral(ctx context.Context, referrerID, refereeID string) (*referral.Result, error) {
	res, err := s.processor.ProcessReferral(ctx, referrerID, refereeID)
	if res != nil && len(res.Scores) > 0 {
		if cerr := s.cache.Invalidate(ctx, ranking.NationalKey()); cerr != nil {
			s.log.Warn("⚠️ National leaderboard invalidation failed",
				zap.String("referee_id", refereeID), zap.Error(cerr))
		}
	}
	return res, err
}

func (s *Service) CheckCycle(ctx context.Context, referrerID, refereeID string) (bool, error) {
	return referral.DetectCircularReferral(ctx, s.members, referrerID, refereeID)
}

// GetScore derives the live score without persisting it.
func (s *Service) GetScore(ctx context.Context, memberID string) (referral.Breakdown, error) {
	return s.processor.Calculator().CalculateScore(ctx, memberID)
}

func (s *Service) ComputeDistrictRankings(ctx context.Context, districtID, period string) (*ranking.Summary, error) {
	return s.computer.ComputeDistrictRankings(ctx, districtID, period)
}

func (s *Service) ComputeAllDistricts(ctx context.Context, period string) (*ranking.BatchSummary, error) {
	return s.computer.ComputeAllDistricts(ctx, period)
}

// Backfill runs the reconciliation job. Only one run may be in flight.
func (s *Service) Backfill(ctx context.Context) (*backfill.Report, error) {
	if !s.backfillMu.TryLock() {
		return nil, ErrBackfillRunning
	}
	defer s.backfillMu.Unlock()
	return s.backfill.Run(ctx)
}

func (s *Service) DistrictLeaderboard(ctx context.Context, districtID string, limit int, period string) ([]*ranking.Ranking, error) {
	return s.leaderboard.District(ctx, districtID, limit, period)
}

func (s *Service) NationalLeaderboard(ctx context.Context, limit int) ([]*ranking.NationalEntry, error) {
	return s.leaderboard.National(ctx, limit)
}

func (s *Service) Candidates(ctx context.Context, provinceID, period string) ([]*ranking.Ranking, error) {
	return s.leaderboard.Candidates(ctx, provinceID, period)
}

// Kind classifies an engine error for transport status mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindUnavailable
)

func Classify(err error) Kind {
	switch {
	case errors.Is(err, referral.ErrInvalidArgument),
		errors.Is(err, ranking.ErrInvalidPeriod),
		errors.Is(err, ranking.ErrInvalidDistrict):
		return KindInvalid
	case errors.Is(err, member.ErrNotFound):
		return KindNotFound
	case errors.Is(err, referral.ErrCircularReferral), errors.Is(err, ErrBackfillRunning):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindUnavailable
	}
	return KindInternal
}
