package ranking

import (
	"context"

	"partyapp-referral-engine/internal/member"
)

// TxStore is the storage view inside one ranking transaction. Every read and
// write of a district pass goes through it so readers never observe a
// half-updated leaderboard.
type TxStore interface {
	ListActiveReferrals(ctx context.Context, referrerIDs []string) ([]*member.Member, error)
	ListActiveMembersByDistrict(ctx context.Context, districtID string) ([]*member.Member, error)
	UpsertRanking(ctx context.Context, r *Ranking) error
	UpdateMemberScoreRank(ctx context.Context, id string, score int, rank *int) error
	// DeleteStaleRankings removes rows of the partition whose member is no
	// longer an ACTIVE member of the district.
	DeleteStaleRankings(ctx context.Context, districtID, period string) (int64, error)
	// ClearInactiveRanks nulls the cached rank of non-ACTIVE district members.
	ClearInactiveRanks(ctx context.Context, districtID string) (int64, error)
}

// Store is what the ranking computer and the leaderboard reader need.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx TxStore) error) error
	ListActiveDistricts(ctx context.Context) ([]string, error)
	ListDistrictRankings(ctx context.Context, districtID, period string, limit int) ([]*Ranking, error)
	ListCandidates(ctx context.Context, provinceID, period string) ([]*Ranking, error)
	ListTopMembers(ctx context.Context, limit int) ([]*member.Member, error)
}
