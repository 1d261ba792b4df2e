// Package store implements the member directory, the referral ledger and the
// ranking snapshots on SQL backends and in memory.
package store

import (
	"context"

	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
)

// Repository is the full storage surface of the engine. Both implementations
// satisfy referral.Store and ranking.Store.
type Repository interface {
	referral.Store
	ranking.Store

	UpsertMember(ctx context.Context, m *member.Member) error
	ListAllMembers(ctx context.Context) ([]*member.Member, error)
	ListReferrals(ctx context.Context) ([]*referral.Referral, error)
	ListReferrerIDs(ctx context.Context) ([]string, error)
	ZeroNonReferrerScores(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*SQLStore)(nil)
)
