package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
)

type pairKey struct{ referrer, referee string }

type rankKey struct{ member, district, period string }

// MemoryStore keeps everything in maps guarded by one lock. It backs tests
// and the CLI dry runs. Values are cloned on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	members   map[string]*member.Member
	referrals map[pairKey]*referral.Referral
	rankings  map[rankKey]*ranking.Ranking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:   make(map[string]*member.Member),
		referrals: make(map[pairKey]*referral.Referral),
		rankings:  make(map[rankKey]*ranking.Ranking),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// 🔹 MEMBERS

func (s *MemoryStore) UpsertMember(_ context.Context, m *member.Member) error {
	if m.ID == "" {
		return fmt.Errorf("member id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMember(_ context.Context, id string) (*member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", member.ErrNotFound, id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListAllMembers(context.Context) ([]*member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectMembers(func(*member.Member) bool { return true }), nil
}

func (s *MemoryStore) ListActiveReferrals(_ context.Context, referrerIDs []string) ([]*member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeReferrals(referrerIDs), nil
}

func (s *MemoryStore) ListActiveDistricts(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.members {
		if m.IsActive() && !seen[m.DistrictID] {
			seen[m.DistrictID] = true
			out = append(out, m.DistrictID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) ListTopMembers(_ context.Context, limit int) ([]*member.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.selectMembers((*member.Member).IsActive)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateMemberScore(_ context.Context, id string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setScoreRank(id, score, nil, false)
}

func (s *MemoryStore) ZeroNonReferrerScores(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referrers := make(map[string]bool)
	for k := range s.referrals {
		referrers[k.referrer] = true
	}
	var n int64
	for id, m := range s.members {
		if m.Score > 0 && !referrers[id] {
			m.Score = 0
			n++
		}
	}
	return n, nil
}

// 🔹 LEDGER

func (s *MemoryStore) UpsertReferral(_ context.Context, r *referral.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := pairKey{r.ReferrerID, r.RefereeID}
	row := r.Clone()
	if old, ok := s.referrals[k]; ok {
		row.ID = old.ID
		row.CreatedAt = old.CreatedAt
		if old.VerifiedAt != nil {
			row.VerifiedAt = old.VerifiedAt
		}
	}
	s.referrals[k] = row
	r.ID, r.CreatedAt, r.VerifiedAt = row.ID, row.CreatedAt, row.Clone().VerifiedAt
	return nil
}

func (s *MemoryStore) ListReferrals(context.Context) ([]*referral.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*referral.Referral, 0, len(s.referrals))
	for _, r := range s.referrals {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RefereeID != out[j].RefereeID {
			return out[i].RefereeID < out[j].RefereeID
		}
		return out[i].Level < out[j].Level
	})
	return out, nil
}

func (s *MemoryStore) ListReferrerIDs(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for k := range s.referrals {
		if !seen[k.referrer] {
			seen[k.referrer] = true
			out = append(out, k.referrer)
		}
	}
	sort.Strings(out)
	return out, nil
}

// 🔹 RANKINGS

func (s *MemoryStore) ListDistrictRankings(_ context.Context, districtID, period string, limit int) ([]*ranking.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ranking.Ranking
	for k, r := range s.rankings {
		if k.district == districtID && k.period == period {
			out = append(out, s.withName(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, provinceID, period string) ([]*ranking.Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ranking.Ranking
	for k, r := range s.rankings {
		if k.period != period || r.Rank != 1 {
			continue
		}
		if provinceID != "" && r.ProvinceID != provinceID {
			continue
		}
		out = append(out, s.withName(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DistrictID < out[j].DistrictID
	})
	return out, nil
}

// RunInTx holds the write lock for the whole of fn and restores the previous
// state when fn fails.
func (s *MemoryStore) RunInTx(_ context.Context, fn func(tx ranking.TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make(map[string]*member.Member, len(s.members))
	for id, m := range s.members {
		members[id] = m.Clone()
	}
	rankings := make(map[rankKey]*ranking.Ranking, len(s.rankings))
	for k, r := range s.rankings {
		c := *r
		rankings[k] = &c
	}

	if err := fn(memoryTx{s}); err != nil {
		s.members, s.rankings = members, rankings
		return err
	}
	return nil
}

// memoryTx runs with the store lock already held.
type memoryTx struct{ s *MemoryStore }

func (t memoryTx) ListActiveReferrals(_ context.Context, referrerIDs []string) ([]*member.Member, error) {
	return t.s.activeReferrals(referrerIDs), nil
}

func (t memoryTx) ListActiveMembersByDistrict(_ context.Context, districtID string) ([]*member.Member, error) {
	return t.s.selectMembers(func(m *member.Member) bool {
		return m.IsActive() && m.DistrictID == districtID
	}), nil
}

func (t memoryTx) UpsertRanking(_ context.Context, r *ranking.Ranking) error {
	k := rankKey{r.MemberID, r.DistrictID, r.Period}
	row := *r
	row.MemberName = ""
	if old, ok := t.s.rankings[k]; ok {
		row.ID = old.ID
	}
	t.s.rankings[k] = &row
	return nil
}

func (t memoryTx) UpdateMemberScoreRank(_ context.Context, id string, score int, rank *int) error {
	return t.s.setScoreRank(id, score, rank, true)
}

func (t memoryTx) DeleteStaleRankings(_ context.Context, districtID, period string) (int64, error) {
	var n int64
	for k := range t.s.rankings {
		if k.district != districtID || k.period != period {
			continue
		}
		m, ok := t.s.members[k.member]
		if !ok || !m.IsActive() || m.DistrictID != districtID {
			delete(t.s.rankings, k)
			n++
		}
	}
	return n, nil
}

func (t memoryTx) ClearInactiveRanks(_ context.Context, districtID string) (int64, error) {
	var n int64
	for _, m := range t.s.members {
		if m.DistrictID == districtID && !m.IsActive() && m.Rank != nil {
			m.Rank = nil
			n++
		}
	}
	return n, nil
}

// --- helpers, callers hold the lock ---

func (s *MemoryStore) selectMembers(keep func(*member.Member) bool) []*member.Member {
	var out []*member.Member
	for _, m := range s.members {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	sortMembers(out)
	return out
}

func (s *MemoryStore) activeReferrals(referrerIDs []string) []*member.Member {
	want := make(map[string]bool, len(referrerIDs))
	for _, id := range referrerIDs {
		want[id] = true
	}
	return s.selectMembers(func(m *member.Member) bool {
		return m.IsActive() && want[m.ReferrerID()]
	})
}

func (s *MemoryStore) setScoreRank(id string, score int, rank *int, withRank bool) error {
	m, ok := s.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", member.ErrNotFound, id)
	}
	m.Score = score
	if withRank {
		if rank == nil {
			m.Rank = nil
		} else {
			r := *rank
			m.Rank = &r
		}
	}
	return nil
}

func (s *MemoryStore) withName(r *ranking.Ranking) *ranking.Ranking {
	c := *r
	if m, ok := s.members[r.MemberID]; ok {
		c.MemberName = m.FullName
	}
	return &c
}

func sortMembers(ms []*member.Member) {
	sort.Slice(ms, func(i, j int) bool { return member.SortKeyLess(ms[i], ms[j]) })
}
