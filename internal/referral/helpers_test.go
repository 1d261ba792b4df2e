package referral_test

import (
	"context"
	"testing"

	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/store"

	"github.com/stretchr/testify/require"
)

func members(t *testing.T, s *store.MemoryStore) []*member.Member {
	t.Helper()
	ms, err := s.ListAllMembers(context.Background())
	require.NoError(t, err)
	return ms
}

func storedScore(t *testing.T, s *store.MemoryStore, id string) int {
	t.Helper()
	m, err := s.GetMember(context.Background(), id)
	require.NoError(t, err)
	return m.Score
}
