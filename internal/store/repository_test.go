package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"partyapp-referral-engine/internal/database"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// forEachStore runs fn against the in-memory store and an in-memory SQLite
// database.
func forEachStore(t *testing.T, fn func(t *testing.T, repo store.Repository)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		db, err := database.NewSQLite(":memory:", zap.NewNop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		require.NoError(t, database.CreateTables(context.Background(), db, database.SQLite, zap.NewNop()))
		fn(t, store.NewSQLStore(db, database.SQLite))
	})
}

func ids(ms []*member.Member) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestRepository_Members(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		g := testutil.NewGraph(t, repo)
		a := g.Add("A", "", testutil.ActiveAgo(time.Hour))
		g.Add("B", "A", testutil.Status(member.StatusSuspended))

		got, err := repo.GetMember(ctx, "A")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(a, got))

		b, err := repo.GetMember(ctx, "B")
		require.NoError(t, err)
		assert.Equal(t, "A", b.ReferrerID())
		assert.Nil(t, b.LastActiveAt)
		assert.Nil(t, b.Rank)

		_, err = repo.GetMember(ctx, "missing")
		assert.True(t, errors.Is(err, member.ErrNotFound), err)

		require.NoError(t, repo.UpdateMemberScore(ctx, "A", 42))
		got, err = repo.GetMember(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 42, got.Score)

		all, err := repo.ListAllMembers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, ids(all))
	})
}

func TestRepository_ListActiveReferrals(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		g := testutil.NewGraph(t, repo)
		g.Add("R1", "")
		g.Add("R2", "")
		g.Add("c1", "R2")
		g.Add("c2", "R1")
		g.Add("c3", "R1", testutil.Status(member.StatusPending))
		g.Add("c4", "R2")

		got, err := repo.ListActiveReferrals(ctx, []string{"R1", "R2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c4"}, ids(got))

		// More ids than one IN list holds.
		many := make([]string, 0, 1200)
		for i := range 1199 {
			many = append(many, fmt.Sprintf("ghost-%d", i))
		}
		many = append(many, "R1")
		got, err = repo.ListActiveReferrals(ctx, many)
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, ids(got))

		got, err = repo.ListActiveReferrals(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestRepository_UpsertReferralKeepsIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		first := referral.NewVerified("A", "B", referral.LevelDirect, testutil.Now)
		require.NoError(t, repo.UpsertReferral(ctx, first))

		later := testutil.Now.Add(time.Hour)
		second := referral.NewVerified("A", "B", referral.LevelDirect, later)
		require.NoError(t, repo.UpsertReferral(ctx, second))
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.CreatedAt.Equal(testutil.Now))
		require.NotNil(t, second.VerifiedAt)
		assert.True(t, second.VerifiedAt.Equal(testutil.Now))
		require.NoError(t, repo.UpsertReferral(ctx, referral.NewVerified("A", "C", referral.LevelSecond, later)))

		rows, err := repo.ListReferrals(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		ab := rows[0]
		assert.Equal(t, first.ID, ab.ID)
		assert.True(t, ab.CreatedAt.Equal(testutil.Now))
		require.NotNil(t, ab.VerifiedAt)
		assert.True(t, ab.VerifiedAt.Equal(testutil.Now))
		assert.True(t, ab.UpdatedAt.Equal(later))
		assert.Equal(t, referral.StatusVerified, ab.Status)
		assert.Equal(t, 10, ab.Points)

		assert.Equal(t, "C", rows[1].RefereeID)
		assert.Equal(t, referral.LevelSecond, rows[1].Level)

		referrers, err := repo.ListReferrerIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, referrers)
	})
}

func TestRepository_ZeroNonReferrerScores(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		g := testutil.NewGraph(t, repo)
		g.Add("A", "", testutil.Score(10))
		g.Add("B", "A", testutil.Score(7))
		g.Add("C", "B")
		require.NoError(t, repo.UpsertReferral(ctx, referral.NewVerified("A", "B", referral.LevelDirect, testutil.Now)))

		n, err := repo.ZeroNonReferrerScores(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		a, _ := repo.GetMember(ctx, "A")
		b, _ := repo.GetMember(ctx, "B")
		assert.Equal(t, 10, a.Score)
		assert.Equal(t, 0, b.Score)
	})
}

func rankRow(memberID, district string, rank, score int) *ranking.Ranking {
	return &ranking.Ranking{
		ID:          memberID + "-" + district,
		MemberID:    memberID,
		DistrictID:  district,
		ProvinceID:  "P1",
		Period:      "2025-03",
		Score:       score,
		Rank:        rank,
		IsCandidate: rank == 1,
		ComputedAt:  testutil.Now,
	}
}

func TestRepository_RunInTxRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		testutil.NewGraph(t, repo).Add("A", "")

		boom := errors.New("boom")
		err := repo.RunInTx(ctx, func(tx ranking.TxStore) error {
			require.NoError(t, tx.UpsertRanking(ctx, rankRow("A", "D1", 1, 5)))
			rank := 1
			require.NoError(t, tx.UpdateMemberScoreRank(ctx, "A", 5, &rank))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		rows, err := repo.ListDistrictRankings(ctx, "D1", "2025-03", 0)
		require.NoError(t, err)
		assert.Empty(t, rows)
		a, err := repo.GetMember(ctx, "A")
		require.NoError(t, err)
		assert.Nil(t, a.Rank)
		assert.Zero(t, a.Score)
	})
}

func TestRepository_RankingPartition(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		g := testutil.NewGraph(t, repo)
		g.Add("A", "")
		g.Add("B", "")
		g.Add("C", "", testutil.Status(member.StatusInactive))
		g.Add("E", "", testutil.District("D2", "P2"))

		err := repo.RunInTx(ctx, func(tx ranking.TxStore) error {
			active, err := tx.ListActiveMembersByDistrict(ctx, "D1")
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "B"}, ids(active))

			for i, id := range []string{"A", "B", "C"} {
				rank := i + 1
				require.NoError(t, tx.UpsertRanking(ctx, rankRow(id, "D1", rank, 30-10*i)))
				require.NoError(t, tx.UpdateMemberScoreRank(ctx, id, 30-10*i, &rank))
			}
			e := rankRow("E", "D2", 1, 50)
			e.ProvinceID = "P2"
			require.NoError(t, tx.UpsertRanking(ctx, e))

			stale, err := tx.DeleteStaleRankings(ctx, "D1", "2025-03")
			require.NoError(t, err)
			assert.EqualValues(t, 1, stale)

			cleared, err := tx.ClearInactiveRanks(ctx, "D1")
			require.NoError(t, err)
			assert.EqualValues(t, 1, cleared)
			return nil
		})
		require.NoError(t, err)

		rows, err := repo.ListDistrictRankings(ctx, "D1", "2025-03", 0)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "A", rows[0].MemberID)
		assert.Equal(t, "Member A", rows[0].MemberName)
		assert.True(t, rows[0].ComputedAt.Equal(testutil.Now))

		limited, err := repo.ListDistrictRankings(ctx, "D1", "2025-03", 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		c, err := repo.GetMember(ctx, "C")
		require.NoError(t, err)
		assert.Nil(t, c.Rank)

		cands, err := repo.ListCandidates(ctx, "", "2025-03")
		require.NoError(t, err)
		require.Len(t, cands, 2)
		assert.Equal(t, "E", cands[0].MemberID)
		assert.Equal(t, "A", cands[1].MemberID)

		cands, err = repo.ListCandidates(ctx, "P1", "2025-03")
		require.NoError(t, err)
		require.Len(t, cands, 1)
		assert.Equal(t, "A", cands[0].MemberID)

		districts, err := repo.ListActiveDistricts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"D1", "D2"}, districts)

		top, err := repo.ListTopMembers(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, ids(top))
	})
}

func TestRepository_UpsertRankingKeepsPartitionKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, repo store.Repository) {
		ctx := context.Background()
		testutil.NewGraph(t, repo).Add("A", "")

		for _, score := range []int{5, 9} {
			row := rankRow("A", "D1", 1, score)
			row.ID = fmt.Sprintf("id-%d", score)
			require.NoError(t, repo.RunInTx(ctx, func(tx ranking.TxStore) error {
				return tx.UpsertRanking(ctx, row)
			}))
		}

		rows, err := repo.ListDistrictRankings(ctx, "D1", "2025-03", 0)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 9, rows[0].Score)
	})
}
