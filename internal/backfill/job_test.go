package backfill_test

import (
	"context"
	"errors"
	"testing"

	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// network is A <- B <- C <- D, an unreferred X carrying a stale score, and
// the loop P <-> Q.
func network(t *testing.T) *store.MemoryStore {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Chain("A", "B", "C", "D")
	g.Add("X", "", testutil.Score(9))
	g.Add("P", "Q")
	g.Add("Q", "P")
	return s
}

func newJob(t *testing.T, s backfill.Store, rs ranking.Store) *backfill.Job {
	c := ranking.NewComputer(rs, ranking.WithNow(testutil.Clock))
	return backfill.NewJob(s, c, nil, zaptest.NewLogger(t)).WithClock(testutil.Clock)
}

func scores(t *testing.T, s *store.MemoryStore) map[string]int {
	t.Helper()
	ms, err := s.ListAllMembers(context.Background())
	require.NoError(t, err)
	out := make(map[string]int, len(ms))
	for _, m := range ms {
		out[m.ID] = m.Score
	}
	return out
}

func TestRun_RebuildsLedgerScoresAndRankings(t *testing.T) {
	s := network(t)
	rep, err := newJob(t, s, s).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, rep.MembersScanned)
	assert.Equal(t, 5, rep.ReferredMembers)
	assert.Equal(t, 6, rep.LedgerUpserted)
	assert.Zero(t, rep.LedgerFailed)
	assert.Equal(t, 3, rep.ScoresUpdated)
	assert.EqualValues(t, 1, rep.ScoresZeroed)
	assert.Equal(t, []string{"P", "Q"}, rep.CycleMembers)
	assert.Equal(t, "2025-03", rep.Period)
	assert.Equal(t, 1, rep.DistrictsRanked)
	assert.Empty(t, rep.DistrictsFailed)
	assert.True(t, rep.StartedAt.Equal(testutil.Now))

	rows, err := s.ListReferrals(context.Background())
	require.NoError(t, err)
	for _, r := range rows {
		assert.NotEqual(t, "P", r.RefereeID)
		assert.NotEqual(t, "Q", r.RefereeID)
		assert.Equal(t, referral.StatusVerified, r.Status)
		assert.Equal(t, r.Level.Points(), r.Points)
	}

	got := scores(t, s)
	assert.Equal(t, 17, got["A"])
	assert.Equal(t, 15, got["B"])
	assert.Equal(t, 10, got["C"])
	assert.Zero(t, got["X"])

	ranked, err := s.ListDistrictRankings(context.Background(), "D1", "2025-03", 1)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "A", ranked[0].MemberID)
}

func TestRun_Converges(t *testing.T) {
	s := network(t)
	job := newJob(t, s, s)
	ctx := context.Background()

	first, err := job.Run(ctx)
	require.NoError(t, err)
	ledger1, err := s.ListReferrals(ctx)
	require.NoError(t, err)
	scores1 := scores(t, s)
	board1, err := s.ListDistrictRankings(ctx, "D1", "2025-03", 0)
	require.NoError(t, err)

	second, err := job.Run(ctx)
	require.NoError(t, err)
	ledger2, err := s.ListReferrals(ctx)
	require.NoError(t, err)
	board2, err := s.ListDistrictRankings(ctx, "D1", "2025-03", 0)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(ledger1, ledger2))
	assert.Empty(t, cmp.Diff(scores1, scores(t, s)))
	assert.Empty(t, cmp.Diff(board1, board2, cmpopts.IgnoreFields(ranking.Ranking{}, "ComputedAt")))
	assert.Empty(t, cmp.Diff(first, second,
		cmpopts.IgnoreFields(backfill.Report{}, "StartedAt", "FinishedAt", "ScoresZeroed")))
}

// flakyLedger rejects every ledger row written for one referee.
type flakyLedger struct {
	*store.MemoryStore
	referee string
}

func (f flakyLedger) UpsertReferral(ctx context.Context, r *referral.Referral) error {
	if r.RefereeID == f.referee {
		return errors.New("deadlock found when trying to get lock")
	}
	return f.MemoryStore.UpsertReferral(ctx, r)
}

func TestRun_SkipsFailedLedgerRows(t *testing.T) {
	s := network(t)
	rep, err := newJob(t, flakyLedger{MemoryStore: s, referee: "C"}, s).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.LedgerFailed)
	assert.Equal(t, 4, rep.LedgerUpserted)
	assert.Equal(t, 1, rep.DistrictsRanked)

	// scores come from the graph, not the ledger
	assert.Equal(t, 17, scores(t, s)["A"])
}

type brokenDirectory struct {
	*store.MemoryStore
}

func (brokenDirectory) ListAllMembers(context.Context) ([]*member.Member, error) {
	return nil, errors.New("connection reset by peer")
}

type brokenRanker struct{}

func (brokenRanker) ComputeAllDistricts(context.Context, string) (*ranking.BatchSummary, error) {
	return nil, context.DeadlineExceeded
}

func TestRun_Aborts(t *testing.T) {
	t.Run("member listing", func(t *testing.T) {
		s := network(t)
		rep, err := newJob(t, brokenDirectory{s}, s).Run(context.Background())
		assert.ErrorContains(t, err, "list members")
		require.NotNil(t, rep)
		assert.Zero(t, rep.MembersScanned)
	})

	t.Run("ranking", func(t *testing.T) {
		s := network(t)
		job := backfill.NewJob(s, brokenRanker{}, nil, zaptest.NewLogger(t)).WithClock(testutil.Clock)
		rep, err := job.Run(context.Background())
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		// earlier steps are kept
		assert.Equal(t, 6, rep.LedgerUpserted)
		assert.Equal(t, 17, scores(t, s)["A"])
	})

	t.Run("cancelled", func(t *testing.T) {
		s := network(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newJob(t, s, s).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
