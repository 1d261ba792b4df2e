package referral_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/testutil"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds A <- B <- C <- D <- E.
func chain(t *testing.T) *store.MemoryStore {
	s := store.NewMemoryStore()
	testutil.NewGraph(t, s).Chain("A", "B", "C", "D", "E")
	return s
}

type ledgerEdge struct {
	Referrer, Referee string
	Level             referral.Level
	Points            int
}

func edges(t *testing.T, s *store.MemoryStore) []ledgerEdge {
	t.Helper()
	rows, err := s.ListReferrals(context.Background())
	require.NoError(t, err)
	out := make([]ledgerEdge, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledgerEdge{r.ReferrerID, r.RefereeID, r.Level, r.Points})
	}
	return out
}

func TestProcessReferral_StopsAtThirdGeneration(t *testing.T) {
	s := chain(t)
	p := referral.NewProcessor(s, referral.WithClock(testutil.Clock))

	res, err := p.ProcessReferral(context.Background(), "D", "E")
	require.NoError(t, err)

	assert.Equal(t, []ledgerEdge{
		{"D", "E", referral.LevelDirect, 10},
		{"C", "E", referral.LevelSecond, 5},
		{"B", "E", referral.LevelThird, 2},
	}, edges(t, s))
	assert.Len(t, res.Ledger, 3)
	assert.Zero(t, res.LedgerFailures)

	assert.Equal(t, []referral.AncestorScore{
		{MemberID: "D", Level: referral.LevelDirect, Score: 10},
		{MemberID: "C", Level: referral.LevelSecond, Score: 15},
		{MemberID: "B", Level: referral.LevelThird, Score: 17},
	}, res.Scores)
	assert.Equal(t, 10, storedScore(t, s, "D"))
	assert.Equal(t, 15, storedScore(t, s, "C"))
	assert.Equal(t, 17, storedScore(t, s, "B"))
	assert.Zero(t, storedScore(t, s, "A"), "a level-4 ancestor is never touched")
}

func TestProcessReferral_ShortChain(t *testing.T) {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Add("A", "")
	g.Add("B", "A")
	p := referral.NewProcessor(s, referral.WithClock(testutil.Clock))

	res, err := p.ProcessReferral(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []ledgerEdge{{"A", "B", referral.LevelDirect, 10}}, edges(t, s))
	assert.Len(t, res.Scores, 1)
	assert.Equal(t, 10, storedScore(t, s, "A"))
}

func TestProcessReferral_Idempotent(t *testing.T) {
	s := chain(t)
	p := referral.NewProcessor(s, referral.WithClock(testutil.Clock))
	ctx := context.Background()

	_, err := p.ProcessReferral(ctx, "D", "E")
	require.NoError(t, err)
	firstLedger, err := s.ListReferrals(ctx)
	require.NoError(t, err)
	firstMembers := members(t, s)

	res, err := p.ProcessReferral(ctx, "D", "E")
	require.NoError(t, err)
	secondLedger, err := s.ListReferrals(ctx)
	require.NoError(t, err)

	// the result reports the rows as stored, not the rebuilt candidates
	if diff := cmp.Diff(secondLedger, res.Ledger); diff != "" {
		t.Errorf("result ledger differs from store (-stored +result):\n%s", diff)
	}

	if diff := cmp.Diff(firstLedger, secondLedger); diff != "" {
		t.Errorf("ledger changed on re-run (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(firstMembers, members(t, s)); diff != "" {
		t.Errorf("members changed on re-run (-first +second):\n%s", diff)
	}
}

func TestProcessReferral_RejectsCycleWithoutWrites(t *testing.T) {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Add("A", "")
	g.Add("B", "A")
	p := referral.NewProcessor(s, referral.WithClock(testutil.Clock))

	res, err := p.ProcessReferral(context.Background(), "B", "A")
	assert.ErrorIs(t, err, referral.ErrCircularReferral)
	assert.Nil(t, res)
	assert.Empty(t, edges(t, s))
	assert.Zero(t, storedScore(t, s, "A"))
	assert.Zero(t, storedScore(t, s, "B"))
}

func TestProcessReferral_Validation(t *testing.T) {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Add("B", "")
	p := referral.NewProcessor(s, referral.WithClock(testutil.Clock))

	_, err := p.ProcessReferral(context.Background(), "", "B")
	assert.ErrorIs(t, err, referral.ErrInvalidArgument)

	_, err = p.ProcessReferral(context.Background(), "ghost", "B")
	assert.ErrorIs(t, err, member.ErrNotFound)
	assert.Empty(t, edges(t, s))
}

// flakyLedger fails ledger writes at the given levels.
type flakyLedger struct {
	*store.MemoryStore
	failLevels map[referral.Level]bool
}

func (f *flakyLedger) UpsertReferral(ctx context.Context, r *referral.Referral) error {
	if f.failLevels[r.Level] {
		return errors.New("deadlock found when trying to get lock")
	}
	return f.MemoryStore.UpsertReferral(ctx, r)
}

func TestProcessReferral_UpperLevelFailuresAreBestEffort(t *testing.T) {
	s := chain(t)
	flaky := &flakyLedger{MemoryStore: s, failLevels: map[referral.Level]bool{referral.LevelSecond: true}}
	p := referral.NewProcessor(flaky, referral.WithClock(testutil.Clock))

	res, err := p.ProcessReferral(context.Background(), "D", "E")
	require.NoError(t, err)
	assert.Equal(t, 1, res.LedgerFailures)
	assert.Equal(t, []ledgerEdge{
		{"D", "E", referral.LevelDirect, 10},
		{"B", "E", referral.LevelThird, 2},
	}, edges(t, s))

	assert.Equal(t, 15, storedScore(t, s, "C"), "scores come from the graph, not the ledger")
	assert.Equal(t, 17, storedScore(t, s, "B"))
}

func TestProcessReferral_LevelOneFailureStillRecomputesScores(t *testing.T) {
	s := chain(t)
	flaky := &flakyLedger{MemoryStore: s, failLevels: map[referral.Level]bool{referral.LevelDirect: true}}
	p := referral.NewProcessor(flaky, referral.WithClock(testutil.Clock))

	res, err := p.ProcessReferral(context.Background(), "D", "E")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Scores, 3)
	assert.Equal(t, 10, storedScore(t, s, "D"))
	assert.Len(t, edges(t, s), 2)
}

type trail struct {
	mu      sync.Mutex
	entries []string
}

func (r *trail) Record(_ context.Context, subject, action, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, subject+" "+action+" "+detail)
	return nil
}

func TestProcessReferral_RecordsActivity(t *testing.T) {
	s := chain(t)
	rec := &trail{}
	flaky := &flakyLedger{MemoryStore: s, failLevels: map[referral.Level]bool{referral.LevelThird: true}}
	p := referral.NewProcessor(flaky, referral.WithClock(testutil.Clock), referral.WithAudit(rec))

	_, err := p.ProcessReferral(context.Background(), "D", "E")
	require.NoError(t, err)
	_, err = p.ProcessReferral(context.Background(), "E", "A")
	require.ErrorIs(t, err, referral.ErrCircularReferral)

	assert.Equal(t, []string{
		"E ledger_write_failed level=3 referrer=B",
		"E referral_processed referrer=D",
		"A referral_rejected referrer=E",
	}, rec.entries)
}
