package referral_test

import (
	"context"
	"errors"
	"testing"

	"partyapp-referral-engine/internal/member"
	"partyapp-referral-engine/internal/referral"
	"partyapp-referral-engine/internal/store"
	"partyapp-referral-engine/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCircularReferral(t *testing.T) {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Add("A", "")
	g.Add("B", "A")
	g.Add("C", "B")
	g.Add("X", "")
	g.Add("L1", "L2")
	g.Add("L2", "L1")
	g.Add("O", "missing")

	tests := []struct {
		name     string
		referrer string
		referee  string
		want     bool
	}{
		{"referee is the parent", "B", "A", true},
		{"referee is a distant ancestor", "C", "A", true},
		{"self referral", "A", "A", true},
		{"referee below referrer", "A", "C", false},
		{"unrelated trees", "C", "X", false},
		{"corrupted loop terminates", "L1", "X", false},
		{"dangling ancestor ends the walk", "O", "A", false},
		{"unknown referrer", "ghost", "A", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := referral.DetectCircularReferral(context.Background(), s, tt.referrer, tt.referee)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectCircularReferral_InvalidArguments(t *testing.T) {
	_, err := referral.DetectCircularReferral(context.Background(), store.NewMemoryStore(), "", "A")
	assert.ErrorIs(t, err, referral.ErrInvalidArgument)
}

type brokenGetter struct{ err error }

func (b brokenGetter) GetMember(context.Context, string) (*member.Member, error) { return nil, b.err }

func TestDetectCircularReferral_StorageFailurePropagates(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := referral.DetectCircularReferral(context.Background(), brokenGetter{boom}, "A", "B")
	assert.ErrorIs(t, err, boom)
}

func TestForest_AncestorsAndCycles(t *testing.T) {
	s := store.NewMemoryStore()
	g := testutil.NewGraph(t, s)
	g.Add("A", "")
	g.Add("B", "A")
	g.Add("C", "B")
	g.Add("D", "C")
	g.Add("E", "D")
	g.Add("L1", "L2")
	g.Add("L2", "L1")
	g.Add("T", "L1")
	f := referral.NewForest(members(t, s))

	assert.Equal(t, 8, f.Len())
	assert.Equal(t, []string{"D", "C", "B"}, f.Ancestors("E", referral.MaxDepth))
	assert.Equal(t, []string{"A"}, f.Ancestors("B", referral.MaxDepth))
	assert.Empty(t, f.Ancestors("A", referral.MaxDepth))
	assert.Equal(t, []string{"L1", "L2"}, f.Ancestors("T", referral.MaxDepth))
	assert.Equal(t, []string{"L2"}, f.Ancestors("L1", referral.MaxDepth))

	assert.True(t, f.InCycle("L1"))
	assert.True(t, f.InCycle("L2"))
	assert.False(t, f.InCycle("T"))
	assert.False(t, f.InCycle("E"))
	assert.Equal(t, "D", f.ParentID("E"))
	assert.False(t, f.Contains("ghost"))
}
