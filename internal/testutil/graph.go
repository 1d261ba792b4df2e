// Package testutil builds member graphs for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"partyapp-referral-engine/internal/member"

	"github.com/stretchr/testify/require"
)

// Now is the fixed wall clock shared by tests.
var Now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func Clock() time.Time { return Now }

// MemberWriter is the slice of a store the builder writes to.
type MemberWriter interface {
	UpsertMember(ctx context.Context, m *member.Member) error
}

// Graph adds members with strictly increasing created_at so registration
// order equals insertion order.
type Graph struct {
	t *testing.T
	w MemberWriter
	n int
}

func NewGraph(t *testing.T, w MemberWriter) *Graph {
	return &Graph{t: t, w: w}
}

type Opt func(*member.Member)

func Status(s member.Status) Opt { return func(m *member.Member) { m.Status = s } }

func District(district, province string) Opt {
	return func(m *member.Member) {
		m.DistrictID = district
		m.ProvinceID = province
	}
}

func ActiveAgo(d time.Duration) Opt {
	return func(m *member.Member) {
		t := Now.Add(-d)
		m.LastActiveAt = &t
	}
}

func Score(score int) Opt { return func(m *member.Member) { m.Score = score } }

// Add stores an ACTIVE member of district D1 / province P1 unless opts say
// otherwise.
func (g *Graph) Add(id, referrer string, opts ...Opt) *member.Member {
	g.t.Helper()
	g.n++
	m := &member.Member{
		ID:         id,
		FullName:   "Member " + id,
		Status:     member.StatusActive,
		DistrictID: "D1",
		ProvinceID: "P1",
		CreatedAt:  Now.Add(-time.Duration(1000-g.n) * time.Hour),
	}
	if referrer != "" {
		ref := referrer
		m.ReferredByID = &ref
	}
	for _, o := range opts {
		o(m)
	}
	require.NoError(g.t, g.w.UpsertMember(context.Background(), m))
	return m
}

// Chain adds ids as a single line, each referred by the previous one.
func (g *Graph) Chain(ids ...string) {
	g.t.Helper()
	prev := ""
	for _, id := range ids {
		g.Add(id, prev)
		prev = id
	}
}
