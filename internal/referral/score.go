package referral

import (
	"context"
	"fmt"
	"time"

	"partyapp-referral-engine/internal/member"
)

// Point rules of the three-level pyramid.
const (
	PointsDirect      = 10
	PointsLevel2      = 5
	PointsLevel3      = 2
	PointsActiveBonus = 3

	ActiveWindow = 30 * 24 * time.Hour
)

// Breakdown is the derived score of one member.
type Breakdown struct {
	MemberID     string `json:"member_id" yaml:"member_id"`
	DirectCount  int    `json:"direct_count" yaml:"direct_count"`
	Level2Count  int    `json:"level2_count" yaml:"level2_count"`
	Level3Count  int    `json:"level3_count" yaml:"level3_count"`
	ActiveCount  int    `json:"active_count" yaml:"active_count"`
	DirectPoints int    `json:"direct_points" yaml:"direct_points"`
	Level2Points int    `json:"level2_points" yaml:"level2_points"`
	Level3Points int    `json:"level3_points" yaml:"level3_points"`
	ActivePoints int    `json:"active_points" yaml:"active_points"`
	TotalScore   int    `json:"total_score" yaml:"total_score"`
}

// ScoreOf is the scoring rule: a pure function of the forest snapshot and the
// wall-clock instant used for the active bonus. A member missing from the
// snapshot scores zero.
func ScoreOf(f *Forest, memberID string, now time.Time) Breakdown {
	b := Breakdown{MemberID: memberID}
	root, ok := f.index[memberID]
	if !ok {
		return b
	}

	visited := map[int32]bool{root: true}
	direct := f.activeGeneration([]int32{root}, visited)
	level2 := f.activeGeneration(direct, visited)
	level3 := f.activeGeneration(level2, visited)

	since := now.Add(-ActiveWindow)
	for _, d := range direct {
		t := f.nodes[d].lastActiveAt
		if !t.IsZero() && !t.Before(since) {
			b.ActiveCount++
		}
	}

	b.DirectCount = len(direct)
	b.Level2Count = len(level2)
	b.Level3Count = len(level3)
	b.DirectPoints = b.DirectCount * PointsDirect
	b.Level2Points = b.Level2Count * PointsLevel2
	b.Level3Points = b.Level3Count * PointsLevel3
	b.ActivePoints = b.ActiveCount * PointsActiveBonus
	b.TotalScore = b.DirectPoints + b.Level2Points + b.Level3Points + b.ActivePoints
	return b
}

// ActiveReferralLister returns the ACTIVE members directly referred by any of
// referrerIDs, ordered by created_at then id.
type ActiveReferralLister interface {
	ListActiveReferrals(ctx context.Context, referrerIDs []string) ([]*member.Member, error)
}

// SubtreeReader is the slice of the member directory the calculator needs.
type SubtreeReader interface {
	MemberGetter
	ActiveReferralLister
}

// LoadSnapshot builds a forest holding roots and every ACTIVE member up to
// three generations below any of them, using one batched query per
// generation.
func LoadSnapshot(ctx context.Context, lister ActiveReferralLister, roots []*member.Member) (*Forest, error) {
	snapshot := make([]*member.Member, 0, len(roots))
	seen := make(map[string]bool, len(roots))
	frontier := make([]string, 0, len(roots))
	for _, r := range roots {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		snapshot = append(snapshot, r)
		frontier = append(frontier, r.ID)
	}

	for depth := 0; depth < MaxDepth && len(frontier) > 0; depth++ {
		children, err := lister.ListActiveReferrals(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load generation %d: %w", depth+1, err)
		}
		next := make([]string, 0, len(children))
		for _, m := range children {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			snapshot = append(snapshot, m)
			next = append(next, m.ID)
		}
		frontier = next
	}
	return NewForest(snapshot), nil
}

// Calculator derives live scores from the member directory. It holds no
// cache; every call re-reads current state.
type Calculator struct {
	members SubtreeReader
	now     func() time.Time
}

func NewCalculator(members SubtreeReader, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{members: members, now: now}
}

// CalculateScore loads the ACTIVE subtree of memberID, three generations
// deep, and applies ScoreOf to it.
func (c *Calculator) CalculateScore(ctx context.Context, memberID string) (Breakdown, error) {
	if memberID == "" {
		return Breakdown{}, ErrInvalidArgument
	}
	root, err := c.members.GetMember(ctx, memberID)
	if err != nil {
		return Breakdown{}, err
	}
	forest, err := LoadSnapshot(ctx, c.members, []*member.Member{root})
	if err != nil {
		return Breakdown{}, fmt.Errorf("score %s: %w", memberID, err)
	}
	return ScoreOf(forest, memberID, c.now()), nil
}
