package referral

import (
	"context"
	"errors"
	"fmt"

	"partyapp-referral-engine/internal/member"
)

// MemberGetter looks up a single member record.
type MemberGetter interface {
	GetMember(ctx context.Context, id string) (*member.Member, error)
}

// DetectCircularReferral walks referred_by_id upward from referrerID and
// reports whether refereeID is already one of its ancestors (or is the
// referrer itself). The walk ends at a root, at a missing ancestor record, or
// when a member repeats in an already-corrupted chain.
func DetectCircularReferral(ctx context.Context, members MemberGetter, referrerID, refereeID string) (bool, error) {
	if referrerID == "" || refereeID == "" {
		return false, ErrInvalidArgument
	}

	visited := make(map[string]bool)
	current := referrerID
	for current != "" {
		if current == refereeID {
			return true, nil
		}
		if visited[current] {
			return false, nil
		}
		visited[current] = true

		m, err := members.GetMember(ctx, current)
		if errors.Is(err, member.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("walk referral chain at %s: %w", current, err)
		}
		current = m.ReferrerID()
	}
	return false, nil
}
