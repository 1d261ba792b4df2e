package member

import (
	"errors"
	"time"
)

// ErrNotFound is returned by directory lookups for an unknown member id.
var ErrNotFound = errors.New("member not found")

// Status is the registration-workflow lifecycle state of a member.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusPending   Status = "PENDING"
	StatusSuspended Status = "SUSPENDED"
	StatusInactive  Status = "INACTIVE"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended, StatusInactive:
		return true
	}
	return false
}

// Member is one record of the member directory. The engine reads the graph
// columns and only ever writes Score and Rank.
type Member struct {
	ID           string     `db:"id" json:"id" yaml:"id"`
	FullName     string     `db:"full_name" json:"full_name" yaml:"full_name"`
	ReferredByID *string    `db:"referred_by_id" json:"referred_by_id,omitempty" yaml:"referred_by_id,omitempty"`
	Status       Status     `db:"status" json:"status" yaml:"status"`
	Score        int        `db:"score" json:"score" yaml:"score"`
	Rank         *int       `db:"rank_position" json:"rank,omitempty" yaml:"rank,omitempty"`
	DistrictID   string     `db:"district_id" json:"district_id" yaml:"district_id"`
	ProvinceID   string     `db:"province_id" json:"province_id" yaml:"province_id"`
	LastActiveAt *time.Time `db:"last_active_at" json:"last_active_at,omitempty" yaml:"last_active_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at" yaml:"created_at"`
}

// IsActive reports whether the member counts toward referral scores.
func (m *Member) IsActive() bool {
	return m.Status == StatusActive
}

// ReferrerID returns the direct referrer id or "" for a root member.
func (m *Member) ReferrerID() string {
	if m.ReferredByID == nil {
		return ""
	}
	return *m.ReferredByID
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (m *Member) Clone() *Member {
	c := *m
	if m.ReferredByID != nil {
		ref := *m.ReferredByID
		c.ReferredByID = &ref
	}
	if m.Rank != nil {
		rank := *m.Rank
		c.Rank = &rank
	}
	if m.LastActiveAt != nil {
		t := *m.LastActiveAt
		c.LastActiveAt = &t
	}
	return &c
}

// SortKeyLess orders members by registration time then id, the stable
// iteration order used everywhere a deterministic sequence is required.
func SortKeyLess(a, b *Member) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
