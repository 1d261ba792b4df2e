package referral

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidArgument is returned for empty or malformed ids.
	ErrInvalidArgument = errors.New("invalid referral argument")
	// ErrCircularReferral rejects an attribution that would close a loop in
	// the referral forest.
	ErrCircularReferral = errors.New("circular referral")
)

// Level is the generation distance between referrer and referee.
type Level int

const (
	LevelDirect Level = 1
	LevelSecond Level = 2
	LevelThird  Level = 3

	// MaxDepth caps every walk of the forest. Generations beyond it earn nothing.
	MaxDepth = 3
)

// Points returns the fixed point value of a ledger row at this level.
func (l Level) Points() int {
	switch l {
	case LevelDirect:
		return PointsDirect
	case LevelSecond:
		return PointsLevel2
	case LevelThird:
		return PointsLevel3
	}
	return 0
}

// Status is the verification state of a ledger row.
type Status string

const (
	StatusVerified Status = "VERIFIED"
	StatusPending  Status = "PENDING"
	StatusRejected Status = "REJECTED"
)

// Referral is one ledger row: an attributed edge at a specific generation.
// The ledger is an audit trail; live scores are always derived from the
// member graph.
type Referral struct {
	ID         string     `json:"id" yaml:"id"`
	ReferrerID string     `json:"referrer_id" yaml:"referrer_id"`
	RefereeID  string     `json:"referee_id" yaml:"referee_id"`
	Level      Level      `json:"level" yaml:"level"`
	Points     int        `json:"points" yaml:"points"`
	Status     Status     `json:"status" yaml:"status"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" yaml:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" yaml:"updated_at"`
}

// NewVerified builds the VERIFIED ledger row written for a registration.
func NewVerified(referrerID, refereeID string, level Level, now time.Time) *Referral {
	verifiedAt := now
	return &Referral{
		ID:         uuid.New().String(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Level:      level,
		Points:     level.Points(),
		Status:     StatusVerified,
		VerifiedAt: &verifiedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy.
func (r *Referral) Clone() *Referral {
	c := *r
	if r.VerifiedAt != nil {
		t := *r.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}
