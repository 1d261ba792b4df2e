package ranking

import (
	"errors"
	"fmt"
	"time"
)

// PeriodLayout is the Go layout of a ranking period key ("YYYY-MM").
const PeriodLayout = "2006-01"

var (
	ErrInvalidPeriod   = errors.New("invalid ranking period")
	ErrInvalidDistrict = errors.New("district id is required")
)

// Ranking is one row of a period-scoped district leaderboard snapshot.
type Ranking struct {
	ID          string    `db:"id" json:"id" yaml:"id"`
	MemberID    string    `db:"member_id" json:"member_id" yaml:"member_id"`
	MemberName  string    `db:"-" json:"member_name,omitempty" yaml:"member_name,omitempty"`
	DistrictID  string    `db:"district_id" json:"district_id" yaml:"district_id"`
	ProvinceID  string    `db:"province_id" json:"province_id" yaml:"province_id"`
	Period      string    `db:"period_key" json:"period" yaml:"period"`
	Score       int       `db:"score" json:"score" yaml:"score"`
	Rank        int       `db:"rank_position" json:"rank" yaml:"rank"`
	IsCandidate bool      `db:"is_candidate" json:"is_candidate" yaml:"is_candidate"`
	ComputedAt  time.Time `db:"computed_at" json:"computed_at" yaml:"computed_at"`
}

// NationalEntry is one row of the national leaderboard, which ranks ACTIVE
// members by their cached score on the fly.
type NationalEntry struct {
	Position   int    `json:"position" yaml:"position"`
	MemberID   string `json:"member_id" yaml:"member_id"`
	FullName   string `json:"full_name" yaml:"full_name"`
	DistrictID string `json:"district_id" yaml:"district_id"`
	ProvinceID string `json:"province_id" yaml:"province_id"`
	Score      int    `json:"score" yaml:"score"`
}

// CurrentPeriod returns the period key of the month containing now.
func CurrentPeriod(now time.Time) string {
	return now.Format(PeriodLayout)
}

// ResolvePeriod returns period unchanged when it is a well-formed key, or the
// current period when it is empty.
func ResolvePeriod(period string, now time.Time) (string, error) {
	if period == "" {
		return CurrentPeriod(now), nil
	}
	t, err := time.Parse(PeriodLayout, period)
	if err != nil || t.Format(PeriodLayout) != period {
		return "", fmt.Errorf("%w: %q (want YYYY-MM)", ErrInvalidPeriod, period)
	}
	return period, nil
}
