package grpcapi

import "partyapp-referral-engine/internal/ranking"

type ReferralRequest struct {
	ReferrerID string `json:"referrer_id"`
	RefereeID  string `json:"referee_id"`
}

type CheckCycleResponse struct {
	Circular bool `json:"circular"`
}

type GetScoreRequest struct {
	MemberID string `json:"member_id"`
}

type ComputeDistrictRequest struct {
	DistrictID string `json:"district_id"`
	Period     string `json:"period,omitempty"`
}

type ComputeAllRequest struct {
	Period string `json:"period,omitempty"`
}

type BackfillRequest struct{}

type DistrictLeaderboardRequest struct {
	DistrictID string `json:"district_id"`
	Limit      int    `json:"limit,omitempty"`
	Period     string `json:"period,omitempty"`
}

type DistrictLeaderboardResponse struct {
	Rankings []*ranking.Ranking `json:"rankings"`
}

type NationalLeaderboardRequest struct {
	Limit int `json:"limit,omitempty"`
}

type NationalLeaderboardResponse struct {
	Members []*ranking.NationalEntry `json:"members"`
}

type CandidatesRequest struct {
	ProvinceID string `json:"province_id,omitempty"`
	Period     string `json:"period,omitempty"`
}

type CandidatesResponse struct {
	Candidates []*ranking.Ranking `json:"candidates"`
}
