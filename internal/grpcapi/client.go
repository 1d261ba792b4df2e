package grpcapi

import (
	"context"

	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/engine"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls a remote engine. It satisfies engine.API, so the CLI can drive
// either a local engine or a running server.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

var _ engine.API = (*Client)(nil)

// NewClient wraps cc. A non-empty token is sent as a bearer token on every
// call.
func NewClient(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	return c.cc.Invoke(ctx, FullMethod(method), in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) ProcessReferral(ctx context.Context, referrerID, refereeID string) (*referral.Result, error) {
	out := new(referral.Result)
	if err := c.invoke(ctx, MethodProcessReferral, &ReferralRequest{ReferrerID: referrerID, RefereeID: refereeID}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CheckCycle(ctx context.Context, referrerID, refereeID string) (bool, error) {
	out := new(CheckCycleResponse)
	if err := c.invoke(ctx, MethodCheckCycle, &ReferralRequest{ReferrerID: referrerID, RefereeID: refereeID}, out); err != nil {
		return false, err
	}
	return out.Circular, nil
}

func (c *Client) GetScore(ctx context.Context, memberID string) (referral.Breakdown, error) {
	var out referral.Breakdown
	err := c.invoke(ctx, MethodGetScore, &GetScoreRequest{MemberID: memberID}, &out)
	return out, err
}

func (c *Client) ComputeDistrictRankings(ctx context.Context, districtID, period string) (*ranking.Summary, error) {
	out := new(ranking.Summary)
	if err := c.invoke(ctx, MethodComputeDistrictRankings, &ComputeDistrictRequest{DistrictID: districtID, Period: period}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ComputeAllDistricts(ctx context.Context, period string) (*ranking.BatchSummary, error) {
	out := new(ranking.BatchSummary)
	if err := c.invoke(ctx, MethodComputeAllRankings, &ComputeAllRequest{Period: period}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Backfill(ctx context.Context) (*backfill.Report, error) {
	out := new(backfill.Report)
	if err := c.invoke(ctx, MethodBackfill, &BackfillRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DistrictLeaderboard(ctx context.Context, districtID string, limit int, period string) ([]*ranking.Ranking, error) {
	out := new(DistrictLeaderboardResponse)
	req := &DistrictLeaderboardRequest{DistrictID: districtID, Limit: limit, Period: period}
	if err := c.invoke(ctx, MethodGetDistrictLeaderboard, req, out); err != nil {
		return nil, err
	}
	return out.Rankings, nil
}

func (c *Client) NationalLeaderboard(ctx context.Context, limit int) ([]*ranking.NationalEntry, error) {
	out := new(NationalLeaderboardResponse)
	if err := c.invoke(ctx, MethodGetNationalLeaderboard, &NationalLeaderboardRequest{Limit: limit}, out); err != nil {
		return nil, err
	}
	return out.Members, nil
}

func (c *Client) Candidates(ctx context.Context, provinceID, period string) ([]*ranking.Ranking, error) {
	out := new(CandidatesResponse)
	if err := c.invoke(ctx, MethodGetRecommendedCandidates, &CandidatesRequest{ProvinceID: provinceID, Period: period}, out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}
