package grpcapi

import (
	"context"

	"partyapp-referral-engine/internal/backfill"
	"partyapp-referral-engine/internal/engine"
	"partyapp-referral-engine/internal/ranking"
	"partyapp-referral-engine/internal/referral"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "referral.v1.ReferralEngine"

// Method names.
const (
	MethodProcessReferral          = "ProcessReferral"
	MethodCheckCycle               = "CheckCycle"
	MethodGetScore                 = "GetScore"
	MethodComputeDistrictRankings  = "ComputeDistrictRankings"
	MethodComputeAllRankings       = "ComputeAllRankings"
	MethodBackfill                 = "Backfill"
	MethodGetDistrictLeaderboard   = "GetDistrictLeaderboard"
	MethodGetNationalLeaderboard   = "GetNationalLeaderboard"
	MethodGetRecommendedCandidates = "GetRecommendedCandidates"
)

// FullMethod returns the wire path of method.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// EngineServer is the server side of referral.v1.ReferralEngine.
type EngineServer interface {
	ProcessReferral(context.Context, *ReferralRequest) (*referral.Result, error)
	CheckCycle(context.Context, *ReferralRequest) (*CheckCycleResponse, error)
	GetScore(context.Context, *GetScoreRequest) (*referral.Breakdown, error)
	ComputeDistrictRankings(context.Context, *ComputeDistrictRequest) (*ranking.Summary, error)
	ComputeAllRankings(context.Context, *ComputeAllRequest) (*ranking.BatchSummary, error)
	Backfill(context.Context, *BackfillRequest) (*backfill.Report, error)
	GetDistrictLeaderboard(context.Context, *DistrictLeaderboardRequest) (*DistrictLeaderboardResponse, error)
	GetNationalLeaderboard(context.Context, *NationalLeaderboardRequest) (*NationalLeaderboardResponse, error)
	GetRecommendedCandidates(context.Context, *CandidatesRequest) (*CandidatesResponse, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodProcessReferral, EngineServer.ProcessReferral),
		unary(MethodCheckCycle, EngineServer.CheckCycle),
		unary(MethodGetScore, EngineServer.GetScore),
		unary(MethodComputeDistrictRankings, EngineServer.ComputeDistrictRankings),
		unary(MethodComputeAllRankings, EngineServer.ComputeAllRankings),
		unary(MethodBackfill, EngineServer.Backfill),
		unary(MethodGetDistrictLeaderboard, EngineServer.GetDistrictLeaderboard),
		unary(MethodGetNationalLeaderboard, EngineServer.GetNationalLeaderboard),
		unary(MethodGetRecommendedCandidates, EngineServer.GetRecommendedCandidates),
	},
	Streams: []grpc.StreamDesc{},
}

func unary[Req, Resp any](method string, call func(EngineServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(EngineServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// Server adapts engine.API to EngineServer.
type Server struct {
	api engine.API
	log *zap.Logger
}

var _ EngineServer = (*Server)(nil)

func NewServer(api engine.API, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{api: api, log: log}
}

// NewGRPCServer builds a grpc.Server with recovery, logging and admin-auth
// interceptors and the engine service registered.
func NewGRPCServer(api engine.API, adminSecret string, log *zap.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(log),
			LoggingInterceptor(log),
			AdminAuthInterceptor(adminSecret, log),
		),
	}, opts...)
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, NewServer(api, log))
	return srv
}

func (s *Server) ProcessReferral(ctx context.Context, req *ReferralRequest) (*referral.Result, error) {
	res, err := s.api.ProcessReferral(ctx, req.ReferrerID, req.RefereeID)
	if err != nil {
		if res != nil {
			s.log.Warn("⚠️ Referral partially processed",
				zap.String("referee_id", req.RefereeID), zap.Int("ledger_rows", len(res.Ledger)), zap.Error(err))
		}
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *Server) CheckCycle(ctx context.Context, req *ReferralRequest) (*CheckCycleResponse, error) {
	circular, err := s.api.CheckCycle(ctx, req.ReferrerID, req.RefereeID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CheckCycleResponse{Circular: circular}, nil
}

func (s *Server) GetScore(ctx context.Context, req *GetScoreRequest) (*referral.Breakdown, error) {
	b, err := s.api.GetScore(ctx, req.MemberID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &b, nil
}

func (s *Server) ComputeDistrictRankings(ctx context.Context, req *ComputeDistrictRequest) (*ranking.Summary, error) {
	sum, err := s.api.ComputeDistrictRankings(ctx, req.DistrictID, req.Period)
	if err != nil {
		return nil, toStatus(err)
	}
	return sum, nil
}

func (s *Server) ComputeAllRankings(ctx context.Context, req *ComputeAllRequest) (*ranking.BatchSummary, error) {
	batch, err := s.api.ComputeAllDistricts(ctx, req.Period)
	if err != nil {
		return nil, toStatus(err)
	}
	return batch, nil
}

func (s *Server) Backfill(ctx context.Context, _ *BackfillRequest) (*backfill.Report, error) {
	by, _ := AdminSubject(ctx)
	s.log.Info("🔁 Backfill requested", zap.String("by", by))
	rep, err := s.api.Backfill(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return rep, nil
}

func (s *Server) GetDistrictLeaderboard(ctx context.Context, req *DistrictLeaderboardRequest) (*DistrictLeaderboardResponse, error) {
	rows, err := s.api.DistrictLeaderboard(ctx, req.DistrictID, req.Limit, req.Period)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DistrictLeaderboardResponse{Rankings: rows}, nil
}

func (s *Server) GetNationalLeaderboard(ctx context.Context, req *NationalLeaderboardRequest) (*NationalLeaderboardResponse, error) {
	rows, err := s.api.NationalLeaderboard(ctx, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &NationalLeaderboardResponse{Members: rows}, nil
}

func (s *Server) GetRecommendedCandidates(ctx context.Context, req *CandidatesRequest) (*CandidatesResponse, error) {
	rows, err := s.api.Candidates(ctx, req.ProvinceID, req.Period)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CandidatesResponse{Candidates: rows}, nil
}

func toStatus(err error) error {
	switch engine.Classify(err) {
	case engine.KindInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	case engine.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case engine.KindConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case engine.KindUnavailable:
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
