package grpcapi

import (
	"context"
	"errors"
	"time"

	"partyapp-referral-engine/internal/monitoring"
	"partyapp-referral-engine/internal/utils"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const adminSubjectKey contextKey = "adminSubject"

// adminMethods mutate rankings or the ledger in bulk.
var adminMethods = map[string]bool{
	FullMethod(MethodComputeDistrictRankings): true,
	FullMethod(MethodComputeAllRankings):      true,
	FullMethod(MethodBackfill):                true,
}

// AdminSubject returns the subject of the admin token that authorized ctx.
func AdminSubject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(adminSubjectKey).(string)
	return s, ok
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer utils.RecoverWithHandler(log, info.FullMethod, func(any) {
			resp, err = nil, status.Error(codes.Internal, "internal error")
		})
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs and counts every call by status code.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		monitoring.GrpcRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("took", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unknown {
			log.Error("❌ gRPC call failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("gRPC call", fields...)
		}
		return resp, err
	}
}

// AdminAuthInterceptor requires an admin bearer token in the authorization
// metadata of admin methods. An empty secret disables the check.
func AdminAuthInterceptor(secret string, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if secret == "" || !adminMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "authorization metadata is required")
		}
		token, ok := utils.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "authorization must be 'Bearer <token>'")
		}
		claims, err := utils.VerifyAdminToken(token, secret)
		if err != nil {
			log.Warn("⚠️ Admin token rejected", zap.String("method", info.FullMethod), zap.Error(err))
			if errors.Is(err, utils.ErrNotAdmin) {
				return nil, status.Error(codes.PermissionDenied, err.Error())
			}
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		log.Info("👑 Admin call authorized", zap.String("subject", claims.Subject), zap.String("method", info.FullMethod))
		return handler(context.WithValue(ctx, adminSubjectKey, claims.Subject), req)
	}
}
