package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/paywall/internal/common"
	"github.com/dmitrijs2005/paywall/internal/server/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors onto gRPC codes. Unexpected errors are logged
// and hidden behind a generic message.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var ife *common.InsufficientFundsError
	var ate *common.AlreadyTerminalError

	switch {
	case errors.As(err, &ife):
		return status.Error(codes.FailedPrecondition, ife.Error())
	case errors.As(err, &ate):
		return status.Error(codes.Aborted, ate.Error())
	case errors.Is(err, common.ErrInvalidToken):
		return status.Error(codes.PermissionDenied, "invalid token")
	case errors.Is(err, common.ErrAccountBanned):
		return status.Error(codes.PermissionDenied, "account banned")
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrDuplicateKey):
		return status.Error(codes.AlreadyExists, "duplicate key")
	case errors.Is(err, common.ErrInvalidAmount), errors.Is(err, common.ErrInvalidEvidence),
		errors.Is(err, models.ErrMetadataMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrStoreUnavailable):
		s.logger.Warn(ctx, "store unavailable", "error", err)
		return status.Error(codes.Unavailable, "store unavailable, retry later")
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, common.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	s.logger.Error(ctx, err.Error())
	return status.Error(codes.Internal, "internal error")
}
