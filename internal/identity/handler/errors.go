package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"phone-auth/backend/internal/autherr"
	"phone-auth/backend/internal/logger"
)

// Trailer keys carrying the safe fields of an auth error.
const (
	TrailerErrorKind         = "error-kind"
	TrailerRetryAfter        = "retry-after"
	TrailerLockedUntil       = "locked-until"
	TrailerRemainingAttempts = "remaining-attempts"
	TrailerReason            = "reason"
)

func codeFor(k autherr.Kind) codes.Code {
	switch k {
	case autherr.KindRateLimited:
		return codes.ResourceExhausted
	case autherr.KindAccountLocked, autherr.KindUnauthorized:
		return codes.PermissionDenied
	case autherr.KindOtpInvalid, autherr.KindTokenMalformed, autherr.KindInvalidArgument:
		return codes.InvalidArgument
	case autherr.KindTokenExpired, autherr.KindTokenInvalid, autherr.KindSessionNotFound, autherr.KindSessionRevoked:
		return codes.Unauthenticated
	case autherr.KindOtpDeliveryFailed:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts a service error into a gRPC status and attaches its safe fields as trailers.
// Causes are logged, never sent.
func toStatus(ctx context.Context, fallback *zap.Logger, err error) error {
	var e *autherr.Error
	if !errors.As(err, &e) {
		e = autherr.Internal(err)
	}
	if e.Kind == autherr.KindInternal || e.Kind == autherr.KindOtpDeliveryFailed {
		logger.From(ctx, fallback).Error("auth rpc failed", zap.String("kind", string(e.Kind)), zap.Error(errors.Unwrap(e)))
	}

	md := metadata.Pairs(TrailerErrorKind, string(e.Kind))
	switch e.Kind {
	case autherr.KindRateLimited:
		md.Set(TrailerRetryAfter, strconv.FormatInt(autherr.RetryAfterSeconds(e.RetryAfter), 10))
	case autherr.KindAccountLocked:
		md.Set(TrailerLockedUntil, e.LockedUntil.UTC().Format(time.RFC3339))
	case autherr.KindOtpInvalid:
		if e.RemainingAttempts >= 0 {
			md.Set(TrailerRemainingAttempts, strconv.Itoa(e.RemainingAttempts))
		}
	case autherr.KindSessionRevoked, autherr.KindSessionNotFound:
		if e.Reason != "" {
			md.Set(TrailerReason, e.Reason)
		}
	}
	_ = grpc.SetTrailer(ctx, md)
	return status.Error(codeFor(e.Kind), e.Error())
}
