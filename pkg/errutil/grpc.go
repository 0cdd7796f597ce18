package errutil

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var grpcCodes = map[CoreStatus]codes.Code{
	StatusBadRequest:           codes.InvalidArgument,
	StatusValidationFailed:     codes.InvalidArgument,
	StatusUnsupportedMediaType: codes.InvalidArgument,
	StatusUnauthorized:         codes.Unauthenticated,
	StatusForbidden:            codes.PermissionDenied,
	StatusNotFound:             codes.NotFound,
	StatusConflict:             codes.AlreadyExists,
	StatusUnprocessableEntity:  codes.FailedPrecondition,
	StatusTooManyRequests:      codes.ResourceExhausted,
	StatusClientClosedRequest:  codes.Canceled,
	StatusTimeout:              codes.DeadlineExceeded,
	StatusGatewayTimeout:       codes.DeadlineExceeded,
	StatusNotImplemented:       codes.Unimplemented,
	StatusBadGateway:           codes.Unavailable,
	StatusServiceUnavailable:   codes.Unavailable,
	StatusInternal:             codes.Internal,
}

// statuses is the reverse of grpcCodes for codes with more than one source;
// the first, most specific status wins.
var statuses = map[codes.Code]CoreStatus{
	codes.InvalidArgument:    StatusBadRequest,
	codes.Unauthenticated:    StatusUnauthorized,
	codes.PermissionDenied:   StatusForbidden,
	codes.NotFound:           StatusNotFound,
	codes.AlreadyExists:      StatusConflict,
	codes.Aborted:            StatusConflict,
	codes.FailedPrecondition: StatusUnprocessableEntity,
	codes.ResourceExhausted:  StatusTooManyRequests,
	codes.Canceled:           StatusClientClosedRequest,
	codes.DeadlineExceeded:   StatusTimeout,
	codes.Unimplemented:      StatusNotImplemented,
	codes.Unavailable:        StatusServiceUnavailable,
	codes.Internal:           StatusInternal,
}

// GRPCCode converts the CoreStatus to its closest gRPC status code equivalent.
func (s CoreStatus) GRPCCode() codes.Code {
	if c, ok := grpcCodes[s]; ok {
		return c
	}
	return codes.Unknown
}

// ToGRPCError turns a domain error into a gRPC status. Validation details ride
// along as a BadRequest detail so clients can rebuild them.
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	var base BaseError
	if errors.As(err, &base) {
		st := status.New(base.Code.GRPCCode(), base.messageWithErr())
		if len(base.Details) == 0 {
			return st.Err()
		}

		br := &errdetails.BadRequest{}
		for _, d := range base.Details {
			br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{
				Field:       d.Field,
				Description: d.Message,
			})
		}
		if withDetails, derr := st.WithDetails(br); derr == nil {
			return withDetails.Err()
		}
		return st.Err()
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return status.Error(coder.Status().GRPCCode(), err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}

// FromGRPCError is the client-side inverse of ToGRPCError. Errors that are not
// gRPC statuses are returned unchanged.
func FromGRPCError(err error) error {
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	code, ok := statuses[st.Code()]
	if !ok {
		code = StatusUnknown
	}

	be := BaseError{Code: code, Message: st.Message()}
	for _, d := range st.Details() {
		br, ok := d.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, v := range br.GetFieldViolations() {
			be.Details = append(be.Details, Detail{Field: v.GetField(), Message: v.GetDescription()})
		}
	}
	if len(be.Details) > 0 && code == StatusBadRequest {
		be.Code = StatusValidationFailed
	}
	return be
}
