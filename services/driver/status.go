package driver

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/artie-robot/artie/boardconfig"
	"github.com/artie-robot/artie/reset"
	"github.com/artie-robot/artie/submodule"
	"github.com/artie-robot/artie/swd"
)

var invalidArgumentErrors = []error{
	ErrInvalidArgument,
	ErrUnknownCommand,
	submodule.ErrInvalidDrawing,
	submodule.ErrInvalidLedState,
	submodule.ErrTalkUnsupported,
	reset.ErrInvalidMcuID,
	boardconfig.ErrSymbolNotFound,
}

var failedPreconditionErrors = []error{
	ErrNotStarted,
	swd.ErrFileNotFound,
}

// Code returns the gRPC code a command error is reported with.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case isAny(err, invalidArgumentErrors):
		return codes.InvalidArgument
	case isAny(err, failedPreconditionErrors):
		return codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// ToStatus converts a command error into a gRPC status error carrying its message.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(Code(err), err.Error())
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
