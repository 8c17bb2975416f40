// Package grpc contains the gRPC plumbing shared by the driver services and their clients.
package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// DefaultMethodTimeout is the default context timeout for all inbound gRPC
// methods and all outbound gRPC methods, only used when no deadline is set on
// the context. It is longer than a firmware load.
var DefaultMethodTimeout = 5 * time.Minute

// EnsureTimeoutUnaryServerInterceptor sets a default timeout on the context if one is
// not already set. To be called as the first unary server interceptor.
func EnsureTimeoutUnaryServerInterceptor(ctx context.Context, req interface{},
	info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (interface{}, error) {
	if _, deadlineSet := ctx.Deadline(); !deadlineSet {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultMethodTimeout)
		defer cancel()
	}

	return handler(ctx, req)
}

// EnsureTimeoutUnaryClientInterceptor sets a default timeout on the context if one is
// not already set. To be called as the first unary client interceptor.
func EnsureTimeoutUnaryClientInterceptor(
	ctx context.Context,
	method string, req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if _, deadlineSet := ctx.Deadline(); !deadlineSet {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultMethodTimeout)
		defer cancel()
	}

	return invoker(ctx, method, req, reply, cc, opts...)
}

// The following code is for appending/extracting grpc metadata regarding the caller of a driver
// via contexts.
type callerKeyType int

const callerKeyID = callerKeyType(iota)

// GetCaller returns the name of the process (if any) the request came from, such as
// "artie-api-server".
func GetCaller(ctx context.Context) string {
	valI := ctx.Value(callerKeyID)
	if val, ok := valI.(string); ok {
		return val
	}

	return ""
}

const callerMetadataKey = "artie-caller"

// CallerInterceptors takes the name of the calling process and exposes an interceptor method that
// will attach it to outgoing gRPC requests.
type CallerInterceptors struct {
	Caller string
}

// UnaryClientInterceptor adds the caller name to any outgoing unary gRPC request.
func (ci *CallerInterceptors) UnaryClientInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	ctx = metadata.AppendToOutgoingContext(ctx, callerMetadataKey, ci.Caller)
	return invoker(ctx, method, req, reply, cc, opts...)
}

// CallerUnaryServerInterceptor checks the incoming RPC metadata for a caller name and attaches it
// to a context that can be retrieved with `GetCaller`.
func CallerUnaryServerInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	meta, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return handler(ctx, req)
	}

	values := meta.Get(callerMetadataKey)
	if len(values) == 1 {
		ctx = context.WithValue(ctx, callerKeyID, values[0])
	}

	return handler(ctx, req)
}
