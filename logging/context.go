package logging

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type requestIDKeyType int

const requestIDKeyID = requestIDKeyType(iota)

// WithRequestID returns a new context carrying a request ID for log correlation. An empty `id`
// generates a random one.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKeyID, id)
}

// GetRequestID returns the request ID attached to the context, or the empty string.
func GetRequestID(ctx context.Context) string {
	valI := ctx.Value(requestIDKeyID)
	if val, ok := valI.(string); ok {
		return val
	}

	return ""
}

const requestIDMetadataKey = "artie-request-id"

// UnaryClientInterceptor adds the request ID from the current context (if any) to the
// outgoing request's metadata.
func UnaryClientInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if id := GetRequestID(ctx); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, id)
	}

	return invoker(ctx, method, req, reply, cc, opts...)
}

// UnaryServerInterceptor attaches the request ID found in the incoming RPC metadata to the
// handler's context.
func UnaryServerInterceptor(
	ctx context.Context,
	req interface{},
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (interface{}, error) {
	meta, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return handler(ctx, req)
	}

	values := meta.Get(requestIDMetadataKey)
	if len(values) == 1 {
		ctx = WithRequestID(ctx, values[0])
	}

	return handler(ctx, req)
}
