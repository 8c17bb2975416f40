package driver

import (
	"context"

	commonpb "go.viam.com/api/common/v1"
	genericpb "go.viam.com/api/component/generic/v1"
	"go.viam.com/utils/protoutils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// server implements the generic gRPC service over a driver Service.
type server struct {
	genericpb.UnimplementedGenericServiceServer
	svc *Service
}

// NewServer constructs a generic gRPC service server dispatching DoCommand to svc.
func NewServer(svc *Service) genericpb.GenericServiceServer {
	return &server{svc: svc}
}

// Register adds the generic service for svc to s.
func Register(s *grpc.Server, svc *Service) {
	genericpb.RegisterGenericServiceServer(s, NewServer(svc))
}

// DoCommand runs the command named by the "command" key of the request and returns its value
// under the "result" key.
func (s *server) DoCommand(ctx context.Context, req *commonpb.DoCommandRequest) (*commonpb.DoCommandResponse, error) {
	if req.Name != "" && req.Name != s.svc.Name() {
		return nil, status.Errorf(codes.NotFound, "this is %s, not %s", s.svc.Name(), req.Name)
	}
	args := req.Command.AsMap()
	name, _ := args[CommandKey].(string)
	if name == "" {
		return nil, status.Errorf(codes.InvalidArgument, "missing %q key", CommandKey)
	}
	delete(args, CommandKey)

	value, err := s.svc.Execute(ctx, name, args)
	if err != nil {
		return nil, ToStatus(err)
	}
	res, err := protoutils.StructToStructPb(map[string]interface{}{ResultKey: value})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result of %s: %v", name, err)
	}
	return &commonpb.DoCommandResponse{Result: res}, nil
}
