// Package helper is the privileged side channel of the elevated tier: a
// small gRPC service, run as root under launchd, that performs catalog
// kill and maintenance operations for the unprivileged CLI.
package helper

import (
	"context"
	"fmt"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/reaper/internal/executor"
)

const (
	serviceName    = "reaper.helper.v1.Helper"
	methodEscalate = "/" + serviceName + "/Escalate"
	methodPing     = "/" + serviceName + "/Ping"
)

// DefaultSocket is where the LaunchDaemon listens.
const DefaultSocket = "/var/run/reaper-helper.sock"

// service is the handler set registered on the grpc.Server. Messages are
// structpb.Struct so no generated code is needed.
type service interface {
	Escalate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*service)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Escalate", Handler: unary(methodEscalate, service.Escalate)},
		{MethodName: "Ping", Handler: unary(methodPing, service.Ping)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reaper/helper/v1/helper.proto",
}

func unary(full string, call func(service, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(service), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(service), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// actionToStruct encodes a for the wire. Numbers travel as doubles; pids,
// signals and millisecond timestamps are all exact in a float64.
func actionToStruct(a executor.Action) (*structpb.Struct, error) {
	args := make([]any, len(a.Args))
	for i, s := range a.Args {
		args[i] = s
	}
	return structpb.NewStruct(map[string]any{
		"capability":  a.CapabilityID,
		"pid":         float64(a.PID),
		"create_time": float64(a.CreateTime),
		"signal":      float64(a.Signal),
		"path":        a.Path,
		"args":        args,
	})
}

func structToAction(s *structpb.Struct) (executor.Action, error) {
	f := s.GetFields()
	id := f["capability"].GetStringValue()
	if id == "" {
		return executor.Action{}, fmt.Errorf("helper: action has no capability")
	}
	a := executor.Action{
		CapabilityID: id,
		PID:          int32(f["pid"].GetNumberValue()),
		CreateTime:   int64(f["create_time"].GetNumberValue()),
		Signal:       syscall.Signal(int(f["signal"].GetNumberValue())),
		Path:         f["path"].GetStringValue(),
	}
	for _, v := range f["args"].GetListValue().GetValues() {
		a.Args = append(a.Args, v.GetStringValue())
	}
	return a, nil
}
