package helper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/reaper/internal/capability"
	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
	"github.com/ppiankov/reaper/internal/proc"
)

// Config holds helper server configuration.
type Config struct {
	Catalog  *capability.Catalog
	Direct   *executor.Direct
	Resolver *proc.Resolver
	Version  string
	Log      *zap.Logger
}

// Server performs elevated actions requested over the socket. It trusts
// only capability ids: paths and arguments always come from its own
// catalog, never from the request.
type Server struct {
	cfg        Config
	log        *otelzap.Logger
	grpcServer *grpc.Server
}

// New creates a helper server.
func New(cfg Config) (*Server, error) {
	if cfg.Catalog == nil || cfg.Direct == nil || cfg.Resolver == nil {
		return nil, fmt.Errorf("helper: catalog, direct and resolver are required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	s := &Server{cfg: cfg, log: otelzap.New(cfg.Log.Named("helper"))}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s, nil
}

// Listen opens a unix socket at path readable only by owner, replacing a
// stale one. owner < 0 leaves ownership alone.
func Listen(path string, owner int) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("helper: create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("helper: remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("helper: listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("helper: chmod socket: %w", err)
	}
	if owner >= 0 {
		if err := os.Chown(path, owner, -1); err != nil {
			lis.Close()
			return nil, fmt.Errorf("helper: chown socket: %w", err)
		}
	}
	return lis, nil
}

// ServeOn serves on lis until stopped.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Ping reports the helper version and the uid it runs as.
func (s *Server) Ping(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"version": s.cfg.Version,
		"uid":     float64(os.Getuid()),
	})
}

// Escalate performs one catalog action.
func (s *Server) Escalate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a, err := structToAction(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	capb, ok := s.cfg.Catalog.Lookup(a.CapabilityID)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown capability %q", a.CapabilityID)
	}

	var output []byte
	switch op := capb.Operation.(type) {
	case capability.KillSignal:
		err = s.kill(ctx, a, op)
	case capability.MaintenanceCommand:
		output, err = s.cfg.Direct.Command(ctx, op)
	default:
		return nil, status.Errorf(codes.FailedPrecondition, "%s cannot run elevated", capb.ID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"output": string(output)})
}

func (s *Server) kill(ctx context.Context, a executor.Action, op capability.KillSignal) error {
	t, err := s.cfg.Resolver.Resolve(ctx, a.PID)
	if errors.Is(err, proc.ErrNotFound) {
		return model.AlreadyGone(&model.TerminationTarget{PID: a.PID})
	}
	if err != nil {
		return err
	}
	if a.CreateTime != 0 && t.CreateTime != a.CreateTime {
		return model.AlreadyGone(t)
	}
	if t.IsProtected {
		return model.ProtectedTarget(t)
	}
	return s.cfg.Direct.Signal(ctx, t, op.Signal)
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start))}
	if in, ok := req.(*structpb.Struct); ok {
		if a, perr := structToAction(in); perr == nil {
			fields = append(fields, zap.String("capability", a.CapabilityID), zap.Int32("pid", a.PID))
		}
	}
	if err != nil {
		s.log.Ctx(ctx).Warn("helper call failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Ctx(ctx).Info("helper call", fields...)
	}
	return resp, err
}

// toStatus maps the error taxonomy onto gRPC codes; fromStatus reverses it.
func toStatus(err error) error {
	msg := model.UserMessage(err)
	switch model.KindOf(err) {
	case model.KindAlreadyGone:
		return status.Error(codes.NotFound, msg)
	case model.KindProtectedTarget:
		return status.Error(codes.PermissionDenied, msg)
	case model.KindUnknownCapability:
		return status.Error(codes.InvalidArgument, msg)
	case model.KindCancelled:
		return status.Error(codes.Canceled, msg)
	case model.KindTimeout:
		return status.Error(codes.DeadlineExceeded, msg)
	}
	return status.Error(codes.Internal, msg)
}
