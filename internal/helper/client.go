package helper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	cerr "github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/reaper/internal/executor"
	"github.com/ppiankov/reaper/internal/model"
)

// DefaultTimeout bounds one helper call.
const DefaultTimeout = 10 * time.Second

// Client talks to the helper. It implements executor.Escalator; when the
// helper is not installed it reports model.ErrElevationUnavailable so the
// caller can fall back to the password prompt.
type Client struct {
	conn    *grpc.ClientConn
	socket  string
	timeout time.Duration
}

// Dial prepares a client for the helper socket. No connection is made
// until the first call.
func Dial(socket string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("helper: dial %s: %w", socket, err)
	}
	return &Client{conn: conn, socket: socket, timeout: DefaultTimeout}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, timeout: DefaultTimeout}
}

func (c *Client) Name() string { return "helper" }

// Installed reports whether the helper socket exists.
func (c *Client) Installed() bool {
	if c.socket == "" {
		return true
	}
	_, err := os.Stat(c.socket)
	return err == nil
}

// Escalate asks the helper to perform a.
func (c *Client) Escalate(ctx context.Context, a executor.Action) ([]byte, error) {
	if !c.Installed() {
		return nil, cerr.Wrapf(model.ErrElevationUnavailable, "no helper at %s", c.socket)
	}
	in, err := actionToStruct(a)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodEscalate, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return []byte(out.GetFields()["output"].GetStringValue()), nil
}

// PingResult is what the helper reports about itself.
type PingResult struct {
	Version string
	UID     int
}

// Ping checks the helper is up.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	if !c.Installed() {
		return PingResult{}, cerr.Wrapf(model.ErrElevationUnavailable, "no helper at %s", c.socket)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodPing, &structpb.Struct{}, out); err != nil {
		return PingResult{}, fromStatus(err)
	}
	f := out.GetFields()
	return PingResult{Version: f["version"].GetStringValue(), UID: int(f["uid"].GetNumberValue())}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = model.ErrAlreadyGone
	case codes.PermissionDenied:
		sentinel = model.ErrProtectedTarget
	case codes.InvalidArgument:
		sentinel = model.ErrUnknownCapability
	case codes.FailedPrecondition:
		sentinel = executor.ErrNotElevatable
	case codes.Unavailable:
		sentinel = model.ErrElevationUnavailable
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = model.ErrTimeout
	default:
		sentinel = model.ErrExecFailed
	}
	if errors.Is(sentinel, context.Canceled) {
		return cerr.Wrap(sentinel, msg)
	}
	return cerr.WithHint(cerr.Wrap(sentinel, msg), msg)
}
