package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/cartridge/paddle/internal/checkpoint"
	"github.com/cartridge/paddle/internal/types"
)

// Client calls the Snapshots service. It satisfies checkpoint.Remote.
type Client struct {
	conn *grpc.ClientConn
}

var _ checkpoint.Remote = (*Client)(nil)

// Dial creates a client for target. Extra options are appended after the
// defaults (plaintext transport, JSON content subtype).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Append stores one record.
func (c *Client) Append(ctx context.Context, in types.AppendInput) (types.AppendReceipt, error) {
	var out types.AppendReceipt
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Append", &in, &out); err != nil {
		return types.AppendReceipt{}, fromStatus(err)
	}
	return out, nil
}

// Latest returns the newest record or checkpoint.ErrNoSnapshot.
func (c *Client) Latest(ctx context.Context) (types.SnapshotRecord, error) {
	var out types.SnapshotRecord
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Latest", &LatestRequest{}, &out); err != nil {
		return types.SnapshotRecord{}, fromStatus(err)
	}
	return out, nil
}

// Page returns the newest limit summaries, oldest first.
func (c *Client) Page(ctx context.Context, limit int) ([]types.SnapshotSummary, error) {
	var out PageResponse
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Page", &PageRequest{Limit: limit}, &out); err != nil {
		return nil, fromStatus(err)
	}
	return out.Records, nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return checkpoint.ErrNoSnapshot
	case codes.InvalidArgument:
		return &types.ValidationError{Message: st.Message()}
	default:
		return fmt.Errorf("snapshots rpc: %w", err)
	}
}
