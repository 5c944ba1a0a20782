package grpcapi

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cartridge/paddle/internal/checkpoint"
	"github.com/cartridge/paddle/internal/events"
	"github.com/cartridge/paddle/internal/service"
	"github.com/cartridge/paddle/internal/storage"
	"github.com/cartridge/paddle/internal/types"
)

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewSnapshots(storage.NewMemoryStore(100), events.NoopPublisher{}, nil, &logger)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(UnaryLogger(logger)))
	Register(gs, svc)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	client, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client.conn
}

func TestSnapshotsOverGRPC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := &Client{conn: startServer(t)}

	_, err := client.Latest(ctx)
	assert.ErrorIs(t, err, checkpoint.ErrNoSnapshot)

	for _, ep := range []string{"1", "2", "3"} {
		receipt, err := client.Append(ctx, types.AppendInput{
			Episode:  json.RawMessage(ep),
			Stats:    json.RawMessage(`{"score":5}`),
			Snapshot: json.RawMessage(`{"epsilon":0.9}`),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, receipt.ID)
		assert.NotEmpty(t, receipt.Timestamp)
	}

	latest, err := client.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, latest.Episode)
	assert.JSONEq(t, `{"epsilon":0.9}`, string(latest.Snapshot))

	page, err := client.Page(ctx, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 2.0, page[0].Episode)

	page, err = client.Page(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, page, 3)
}

func TestAppendValidationOverGRPC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := &Client{conn: startServer(t)}

	_, err := client.Append(ctx, types.AppendInput{
		Episode:  json.RawMessage(`"x"`),
		Stats:    json.RawMessage(`{}`),
		Snapshot: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)
	assert.Equal(t, "episode must be a number", err.Error())
}

func TestHealthService(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := startServer(t)

	resp, err := healthpb.NewHealthClient(conn).Check(ctx,
		&healthpb.HealthCheckRequest{Service: ServiceName},
		grpc.CallContentSubtype("proto"))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestJSONCodecHandlesProtoMessages(t *testing.T) {
	data, err := jsonCodec{}.Marshal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SERVING"}`, string(data))

	var out healthpb.HealthCheckResponse
	require.NoError(t, jsonCodec{}.Unmarshal(data, &out))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, out.GetStatus())
}
