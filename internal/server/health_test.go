package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthService_FollowsLifecycle(t *testing.T) {
	logger := zaptest.NewLogger(t)
	hs, err := NewHealthService("127.0.0.1:0", logger)
	require.NoError(t, err)

	lc := NewLifecycle(logger)
	lc.Add("health", hs)
	lc.AddReadiness(hs)

	conn, err := grpc.NewClient(hs.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	go func() { _ = hs.Start() }()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, ""))
	hs.Stop()

	hs, err = NewHealthService("127.0.0.1:0", logger)
	require.NoError(t, err)
	lc = NewLifecycle(logger)
	lc.Add("health", hs)
	lc.AddReadiness(hs)
	conn2, err := grpc.NewClient(hs.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn2.Close()
	client = healthpb.NewHealthClient(conn2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()

	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: SimulationService})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
}

type readinessRecorder struct{ states []bool }

func (r *readinessRecorder) SetServing(serving bool) { r.states = append(r.states, serving) }

func TestLifecycle_ReadinessTransitions(t *testing.T) {
	lc := NewLifecycle(zaptest.NewLogger(t))
	rec := &readinessRecorder{}
	lc.AddReadiness(rec)
	lc.Add("noop", &mockService{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []bool{true, false}, rec.states)
}
