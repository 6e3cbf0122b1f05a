package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"riskcrash/internal/config"
	"riskcrash/internal/game"
	"riskcrash/internal/ledger"
)

// startRedis runs a throwaway Redis, or skips when Docker is unavailable.
func startRedis(t *testing.T) Service {
	t.Helper()
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("integration tests disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	svc, err := New(config.RedisConfig{Addr: endpoint})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

type fixedSource struct {
	view *game.RoundView
}

func (f fixedSource) CurrentRound() *game.RoundView { return f.view }

func TestNew_NoRedis(t *testing.T) {
	svc, err := New(config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
	assert.Nil(t, svc)
}

func TestService_Interface(t *testing.T) {
	var _ Service = (*service)(nil)
	var _ game.Notifier = (*SnapshotPublisher)(nil)
}

func TestSnapshotPublisher_DropsWhenFull(t *testing.T) {
	p := NewSnapshotPublisher(nil, nil)
	for i := 0; i < SNAPSHOT_BUFFER; i++ {
		p.Publish(game.Event{Type: game.EventUpdate})
	}

	done := make(chan struct{})
	go func() {
		p.Publish(game.Event{Type: game.EventUpdate})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish() blocked on a full queue")
	}
}

func TestService_JSONRoundTrip(t *testing.T) {
	svc := startRedis(t)
	ctx := context.Background()

	var out map[string]int
	ok, err := svc.GetJSON(ctx, "missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute))
	ok, err = svc.GetJSON(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, out["a"])

	assert.Equal(t, "up", svc.Health()["status"])
}

func TestSnapshotPublisher_MirrorsRound(t *testing.T) {
	svc := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := svc.GetClient().Subscribe(ctx, CHANNEL_EVENTS)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	view := &game.RoundView{RoundNumber: 3, Status: ledger.RoundBetting, Digest: "abc"}
	p := NewSnapshotPublisher(svc, fixedSource{view: view})
	go p.Run(ctx)

	p.Publish(game.Event{Type: game.EventRoundStart, RoundNumber: 3})

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"round_start"`)
	case <-time.After(5 * time.Second):
		t.Fatal("no event on the redis channel")
	}

	require.Eventually(t, func() bool {
		got, err := CachedRound(ctx, svc)
		return err == nil && got != nil && got.RoundNumber == 3
	}, 5*time.Second, 20*time.Millisecond)
}
