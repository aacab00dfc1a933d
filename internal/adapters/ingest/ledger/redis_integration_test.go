//go:build integration_redis

package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/platform/store"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisLedger_Integration(t *testing.T) {
	addr := startRedis(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(ctx, store.Config{RDS: store.RedisConfig{Enabled: true, Addr: addr}})
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	if err := st.Guard(ctx); err != nil {
		t.Fatalf("guard: %v", err)
	}

	l := NewRedis(st.Redis, RedisConfig{Prefix: "it:", TTL: time.Hour})

	fin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := hourStats(0, 9, fin)
	if done, err := l.Done(ctx, a.ID); err != nil || done {
		t.Fatalf("Done before mark = %v, %v", done, err)
	}
	if err := l.MarkDone(ctx, a); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if done, err := l.Done(ctx, a.ID); err != nil || !done {
		t.Fatalf("Done after mark = %v, %v", done, err)
	}

	ttl, err := st.Redis.TTL(ctx, "it:archive:"+a.ID.String()).Result()
	if err != nil || ttl <= 0 || ttl > time.Hour {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}

	got, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0] != a {
		t.Fatalf("List = %+v want %+v", got, a)
	}

	var _ gha.Ledger = l
}
