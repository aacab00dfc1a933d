//go:build integration_pg

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

func startPostgres(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "gharchive",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/gharchive?sslmode=disable", host, port.Port())
}

func TestPGLedger_Integration(t *testing.T) {
	dsn := startPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		AppName: "gharchive-ledger-it",
		PG:      store.PGConfig{Enabled: true, URL: dsn, MaxConns: 2, ConnectRetries: 10},
	})
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	l := NewPG(st.PG)
	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema is not idempotent: %v", err)
	}

	fin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := hourStats(15, 11351, fin)
	b := gha.ArchiveStats{ID: gha.LocatorID("s3://bucket/dump.json.gz"), Events: 7, FinishedAt: fin.Add(time.Minute)}

	if done, err := l.Done(ctx, a.ID); err != nil || done {
		t.Fatalf("Done before mark = %v, %v", done, err)
	}
	for _, s := range []gha.ArchiveStats{a, b} {
		if err := l.MarkDone(ctx, s); err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
	}
	a.Events = 11352
	if err := l.MarkDone(ctx, a); err != nil {
		t.Fatalf("MarkDone upsert: %v", err)
	}
	if done, err := l.Done(ctx, a.ID); err != nil || !done {
		t.Fatalf("Done after mark = %v, %v", done, err)
	}

	got, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[0].Events != 11352 || got[1].ID != b.ID {
		t.Fatalf("List = %+v", got)
	}
	if !got[0].FinishedAt.Equal(fin) || got[0].Elapsed != a.Elapsed {
		t.Fatalf("stats not preserved: %+v", got[0])
	}
}
