package ledger

import (
	"context"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/platform/store"
)

const (
	schemaSQL = `
		CREATE TABLE IF NOT EXISTS gharchive_archives (
			archive_id    text        PRIMARY KEY,
			events        bigint      NOT NULL DEFAULT 0,
			decode_errors bigint      NOT NULL DEFAULT 0,
			bytes         bigint      NOT NULL DEFAULT 0,
			compressed    bigint      NOT NULL DEFAULT 0,
			elapsed_ms    bigint      NOT NULL DEFAULT 0,
			finished_at   timestamptz NOT NULL
		)`

	doneSQL = `SELECT EXISTS (SELECT 1 FROM gharchive_archives WHERE archive_id = $1)`

	// a re-consumed archive overwrites its previous stats
	markSQL = `
		INSERT INTO gharchive_archives
			(archive_id, events, decode_errors, bytes, compressed, elapsed_ms, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (archive_id) DO UPDATE SET
			events        = EXCLUDED.events,
			decode_errors = EXCLUDED.decode_errors,
			bytes         = EXCLUDED.bytes,
			compressed    = EXCLUDED.compressed,
			elapsed_ms    = EXCLUDED.elapsed_ms,
			finished_at   = EXCLUDED.finished_at`

	listSQL = `
		SELECT archive_id, events, decode_errors, bytes, compressed, elapsed_ms, finished_at
		FROM gharchive_archives
		ORDER BY finished_at, archive_id`
)

// PG keeps the ledger in the gharchive_archives table
type PG struct {
	db store.TxRunner
}

// NewPG binds a ledger to db
func NewPG(db store.TxRunner) *PG { return &PG{db: db} }

// EnsureSchema creates the ledger table when missing
func (l *PG) EnsureSchema(ctx context.Context) error {
	return l.db.Tx(ctx, func(q store.RowQuerier) error {
		_, err := store.Exec(ctx, q, schemaSQL)
		return err
	})
}

// Done reports whether id has a row
func (l *PG) Done(ctx context.Context, id gha.ArchiveID) (bool, error) {
	return store.Scalar[bool](ctx, l.db, doneSQL, id.String())
}

// MarkDone upserts the stats of a finished archive
func (l *PG) MarkDone(ctx context.Context, st gha.ArchiveStats) error {
	r := toRecord(st)
	return store.ExecOne(ctx, l.db, markSQL,
		r.ID, r.Events, r.DecodeErrors, r.Bytes, r.Compressed, r.ElapsedMs, r.FinishedAt)
}

// List returns every recorded archive, oldest first
func (l *PG) List(ctx context.Context) ([]gha.ArchiveStats, error) {
	return store.Many(ctx, l.db, scanRecord, listSQL)
}

func scanRecord(row store.Row) (gha.ArchiveStats, error) {
	var r record
	if err := row.Scan(&r.ID, &r.Events, &r.DecodeErrors, &r.Bytes, &r.Compressed, &r.ElapsedMs, &r.FinishedAt); err != nil {
		return gha.ArchiveStats{}, err
	}
	return r.stats(), nil
}
