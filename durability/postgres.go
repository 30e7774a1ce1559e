package durability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"flowcore.dev/engine/record"
)

// PostgresLog is the Postgres-backed alternative to Log, for
// deployments that already run a Postgres cluster for the catalog
// (see catalog.Store) and would rather not add bbolt's single-file
// storage to their backup/replication story. It is adapted from the
// teacher's db.StateStore: a pgxpool-driven table with one row per
// logged entry, generalized from "one row per action execution,
// updated in place" to "one append-only row per committed batch,
// never updated."
type PostgresLog struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPostgres opens a PostgresLog for the named base table, against
// the shared durability_log table, which must already exist:
//
//	CREATE TABLE IF NOT EXISTS durability_log (
//	    id         BIGSERIAL PRIMARY KEY,
//	    table_name TEXT NOT NULL,
//	    payload    JSONB NOT NULL
//	);
//	CREATE INDEX IF NOT EXISTS durability_log_table_idx
//	    ON durability_log (table_name, id);
func OpenPostgres(pool *pgxpool.Pool, table string) *PostgresLog {
	return &PostgresLog{pool: pool, table: table}
}

func (l *PostgresLog) Close() error {
	l.pool.Close()
	return nil
}

// Append inserts batch as the next entry for this log's table and
// returns the row id assigned, Postgres's BIGSERIAL standing in for
// bbolt's NextSequence.
func (l *PostgresLog) Append(batch record.Delta) (LSN, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("durability: marshal batch: %w", err)
	}

	var id int64
	err = l.pool.QueryRow(context.Background(),
		`INSERT INTO durability_log (table_name, payload) VALUES ($1, $2) RETURNING id`,
		l.table, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("durability: append: %w", err)
	}
	return LSN(id), nil
}

func (l *PostgresLog) Sync(_ LSN) error { return nil }

// ReplayFrom streams every batch with LSN >= from, in ascending order,
// calling fn for each.
func (l *PostgresLog) ReplayFrom(from LSN, fn func(LSN, record.Delta) error) error {
	rows, err := l.pool.Query(context.Background(),
		`SELECT id, payload FROM durability_log WHERE table_name = $1 AND id >= $2 ORDER BY id`,
		l.table, int64(from),
	)
	if err != nil {
		return fmt.Errorf("durability: replay: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("durability: replay scan: %w", err)
		}
		var batch record.Delta
		if err := json.Unmarshal(payload, &batch); err != nil {
			return fmt.Errorf("durability: replay unmarshal at %d: %w", id, err)
		}
		if err := fn(LSN(id), batch); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastLSN returns the highest id recorded for this log's table, or 0
// if it is empty.
func (l *PostgresLog) LastLSN() (LSN, error) {
	var last int64
	err := l.pool.QueryRow(context.Background(),
		`SELECT COALESCE(MAX(id), 0) FROM durability_log WHERE table_name = $1`,
		l.table,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("durability: last lsn: %w", err)
	}
	return LSN(last), nil
}
