// Package durability implements the append-only log that sits outside
// the dataflow core's own consistency boundary: base table writes are
// durable through it before a base node's output is considered
// committed. It is the concrete side of the engine's Durability
// trait (append/sync_to/replay_from), backed by go.etcd.io/bbolt the
// same way the teacher's db/bolt/bolt.go wrapped bbolt for its
// bucket-of-JSON-values persistence -- generalized here from arbitrary
// named keys to a monotonically increasing log sequence number per
// base table.
package durability

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"flowcore.dev/engine/record"
)

// LSN is a log sequence number: a dense, monotonically increasing
// index into one base table's append log.
type LSN uint64

// Log is one base table's durable append log, backed by a single
// bbolt bucket keyed by big-endian LSN.
type Log struct {
	db     *bolt.DB
	bucket []byte
}

// Open opens (creating if necessary) the bbolt file at path and
// returns a Log for the named base table, creating its bucket on
// first use.
func Open(path, table string) (*Log, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("durability: open %s: %w", path, err)
	}
	bucket := []byte(table)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("durability: create bucket %s: %w", table, err)
	}
	return &Log{db: db, bucket: bucket}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Append writes batch as the next entry in the log and returns the
// LSN it was assigned. The write is fsynced to the underlying file by
// bbolt's own commit path before Append returns -- there is no
// separate buffered-then-synced state the way a raw append-only file
// would need; Sync exists only so callers that batch several Appends
// under a higher-level transaction boundary can force a checkpoint.
func (l *Log) Append(batch record.Delta) (LSN, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("durability: marshal batch: %w", err)
	}

	var assigned LSN
	err = l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		assigned = LSN(next)
		return b.Put(encodeLSN(assigned), data)
	})
	if err != nil {
		return 0, fmt.Errorf("durability: append: %w", err)
	}
	return assigned, nil
}

// Sync forces the log's backing file to disk. bbolt's transaction
// commit already fsyncs by default, so this is a no-op placeholder
// for the Durability trait's sync_to(LSN) hook that callers running
// with NoSync configured would need; this log never disables it.
func (l *Log) Sync(_ LSN) error { return nil }

// ReplayFrom streams every batch with LSN >= from, in order, calling
// fn for each. A base node recovering after a crash uses this to
// rebuild in-memory state the same way a restarted replica would
// tail an append log from its last durable checkpoint.
func (l *Log) ReplayFrom(from LSN, fn func(LSN, record.Delta) error) error {
	return l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		c := b.Cursor()
		start := encodeLSN(from)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			var batch record.Delta
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("durability: unmarshal entry at %s: %w", k, err)
			}
			if err := fn(decodeLSN(k), batch); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastLSN returns the most recently assigned LSN, or 0 if the log is
// empty, used to resume Append's NextSequence counter reporting after
// a restart (bbolt persists the sequence counter itself, so this is
// informational for callers, not required for correctness).
func (l *Log) LastLSN() (LSN, error) {
	var last LSN
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(l.bucket)
		k, _ := b.Cursor().Last()
		if k != nil {
			last = decodeLSN(k)
		}
		return nil
	})
	return last, err
}

func encodeLSN(lsn LSN) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(lsn))
	return buf
}

func decodeLSN(buf []byte) LSN {
	return LSN(binary.BigEndian.Uint64(buf))
}
