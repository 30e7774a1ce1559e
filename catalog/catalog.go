// Package catalog persists the declarative half of a committed
// migration -- the NodeSpec shape graph.Assembler.Commit wires into
// live domains -- so a controller restart can recover what topology
// was running without replaying every historical migration batch. It
// is the generalization of the teacher's PostgresMetricsRepository:
// same JSONB-blob-over-gorm persistence style, retargeted from action
// run history to dataflow node records.
//
// The OperatorBuilder closure in a graph.NodeSpec is not persisted --
// only the declarative fields (name, fields, domain, sharding,
// parents, base/transactional flags) are. Reconstructing a live
// Assembler from catalog records requires the caller to re-supply
// builders keyed by node name, since a closure has no serializable
// form.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowcore.dev/engine/node"
)

// NodeRecord is the persisted row for one committed node. Fields,
// Sharding, and Parents round-trip through JSON the same way the
// teacher's action_runs.run_data column carried a whole ActionRun --
// a handful of dataflow-specific columns stay relational (domain,
// is_base) since the catalog's own queries filter on them directly.
type NodeRecord struct {
	Index           int    `gorm:"primaryKey;column:node_index"`
	Name            string `gorm:"index"`
	FieldsJSON      []byte `gorm:"column:fields_json"`
	Domain          int    `gorm:"index"`
	ShardingJSON    []byte `gorm:"column:sharding_json"`
	ParentsJSON     []byte `gorm:"column:parents_json"`
	IsBase          bool
	IsTransactional bool
	CommittedAt     time.Time
}

func (NodeRecord) TableName() string { return "dataflow_nodes" }

// Entry is the catalog's in-memory view of a committed node, the
// deserialized counterpart of NodeRecord.
type Entry struct {
	Index           node.Index
	Name            string
	Fields          []string
	Domain          node.DomainIndex
	Sharding        node.Sharding
	Parents         []node.Index
	IsBase          bool
	IsTransactional bool
	CommittedAt     time.Time
}

// shardingDTO avoids exporting node.Sharding's unexported isShared
// field through json, mirroring how the teacher's getString/getMap
// helpers picked fields back out of an untyped map rather than
// relying on struct tags it didn't control.
type shardingDTO struct {
	Column  int  `json:"column"`
	NShards int  `json:"nShards"`
	Sharded bool `json:"sharded"`
}

func toShardingDTO(s node.Sharding) shardingDTO {
	return shardingDTO{Column: s.Column, NShards: s.NShards, Sharded: s.IsSharded()}
}

func (d shardingDTO) toSharding() node.Sharding {
	if !d.Sharded {
		return node.NoSharding()
	}
	return node.ByColumn(d.Column, d.NShards)
}

// Store persists committed node topology to PostgreSQL via gorm, the
// same ORM the teacher's go.mod already carries for relational
// storage (db/repository/postgres.go used raw SQL directly against a
// *sql.DB instead; gorm is adopted here since nothing else in this
// tree had claimed it yet and AutoMigrate replaces the teacher's
// hand-maintained schema.sql for this one table).
type Store struct {
	db *gorm.DB
}

// Open connects to dsn and ensures the catalog's table exists.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := db.AutoMigrate(&NodeRecord{}); err != nil {
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveNode upserts one committed node's declarative shape.
func (s *Store) SaveNode(ctx context.Context, e Entry) error {
	fieldsJSON, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("catalog: marshal fields: %w", err)
	}
	shardingJSON, err := json.Marshal(toShardingDTO(e.Sharding))
	if err != nil {
		return fmt.Errorf("catalog: marshal sharding: %w", err)
	}
	parentInts := make([]int, len(e.Parents))
	for i, p := range e.Parents {
		parentInts[i] = p.Int()
	}
	parentsJSON, err := json.Marshal(parentInts)
	if err != nil {
		return fmt.Errorf("catalog: marshal parents: %w", err)
	}

	rec := NodeRecord{
		Index:           e.Index.Int(),
		Name:            e.Name,
		FieldsJSON:      fieldsJSON,
		Domain:          e.Domain.Int(),
		ShardingJSON:    shardingJSON,
		ParentsJSON:     parentsJSON,
		IsBase:          e.IsBase,
		IsTransactional: e.IsTransactional,
		CommittedAt:     e.CommittedAt,
	}

	return s.db.WithContext(ctx).Clauses().Save(&rec).Error
}

// SaveBatch persists every entry in a single migration in one
// transaction, so a crash mid-commit never leaves a partial batch
// visible to a restarted controller.
func (s *Store) SaveBatch(ctx context.Context, entries []Entry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			saved := &Store{db: tx}
			if err := saved.SaveNode(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode fetches one node's committed shape by index.
func (s *Store) GetNode(ctx context.Context, idx node.Index) (Entry, error) {
	var rec NodeRecord
	if err := s.db.WithContext(ctx).First(&rec, "node_index = ?", idx.Int()).Error; err != nil {
		return Entry{}, fmt.Errorf("catalog: get node %s: %w", idx, err)
	}
	return recordToEntry(rec)
}

// ListNodes returns every node committed to a domain, ordered by
// commit time, for a controller rebuilding its view of one domain's
// topology.
func (s *Store) ListNodes(ctx context.Context, dom node.DomainIndex) ([]Entry, error) {
	var recs []NodeRecord
	if err := s.db.WithContext(ctx).
		Where("domain = ?", dom.Int()).
		Order("committed_at asc").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("catalog: list nodes for domain %s: %w", dom, err)
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e, err := recordToEntry(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteNode removes a node's catalog record, used when a migration
// tears down a dropped node.
func (s *Store) DeleteNode(ctx context.Context, idx node.Index) error {
	return s.db.WithContext(ctx).Delete(&NodeRecord{}, "node_index = ?", idx.Int()).Error
}

func recordToEntry(rec NodeRecord) (Entry, error) {
	var fields []string
	if err := json.Unmarshal(rec.FieldsJSON, &fields); err != nil {
		return Entry{}, fmt.Errorf("catalog: unmarshal fields: %w", err)
	}
	var dto shardingDTO
	if err := json.Unmarshal(rec.ShardingJSON, &dto); err != nil {
		return Entry{}, fmt.Errorf("catalog: unmarshal sharding: %w", err)
	}
	var parentInts []int
	if err := json.Unmarshal(rec.ParentsJSON, &parentInts); err != nil {
		return Entry{}, fmt.Errorf("catalog: unmarshal parents: %w", err)
	}
	parents := make([]node.Index, len(parentInts))
	for i, p := range parentInts {
		parents[i] = node.NewIndex(p)
	}

	return Entry{
		Index:           node.NewIndex(rec.Index),
		Name:            rec.Name,
		Fields:          fields,
		Domain:          node.NewDomainIndex(rec.Domain),
		Sharding:        dto.toSharding(),
		Parents:         parents,
		IsBase:          rec.IsBase,
		IsTransactional: rec.IsTransactional,
		CommittedAt:     rec.CommittedAt,
	}, nil
}
