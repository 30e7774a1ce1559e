package node

import "hash/fnv"

// Sharding describes how a node's rows are partitioned across domain
// shards: either None (no partitioning) or ByColumn.
type Sharding struct {
	Column   int
	NShards  int
	isShared bool
}

func NoSharding() Sharding { return Sharding{} }

func ByColumn(col, nShards int) Sharding {
	return Sharding{Column: col, NShards: nShards, isShared: true}
}

func (s Sharding) IsSharded() bool { return s.isShared }

// ShardFor hashes the given column value's string form modulo NShards.
// Callers pass the column's rendered form (record.Value.String()) to
// avoid a dependency from node -> record.
func (s Sharding) ShardFor(columnValue string) Shard {
	if !s.isShared || s.NShards <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(columnValue))
	return Shard(int(h.Sum32()) % s.NShards)
}
