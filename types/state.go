package types

// ShardStateHeader is the header of a shard state snapshot. It declares how
// many parts make up the snapshot; the count is fixed for the lifetime of the
// snapshot once the header has been applied.
type ShardStateHeader struct {
	NumParts uint64
	Data     []byte
}

// StatePart is one part of a shard state snapshot.
type StatePart struct {
	PartID uint64
	Data   []byte
}

// StateSyncInfo records an epoch boundary for which shard state must be
// downloaded before the node can process the next epoch.
type StateSyncInfo struct {
	// EpochTailHash is the hash of the first block of the epoch the sync
	// targets (the sync anchor).
	EpochTailHash Hash
	// Shards are the shards this node must have state for at that boundary.
	Shards []uint64
}
