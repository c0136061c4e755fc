package types

// AccountID identifies a validator account. Empty means the node does not run
// with a validator key.
type AccountID string

// BlockHeader carries the subset of header fields the sync subsystem needs to
// walk the chain and identify epoch boundaries.
type BlockHeader struct {
	Height   uint64
	Hash     Hash
	PrevHash Hash
	EpochID  Hash
}

// Tip describes a chain head (either the block head or the header head).
type Tip struct {
	Height        uint64
	LastBlockHash Hash
	PrevBlockHash Hash
	EpochID       Hash
}

// AcceptedBlock is a block the chain accepted while resetting heads or
// catching up after a state sync. It is forwarded downstream for
// post-processing (announcements, tx status updates and so on).
type AcceptedBlock struct {
	Hash   Hash
	Height uint64
	Status string
}

// Challenge is evidence of invalid behaviour (double sign, invalid chunk...)
// collected while applying blocks. The sync subsystem only forwards it.
type Challenge struct {
	Hash Hash
	Body []byte
}

// PendingChunk identifies a chunk a block is missing and which shard serves
// it, so the shards manager can request it.
type PendingChunk struct {
	ChunkHash Hash
	ShardID   uint64
	Height    uint64
}
