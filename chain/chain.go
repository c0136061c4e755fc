// Package chain defines the contract the sync subsystem consumes from the
// chain storage and query engine. The engine itself (block validation, state
// application, fork choice) lives elsewhere; sync only reads heads and
// headers, stores downloaded snapshot data, and triggers the resets that
// follow a completed state sync.
package chain

import (
	"github.com/pmnoxx/nearcore/types"
)

// Chain is the view of the chain store the sync coordinator operates on.
//
// The three callback-taking operations stream their results without any
// ordering guarantee between the three streams; callers collect and forward.
// All methods are called from a single goroutine.
type Chain interface {
	// Head returns the current block head.
	Head() (types.Tip, error)
	// HeaderHead returns the current header head, which may be ahead of the
	// block head while headers are syncing.
	HeaderHead() (types.Tip, error)
	// Genesis returns the genesis block header.
	Genesis() *types.BlockHeader

	GetBlockHeader(hash types.Hash) (*types.BlockHeader, error)
	BlockExists(hash types.Hash) (bool, error)

	// SetStateHeader validates and stores a shard state snapshot header for
	// the given sync anchor.
	SetStateHeader(shardID uint64, syncHash types.Hash, header *types.ShardStateHeader) error
	// SetStatePart validates and stores one part of a shard state snapshot.
	SetStatePart(shardID uint64, syncHash types.Hash, partID, numParts uint64, data []byte) error

	// ResetDataPreStateSync drops chain data that predates the given sync
	// anchor, making room for the incoming snapshot. Called once per sync
	// episode, and never on archival nodes.
	ResetDataPreStateSync(syncHash types.Hash) error

	// ResetHeadsPostStateSync moves the chain heads onto the synced state and
	// replays any blocks buffered past the anchor.
	ResetHeadsPostStateSync(
		me types.AccountID,
		syncHash types.Hash,
		onAccepted func(types.AcceptedBlock),
		onMissingChunks func([]types.PendingChunk),
		onChallenge func(types.Challenge),
	) error

	// CatchupBlocks applies blocks buffered for an epoch whose state was
	// downloaded through catchup.
	CatchupBlocks(
		me types.AccountID,
		syncHash types.Hash,
		onAccepted func(types.AcceptedBlock),
		onMissingChunks func([]types.PendingChunk),
		onChallenge func(types.Challenge),
	) error

	// IterateStateSyncInfos lists the epoch boundaries still awaiting state
	// sync, with the shards each one needs.
	IterateStateSyncInfos() ([]types.StateSyncInfo, error)
}
