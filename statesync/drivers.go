package statesync

import (
	"github.com/pmnoxx/nearcore/chain"
	"github.com/pmnoxx/nearcore/p2p"
	"github.com/pmnoxx/nearcore/types"
)

// StateSyncOutcome reports what a state sync driver pass did.
type StateSyncOutcome int

const (
	// StateSyncUnchanged means no download state changed this pass.
	StateSyncUnchanged StateSyncOutcome = iota
	// StateSyncChanged means download state changed and must be persisted
	// into the phase.
	StateSyncChanged
	// StateSyncCompleted means every shard finished downloading.
	StateSyncCompleted
)

// StateSyncResult is the outcome of one state sync driver pass. FetchBlock is
// only meaningful with StateSyncChanged: it asks the coordinator to request
// the sync anchor block and its predecessor from the network.
type StateSyncResult struct {
	Outcome    StateSyncOutcome
	FetchBlock bool
}

// HeaderSyncDriver decides which headers to request from which peers and
// tracks header sync progress through the phase it writes into state.
type HeaderSyncDriver interface {
	Run(state *SyncState, c chain.Chain, highestHeight uint64, peers []p2p.FullPeerInfo) error
}

// BlockSyncDriver requests full blocks. It returns true when the gap is too
// large to fill block by block and a state snapshot download should run
// instead.
type BlockSyncDriver interface {
	Run(state *SyncState, c chain.Chain, highestHeight uint64, peers []p2p.FullPeerInfo) (bool, error)
}

// StateSyncDriver owns the request/retry schedule for snapshot headers and
// parts. The coordinator calls Run every tick with the current episode; the
// driver inspects the trackers (updated between ticks by the response
// handler), issues requests and advances tracker statuses.
type StateSyncDriver interface {
	Run(
		me types.AccountID,
		syncHash types.Hash,
		downloads map[uint64]*ShardSyncDownload,
		c chain.Chain,
		peers []p2p.FullPeerInfo,
		trackingShards []uint64,
	) (StateSyncResult, error)

	// ReceivedRequestedPart records that a part we requested was delivered,
	// so the driver's outstanding-request accounting stays accurate.
	ReceivedRequestedPart(partID, shardID uint64, syncHash types.Hash)

	// EpochStartSyncHash resolves a block hash to the hash of the first
	// block of its epoch, the only valid state sync anchor.
	EpochStartSyncHash(c chain.Chain, hash types.Hash) (types.Hash, error)
}

// RuntimeAdapter exposes the shard layout of the chain.
type RuntimeAdapter interface {
	NumShards() uint64
}

// ShardsManager resolves shard interest and requests missing chunks on
// behalf of the sync subsystem.
type ShardsManager interface {
	// CaresAboutShardThisOrNextEpoch reports whether this node needs the
	// given shard's state in the epoch containing parentHash or the one
	// after it.
	CaresAboutShardThisOrNextEpoch(me types.AccountID, parentHash types.Hash, shardID uint64) bool

	// RequestChunks issues requests for the given missing chunks, using the
	// header head as the routing reference point.
	RequestChunks(chunks []types.PendingChunk, headerHead types.Tip, protocolVersion uint32)
}

// Downstream is the handle to the client component that consumes what sync
// produces. It is registered after startup; the coordinator treats use
// before registration as a programming error.
type Downstream interface {
	ProcessAcceptedBlocks(blocks []types.AcceptedBlock)
	SendChallenges(challenges []types.Challenge)
	// CheckSendAnnounceAccount announces this node's account if its epoch is
	// coming up. Fired once on the transition out of syncing.
	CheckSendAnnounceAccount(prevHash types.Hash)
}

// Gate is consulted before the sync decision on every tick. The production
// gate always allows syncing; tests inject gates that veto it.
type Gate interface {
	SyncAllowed() bool
}

type openGate struct{}

func (openGate) SyncAllowed() bool { return true }

// HighestHeightPeer returns the peer reporting the greatest chain height.
// Ties break toward the lowest peer id, so the choice is deterministic for a
// given peer set. Returns nil when the set is empty.
func HighestHeightPeer(peers []p2p.FullPeerInfo) *p2p.FullPeerInfo {
	var best *p2p.FullPeerInfo
	for i := range peers {
		peer := &peers[i]
		if best == nil ||
			peer.ChainInfo.Height > best.ChainInfo.Height ||
			(peer.ChainInfo.Height == best.ChainInfo.Height && peer.PeerInfo.ID < best.PeerInfo.ID) {
			best = peer
		}
	}
	return best
}
