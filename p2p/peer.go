// Package p2p holds the read-only peer snapshot the sync subsystem consumes
// and the egress contract it uses to request blocks. The transport, peer
// scoring and connection management live in the network layer.
package p2p

import (
	"github.com/pmnoxx/nearcore/types"
)

// ID is a hex-encoded peer identifier.
type ID string

// PeerInfo identifies a connected peer.
type PeerInfo struct {
	ID ID
}

// ChainInfo is the chain view a peer last reported in its handshake or status
// broadcast.
type ChainInfo struct {
	Height          uint64
	TrackedShards   []uint64
	GenesisHash     types.Hash
	LatestBlockHash types.Hash
}

// FullPeerInfo pairs a peer identity with its reported chain view.
type FullPeerInfo struct {
	PeerInfo  PeerInfo
	ChainInfo ChainInfo
}

// NetworkInfo is the periodic snapshot of the peer set pushed to the sync
// coordinator. It is immutable once published.
type NetworkInfo struct {
	ActivePeers        []FullPeerInfo
	NumActivePeers     int
	PeerMaxCount       uint32
	HighestHeightPeers []FullPeerInfo
}

// NetworkAdapter sends requests into the network layer on behalf of the sync
// subsystem.
type NetworkAdapter interface {
	// RequestBlock asks the given peer for a block by hash.
	RequestBlock(hash types.Hash, peerID ID)
}
