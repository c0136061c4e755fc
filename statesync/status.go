// Package statesync brings a node's local chain state into agreement with
// the network when it is behind, and keeps validators current on shards they
// will need in the next epoch.
//
// The package owns the global sync phase, the per-shard snapshot download
// trackers and the catchup episodes. The detailed request/retry logic for
// each phase lives in external drivers (see drivers.go); the chain store and
// the network transport are collaborators consumed through interfaces.
package statesync

import (
	"fmt"

	"github.com/pmnoxx/nearcore/types"
)

// SyncStatus is the global sync phase. Exactly one variant is active at a
// time, and only the coordinator goroutine reads or writes it.
type SyncStatus interface {
	// IsSyncing reports whether the node considers itself behind. Every
	// phase except NoSync counts as syncing, so a freshly started node in
	// AwaitingPeers settles into NoSync on its first caught-up tick.
	IsSyncing() bool
	String() string
}

// StatusAwaitingPeers is the initial phase, before the minimum peer count is
// reached.
type StatusAwaitingPeers struct{}

// StatusNoSync means the node is caught up.
type StatusNoSync struct{}

// StatusHeaderSync means the node is fetching headers.
type StatusHeaderSync struct {
	CurrentHeight uint64
	HighestHeight uint64
}

// StatusBodySync means the node is fetching full blocks.
type StatusBodySync struct {
	CurrentHeight uint64
	HighestHeight uint64
}

// StatusStateSync means the node is downloading a full state snapshot for
// the epoch anchored at SyncHash. Downloads is the live episode: one tracker
// per shard the node cares about.
type StatusStateSync struct {
	SyncHash  types.Hash
	Downloads map[uint64]*ShardSyncDownload
}

func (StatusAwaitingPeers) IsSyncing() bool { return true }
func (StatusNoSync) IsSyncing() bool        { return false }
func (StatusHeaderSync) IsSyncing() bool    { return true }
func (StatusBodySync) IsSyncing() bool      { return true }
func (StatusStateSync) IsSyncing() bool     { return true }

func (StatusAwaitingPeers) String() string { return "AwaitingPeers" }
func (StatusNoSync) String() string        { return "NoSync" }

func (s StatusHeaderSync) String() string {
	return fmt.Sprintf("HeaderSync{%d/%d}", s.CurrentHeight, s.HighestHeight)
}

func (s StatusBodySync) String() string {
	return fmt.Sprintf("BodySync{%d/%d}", s.CurrentHeight, s.HighestHeight)
}

func (s StatusStateSync) String() string {
	return fmt.Sprintf("StateSync{%s, %d shards}", s.SyncHash.Fingerprint(), len(s.Downloads))
}

// SyncState holds the current SyncStatus. Drivers receive it so they can
// advance the phase; the coordinator goroutine is the single writer.
type SyncState struct {
	status SyncStatus
}

// NewSyncState returns a state in the AwaitingPeers phase.
func NewSyncState() *SyncState {
	return &SyncState{status: StatusAwaitingPeers{}}
}

// Get returns the current phase.
func (s *SyncState) Get() SyncStatus { return s.status }

// Set replaces the current phase.
func (s *SyncState) Set(status SyncStatus) { s.status = status }

// IsSyncing reports whether the current phase counts as syncing.
func (s *SyncState) IsSyncing() bool { return s.status.IsSyncing() }

//-----------------------------------------------------------------------------
// Shard download trackers

// ShardSyncStatus is the download phase of a single shard within a state
// sync episode.
type ShardSyncStatus int

const (
	// StateDownloadHeader means the shard is waiting for its snapshot header.
	StateDownloadHeader ShardSyncStatus = iota
	// StateDownloadParts means the header was applied and data parts are
	// being downloaded.
	StateDownloadParts
	// StateDownloadComplete means all parts were applied.
	StateDownloadComplete
)

func (s ShardSyncStatus) String() string {
	switch s {
	case StateDownloadHeader:
		return "StateDownloadHeader"
	case StateDownloadParts:
		return "StateDownloadParts"
	case StateDownloadComplete:
		return "StateDownloadComplete"
	default:
		return fmt.Sprintf("ShardSyncStatus(%d)", int(s))
	}
}

// DownloadStatus records the outcome of a single download slot. A slot that
// is Done stays Done; late or duplicate responses never regress it.
type DownloadStatus struct {
	Done  bool
	Error bool
}

// ShardSyncDownload tracks snapshot download progress for one shard. While
// the status is StateDownloadHeader, Downloads holds a single slot for the
// header. Once the header is applied the driver moves the tracker to
// StateDownloadParts and resizes Downloads to the part count the header
// declared; that length is fixed for the life of the episode.
type ShardSyncDownload struct {
	Downloads []DownloadStatus
	Status    ShardSyncStatus
}

// NewShardSyncDownload returns a tracker awaiting its snapshot header.
func NewShardSyncDownload() *ShardSyncDownload {
	return &ShardSyncDownload{
		Downloads: []DownloadStatus{{}},
		Status:    StateDownloadHeader,
	}
}

// HeaderDone reports whether the header slot has been applied.
func (d *ShardSyncDownload) HeaderDone() bool {
	return len(d.Downloads) > 0 && d.Downloads[0].Done
}
