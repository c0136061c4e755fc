package statesync

import (
	"github.com/pmnoxx/nearcore/p2p"
	"github.com/pmnoxx/nearcore/types"
)

// message is an inbound message consumed by the receive routine.
type message interface{}

type msgSetDownstream struct {
	downstream Downstream
}

type msgNetworkInfo struct {
	info p2p.NetworkInfo
}

type msgPartReceived struct {
	partID   uint64
	shardID  uint64
	syncHash types.Hash
}

type msgStateResponse struct {
	resp *StateResponse
}

// StateResponse is a shard-state response received from a peer. Header and
// Part are both optional: a peer that could not build the response sends
// neither.
type StateResponse struct {
	SyncHash types.Hash
	ShardID  uint64
	Header   *types.ShardStateHeader
	Part     *types.StatePart
}

// handleStateResponse routes a state response into the download tracker for
// (SyncHash, ShardID). The tracker may live in the main episode or in a
// catchup entry; a match in both at once means the bookkeeping is corrupted
// and is treated as a programming bug. Responses matching no tracker are
// stale, duplicate or forged and are dropped without touching any state.
func (c *Coordinator) handleStateResponse(resp *StateResponse) {
	shardID, syncHash := resp.ShardID, resp.SyncHash

	c.Logger.Debug("sync: received state response",
		"shard_id", shardID,
		"sync_hash", syncHash.Fingerprint(),
		"has_header", resp.Header != nil,
		"has_part", resp.Part != nil,
	)

	var download *ShardSyncDownload

	// The state could have been requested by the main state sync...
	if st, ok := c.state.Get().(StatusStateSync); ok && st.SyncHash == syncHash {
		if resp.Part != nil {
			c.stateSync.ReceivedRequestedPart(resp.Part.PartID, shardID, syncHash)
		}
		if d, ok := st.Downloads[shardID]; ok {
			download = d
		}
		// A missing shard slot can happen after sending too many requests
		// to different peers, e.g. when a response arrives after the sync
		// already completed. The driver re-requests on its own schedule.
	}

	// ... or by one of the catchups.
	if entry, ok := c.catchupSyncs[syncHash]; ok {
		if resp.Part != nil {
			entry.stateSync.ReceivedRequestedPart(resp.Part.PartID, shardID, syncHash)
		}
		if d, ok := entry.downloads[shardID]; ok {
			if download != nil {
				panic("internal downloads set has duplicates")
			}
			download = d
		}
	}

	if download == nil {
		c.Logger.Error("sync: received state response we are not expecting, potential malicious peer",
			"sync_hash", syncHash.Fingerprint(), "shard_id", shardID)
		c.metrics.UnexpectedResponses.Add(1)
		return
	}

	switch download.Status {
	case StateDownloadHeader:
		c.applyStateHeader(download, resp)
	case StateDownloadParts:
		c.applyStatePart(download, resp)
	default:
		// Shard already done; any further response is ignored.
	}
}

func (c *Coordinator) applyStateHeader(download *ShardSyncDownload, resp *StateResponse) {
	slot := &download.Downloads[0]

	if resp.Header == nil {
		// The peer could not build a state response. A late duplicate with
		// no header must never erase a prior success.
		if !slot.Done {
			c.Logger.Info("sync: state response has no header, will be re-requested",
				"shard_id", resp.ShardID, "sync_hash", resp.SyncHash.Fingerprint())
			slot.Error = true
		}
		return
	}

	if slot.Done {
		return
	}
	if err := c.chain.SetStateHeader(resp.ShardID, resp.SyncHash, resp.Header); err != nil {
		c.Logger.Error("sync: set state header failed",
			"shard_id", resp.ShardID, "sync_hash", resp.SyncHash.Fingerprint(), "err", err)
		slot.Error = true
		return
	}
	slot.Done = true
	c.metrics.StateHeadersApplied.Add(1)
}

func (c *Coordinator) applyStatePart(download *ShardSyncDownload, resp *StateResponse) {
	if resp.Part == nil {
		return
	}

	numParts := uint64(len(download.Downloads))
	partID := resp.Part.PartID
	if partID >= numParts {
		// Out-of-range index is a protocol violation, not a download
		// failure: drop without touching the tracker.
		c.Logger.Error("sync: received incorrect part id, potential malicious peer",
			"part_id", partID, "num_parts", numParts, "sync_hash", resp.SyncHash.Fingerprint())
		c.metrics.UnexpectedResponses.Add(1)
		return
	}

	slot := &download.Downloads[partID]
	if slot.Done {
		return
	}
	if err := c.chain.SetStatePart(resp.ShardID, resp.SyncHash, partID, numParts, resp.Part.Data); err != nil {
		c.Logger.Error("sync: set state part failed",
			"shard_id", resp.ShardID, "part_id", partID,
			"sync_hash", resp.SyncHash.Fingerprint(), "err", err)
		slot.Error = true
		return
	}
	slot.Done = true
	c.metrics.StatePartsApplied.Add(1)
}
