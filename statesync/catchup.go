package statesync

import (
	"fmt"

	"github.com/pmnoxx/nearcore/types"
)

// catchupEntry is one state sync episode run for a future epoch, with its
// own driver so progress is independent of the main sync and of other
// epochs.
type catchupEntry struct {
	stateSync StateSyncDriver
	downloads map[uint64]*ShardSyncDownload
}

// catchupStep runs one catchup pass. Catchup gives validators forward-
// looking access to shard state for upcoming epochs without blocking the
// main sync loop; it runs on its own timer.
func (c *Coordinator) catchupStep() {
	if err := c.runCatchup(); err != nil {
		c.Logger.Error("catchup: error occurred during catchup for the next epoch",
			"me", c.me, "err", err)
	}
	c.metrics.CatchupEpisodes.Set(float64(len(c.catchupSyncs)))
}

// runCatchup walks every epoch boundary the chain reports as awaiting state
// sync and advances its episode. An invariant violation inside one episode
// aborts only that episode's processing, never the whole pass.
func (c *Coordinator) runCatchup() error {
	infos, err := c.chain.IterateStateSyncInfos()
	if err != nil {
		return err
	}

	for _, info := range infos {
		if err := c.catchupEpoch(info); err != nil {
			c.Logger.Error("catchup: epoch processing failed",
				"sync_hash", info.EpochTailHash.Fingerprint(), "err", err)
		}
	}
	return nil
}

// catchupEpoch advances the episode for a single epoch boundary, creating it
// on first sight. A panic raised by a broken internal invariant is turned
// into an error so sibling episodes keep making progress.
func (c *Coordinator) catchupEpoch(info types.StateSyncInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invariant violation: %v", r)
		}
	}()

	syncHash := info.EpochTailHash
	entry, ok := c.catchupSyncs[syncHash]
	if !ok {
		entry = &catchupEntry{
			stateSync: c.newStateSync(),
			downloads: make(map[uint64]*ShardSyncDownload),
		}
		c.catchupSyncs[syncHash] = entry
	}

	c.Logger.Debug("catchup: running state sync",
		"me", c.me, "sync_hash", syncHash.Fingerprint(), "shards", info.Shards)

	res, err := entry.stateSync.Run(
		c.me, syncHash, entry.downloads, c.chain,
		c.networkInfo.HighestHeightPeers, info.Shards,
	)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case StateSyncUnchanged:
	case StateSyncChanged:
		if res.FetchBlock {
			// Catchup anchors come from blocks we have already processed.
			panic("catchup state sync asked to fetch the sync block")
		}
	case StateSyncCompleted:
		collector := newSyncResultCollector()
		if err := c.chain.CatchupBlocks(c.me, syncHash,
			collector.onAccepted, collector.onMissingChunks, collector.onChallenge); err != nil {
			return err
		}
		if err := c.forwardSyncResults(collector); err != nil {
			return err
		}

		// Completed episodes never resurrect.
		delete(c.catchupSyncs, syncHash)
	}
	return nil
}
