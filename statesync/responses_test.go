package statesync

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmnoxx/nearcore/types"
)

// mainEpisode puts the coordinator into StateSync anchored at syncHash, with
// a fresh tracker per shard, and returns the trackers.
func mainEpisode(env *testEnv, syncHash types.Hash, shards ...uint64) map[uint64]*ShardSyncDownload {
	downloads := make(map[uint64]*ShardSyncDownload)
	for _, shardID := range shards {
		downloads[shardID] = NewShardSyncDownload()
	}
	env.coord.state.Set(StatusStateSync{SyncHash: syncHash, Downloads: downloads})
	return downloads
}

// partsTracker moves a tracker into the parts phase with the given part count.
func partsTracker(d *ShardSyncDownload, numParts uint64) {
	d.Status = StateDownloadParts
	d.Downloads = make([]DownloadStatus, numParts)
}

func TestStateResponseStaleDropped(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))

	// No episode anywhere: the response is dropped without touching the chain
	// or acking the driver.
	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Header:   &types.ShardStateHeader{NumParts: 4, Data: []byte("h")},
		Part:     &types.StatePart{PartID: 0, Data: []byte("p")},
	})

	assert.False(t, env.chain.hasStateHeader(3, syncHash))
	assert.False(t, env.chain.hasStatePart(3, syncHash, 0))
	assert.Empty(t, env.main().acks)
}

func TestStateResponseUnknownShardDropped(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	mainEpisode(env, syncHash, 0)

	// Episode matches but the shard has no tracker. The part is still acked
	// so the driver's outstanding-request accounting stays correct.
	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  7,
		Part:     &types.StatePart{PartID: 2, Data: []byte("p")},
	})

	assert.False(t, env.chain.hasStatePart(7, syncHash, 2))
	require.Len(t, env.main().acks, 1)
	assert.Equal(t, uint64(2), env.main().acks[0].partID)
}

func TestStateResponseHeaderApplied(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Header:   &types.ShardStateHeader{NumParts: 10, Data: []byte("header")},
	})

	assert.True(t, downloads[3].HeaderDone())
	assert.False(t, downloads[3].Downloads[0].Error)
	assert.True(t, env.chain.hasStateHeader(3, syncHash))
}

func TestStateResponseMissingHeaderMarksError(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)

	// The peer could not build a response.
	env.coord.handleStateResponse(&StateResponse{SyncHash: syncHash, ShardID: 3})

	assert.False(t, downloads[3].HeaderDone())
	assert.True(t, downloads[3].Downloads[0].Error)
}

func TestStateResponseLateEmptyKeepsHeaderDone(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	downloads[3].Downloads[0].Done = true

	// A late duplicate with no header never erases a prior success.
	env.coord.handleStateResponse(&StateResponse{SyncHash: syncHash, ShardID: 3})

	assert.True(t, downloads[3].HeaderDone())
	assert.False(t, downloads[3].Downloads[0].Error)
}

func TestStateResponseHeaderApplyError(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	env.chain.setHeaderErr = errors.New("header does not verify")

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Header:   &types.ShardStateHeader{NumParts: 10, Data: []byte("header")},
	})

	assert.False(t, downloads[3].HeaderDone())
	assert.True(t, downloads[3].Downloads[0].Error)
}

func TestStateResponsePartApplied(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	partsTracker(downloads[3], 10)

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Part:     &types.StatePart{PartID: 4, Data: []byte("part-4")},
	})

	assert.True(t, downloads[3].Downloads[4].Done)
	assert.True(t, env.chain.hasStatePart(3, syncHash, 4))
	require.Len(t, env.main().acks, 1)

	// A duplicate of an applied part changes nothing, even if re-applying it
	// would now fail.
	env.chain.setPartErr = errors.New("closed")
	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Part:     &types.StatePart{PartID: 4, Data: []byte("part-4")},
	})
	assert.True(t, downloads[3].Downloads[4].Done)
	assert.False(t, downloads[3].Downloads[4].Error)
}

func TestStateResponsePartOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	partsTracker(downloads[3], 10)

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Part:     &types.StatePart{PartID: 999, Data: []byte("bogus")},
	})

	// The tracker keeps its declared size and no slot was touched.
	assert.Len(t, downloads[3].Downloads, 10)
	for i, slot := range downloads[3].Downloads {
		assert.False(t, slot.Done, "slot %d", i)
		assert.False(t, slot.Error, "slot %d", i)
	}
	assert.False(t, env.chain.hasStatePart(3, syncHash, 999))
}

func TestStateResponsePartApplyError(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	partsTracker(downloads[3], 10)
	env.chain.setPartErr = errors.New("part does not verify")

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Part:     &types.StatePart{PartID: 5, Data: []byte("part-5")},
	})

	assert.False(t, downloads[3].Downloads[5].Done)
	assert.True(t, downloads[3].Downloads[5].Error)
}

func TestStateResponseCompleteShardIgnores(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	downloads := mainEpisode(env, syncHash, 3)
	downloads[3].Status = StateDownloadComplete

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: syncHash,
		ShardID:  3,
		Header:   &types.ShardStateHeader{NumParts: 10, Data: []byte("header")},
	})

	assert.False(t, env.chain.hasStateHeader(3, syncHash))
}

func TestStateResponseRoutesToCatchupEpisode(t *testing.T) {
	env := newTestEnv(t)
	mainHash := types.NewHash([]byte("main"))
	catchupHash := types.NewHash([]byte("catchup"))
	mainEpisode(env, mainHash, 3)

	catchupDriver := &fakeStateSync{}
	tracker := NewShardSyncDownload()
	partsTracker(tracker, 6)
	env.coord.catchupSyncs[catchupHash] = &catchupEntry{
		stateSync: catchupDriver,
		downloads: map[uint64]*ShardSyncDownload{3: tracker},
	}

	env.coord.handleStateResponse(&StateResponse{
		SyncHash: catchupHash,
		ShardID:  3,
		Part:     &types.StatePart{PartID: 2, Data: []byte("part")},
	})

	// The ack goes to the episode owning the tracker, not the main driver.
	assert.Empty(t, env.main().acks)
	require.Len(t, catchupDriver.acks, 1)
	assert.Equal(t, msgPartReceived{partID: 2, shardID: 3, syncHash: catchupHash}, catchupDriver.acks[0])

	assert.True(t, tracker.Downloads[2].Done)
	assert.True(t, env.chain.hasStatePart(3, catchupHash, 2))
}

func TestPartReceivedRoutedByEpisode(t *testing.T) {
	env := newTestEnv(t)
	catchupHash := types.NewHash([]byte("catchup"))
	catchupDriver := &fakeStateSync{}
	env.coord.catchupSyncs[catchupHash] = &catchupEntry{
		stateSync: catchupDriver,
		downloads: map[uint64]*ShardSyncDownload{},
	}

	env.coord.handleMessage(msgPartReceived{partID: 1, shardID: 0, syncHash: catchupHash})
	assert.Empty(t, env.main().acks)
	assert.Len(t, catchupDriver.acks, 1)

	// Unknown hashes fall back to the main driver.
	other := types.NewHash([]byte("other"))
	env.coord.handleMessage(msgPartReceived{partID: 9, shardID: 0, syncHash: other})
	assert.Len(t, env.main().acks, 1)
}

func TestStateResponseDuplicateEpisodesPanic(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))
	mainEpisode(env, syncHash, 3)
	env.coord.catchupSyncs[syncHash] = &catchupEntry{
		stateSync: &fakeStateSync{},
		downloads: map[uint64]*ShardSyncDownload{3: NewShardSyncDownload()},
	}

	// The same (sync hash, shard) tracked by both the main episode and a
	// catchup entry means the bookkeeping is corrupted.
	require.Panics(t, func() {
		env.coord.handleStateResponse(&StateResponse{SyncHash: syncHash, ShardID: 3})
	})
}

// TestPartSlotsNeverRegress drives a parts-phase tracker with an arbitrary
// mix of valid, failing, duplicate and out-of-range part responses and checks
// that applied slots stay applied and the tracker never changes size.
func TestPartSlotsNeverRegress(t *testing.T) {
	env := newTestEnv(t)
	syncHash := types.NewHash([]byte("anchor"))

	rapid.Check(t, func(rt *rapid.T) {
		numParts := rapid.Uint64Range(1, 16).Draw(rt, "numParts").(uint64)
		downloads := mainEpisode(env, syncHash, 0)
		tracker := downloads[0]
		partsTracker(tracker, numParts)

		steps := rapid.IntRange(1, 50).Draw(rt, "steps").(int)
		for i := 0; i < steps; i++ {
			partID := rapid.Uint64Range(0, numParts+4).Draw(rt, fmt.Sprintf("part%d", i)).(uint64)
			if rapid.Bool().Draw(rt, fmt.Sprintf("fail%d", i)).(bool) {
				env.chain.setPartErr = errors.New("apply failed")
			} else {
				env.chain.setPartErr = nil
			}

			var wasDone []bool
			for _, slot := range tracker.Downloads {
				wasDone = append(wasDone, slot.Done)
			}

			env.coord.handleStateResponse(&StateResponse{
				SyncHash: syncHash,
				ShardID:  0,
				Part:     &types.StatePart{PartID: partID, Data: []byte("data")},
			})

			if uint64(len(tracker.Downloads)) != numParts {
				rt.Fatalf("tracker resized to %d slots, declared %d", len(tracker.Downloads), numParts)
			}
			for j, slot := range tracker.Downloads {
				if wasDone[j] && !slot.Done {
					rt.Fatalf("slot %d regressed from done", j)
				}
			}
		}
	})
}
