package statesync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmnoxx/nearcore/types"
)

func TestCatchupCreatesEpisodesLazily(t *testing.T) {
	env := newTestEnv(t)
	epochA := types.NewHash([]byte("epoch-a"))
	epochB := types.NewHash([]byte("epoch-b"))
	env.chain.stateSyncInfos = []types.StateSyncInfo{
		{EpochTailHash: epochA, Shards: []uint64{0, 1}},
		{EpochTailHash: epochB, Shards: []uint64{2}},
	}

	env.coord.catchupStep()

	// One driver for the main episode plus one per epoch boundary.
	require.Len(t, env.stateSyncs, 3)
	require.Len(t, env.coord.catchupSyncs, 2)

	driverA := env.coord.catchupSyncs[epochA].stateSync.(*fakeStateSync)
	driverB := env.coord.catchupSyncs[epochB].stateSync.(*fakeStateSync)
	require.Len(t, driverA.runs, 1)
	assert.Equal(t, []uint64{0, 1}, driverA.runs[0].trackingShards)
	require.Len(t, driverB.runs, 1)
	assert.Equal(t, []uint64{2}, driverB.runs[0].trackingShards)

	// A second pass reuses the existing entries.
	env.coord.catchupStep()
	assert.Len(t, env.stateSyncs, 3)
	assert.Len(t, driverA.runs, 2)
	assert.Len(t, driverB.runs, 2)
	assert.Empty(t, env.main().runs)
}

func TestCatchupCompletedForwardsAndRemoves(t *testing.T) {
	env := newTestEnv(t)
	env.chain.addChain(5)
	epoch := types.NewHash([]byte("epoch"))
	env.chain.stateSyncInfos = []types.StateSyncInfo{
		{EpochTailHash: epoch, Shards: []uint64{0}},
	}

	// First pass creates the entry; then script its driver to finish.
	env.coord.catchupStep()
	require.Len(t, env.coord.catchupSyncs, 1)
	driver := env.coord.catchupSyncs[epoch].stateSync.(*fakeStateSync)
	driver.results = []StateSyncResult{{Outcome: StateSyncCompleted}}

	chunk := types.PendingChunk{ShardID: 0, Height: 6}
	env.chain.catchupResults = syncResults{
		accepted:      []types.AcceptedBlock{{Height: 6}},
		missingChunks: [][]types.PendingChunk{{chunk}},
		challenges:    []types.Challenge{{Hash: epoch}},
	}

	env.coord.catchupStep()

	assert.Equal(t, []types.Hash{epoch}, env.chain.catchupCalls)
	assert.Equal(t, []string{"challenges:1", "accepted:1"}, env.downstream.events)
	require.Len(t, env.shardsMgr.chunkRequests, 1)
	assert.Equal(t, []types.PendingChunk{chunk}, env.shardsMgr.chunkRequests[0].chunks)

	// Completed episodes never resurrect.
	assert.Empty(t, env.coord.catchupSyncs)
}

func TestCatchupFetchBlockAbortsOnlyThatEpoch(t *testing.T) {
	env := newTestEnv(t)
	epochA := types.NewHash([]byte("epoch-a"))
	epochB := types.NewHash([]byte("epoch-b"))
	env.chain.stateSyncInfos = []types.StateSyncInfo{
		{EpochTailHash: epochA, Shards: []uint64{0}},
		{EpochTailHash: epochB, Shards: []uint64{1}},
	}

	env.coord.catchupStep()
	require.Len(t, env.coord.catchupSyncs, 2)
	driverA := env.coord.catchupSyncs[epochA].stateSync.(*fakeStateSync)
	driverB := env.coord.catchupSyncs[epochB].stateSync.(*fakeStateSync)

	// A catchup anchor is always a block we already processed, so a driver
	// asking to fetch it trips an invariant. Only that epoch's pass aborts.
	driverA.results = []StateSyncResult{{Outcome: StateSyncChanged, FetchBlock: true}}

	require.NotPanics(t, func() { env.coord.catchupStep() })

	assert.Len(t, driverA.runs, 2)
	assert.Len(t, driverB.runs, 2)
	assert.Len(t, env.coord.catchupSyncs, 2)
}

func TestCatchupDriverErrorKeepsSiblingsRunning(t *testing.T) {
	env := newTestEnv(t)
	epochA := types.NewHash([]byte("epoch-a"))
	epochB := types.NewHash([]byte("epoch-b"))
	env.chain.stateSyncInfos = []types.StateSyncInfo{
		{EpochTailHash: epochA, Shards: []uint64{0}},
		{EpochTailHash: epochB, Shards: []uint64{1}},
	}

	env.coord.catchupStep()
	driverA := env.coord.catchupSyncs[epochA].stateSync.(*fakeStateSync)
	driverB := env.coord.catchupSyncs[epochB].stateSync.(*fakeStateSync)
	driverA.err = errors.New("no peers track shard 0")

	env.coord.catchupStep()
	assert.Len(t, driverA.runs, 2)
	assert.Len(t, driverB.runs, 2)
}

func TestCatchupIterateError(t *testing.T) {
	env := newTestEnv(t)
	env.chain.stateSyncInfosErr = errors.New("store unavailable")

	require.NotPanics(t, func() { env.coord.catchupStep() })
	assert.Empty(t, env.coord.catchupSyncs)
	assert.Len(t, env.stateSyncs, 1)
}
