package statesync

import (
	"fmt"
	"time"

	"github.com/pmnoxx/nearcore/chain"
	"github.com/pmnoxx/nearcore/config"
	"github.com/pmnoxx/nearcore/libs/log"
	"github.com/pmnoxx/nearcore/libs/service"
	"github.com/pmnoxx/nearcore/p2p"
	"github.com/pmnoxx/nearcore/types"
	"github.com/pmnoxx/nearcore/version"
)

const msgQueueSize = 1000

// Coordinator drives the node from "behind" to "caught up". It owns the
// global sync phase, runs the phase-selection tick on a timer, folds inbound
// network responses into the download trackers, and runs the catchup job
// that pre-fetches next-epoch shard state for validators.
//
// All state is owned by a single goroutine: the tick timers, the catchup
// timer and the inbound messages are multiplexed onto one select loop, so a
// tick always observes trackers between response updates and no locking is
// needed. Suspension points are between ticks, never within one.
type Coordinator struct {
	service.BaseService

	cfg     *config.SyncConfig
	me      types.AccountID
	archive bool

	chain     chain.Chain
	runtime   RuntimeAdapter
	shardsMgr ShardsManager
	network   p2p.NetworkAdapter

	headerSync   HeaderSyncDriver
	blockSync    BlockSyncDriver
	stateSync    StateSyncDriver
	newStateSync func() StateSyncDriver

	gate    Gate
	metrics *Metrics

	// Owned by the receive routine.
	state        *SyncState
	catchupSyncs map[types.Hash]*catchupEntry
	networkInfo  p2p.NetworkInfo
	downstream   Downstream
	syncStarted  bool

	msgQueue chan message
}

// CoordinatorOption sets an optional parameter on the Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = metrics }
}

// WithGate sets the sync gate consulted before every sync decision.
func WithGate(gate Gate) CoordinatorOption {
	return func(c *Coordinator) { c.gate = gate }
}

// NewCoordinator returns a sync coordinator. The newStateSync factory is
// invoked once for the main episode and once per catchup episode, so every
// episode gets its own driver and progress stays independent across epochs.
func NewCoordinator(
	cfg *config.SyncConfig,
	me types.AccountID,
	archive bool,
	ch chain.Chain,
	runtime RuntimeAdapter,
	shardsMgr ShardsManager,
	network p2p.NetworkAdapter,
	headerSync HeaderSyncDriver,
	blockSync BlockSyncDriver,
	newStateSync func() StateSyncDriver,
	options ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		me:           me,
		archive:      archive,
		chain:        ch,
		runtime:      runtime,
		shardsMgr:    shardsMgr,
		network:      network,
		headerSync:   headerSync,
		blockSync:    blockSync,
		stateSync:    newStateSync(),
		newStateSync: newStateSync,
		gate:         openGate{},
		metrics:      NopMetrics(),
		state:        NewSyncState(),
		catchupSyncs: make(map[types.Hash]*catchupEntry),
		msgQueue:     make(chan message, msgQueueSize),
	}
	c.BaseService = *service.NewBaseService(nil, "SyncCoordinator", c)
	for _, option := range options {
		option(c)
	}
	return c
}

// SetLogger implements service.Service.
func (c *Coordinator) SetLogger(l log.Logger) {
	c.BaseService.Logger = l
}

// OnStart implements service.Service.
func (c *Coordinator) OnStart() error {
	go c.receiveRoutine()
	return nil
}

//-----------------------------------------------------------------------------
// Inbound surface. Safe for use from any goroutine: each call enqueues a
// message for the receive routine.

// SetDownstream registers the handle to the downstream client component.
// Must be called before the first sync transition completes.
func (c *Coordinator) SetDownstream(d Downstream) {
	c.send(msgSetDownstream{downstream: d})
}

// OnNetworkInfo publishes a new snapshot of the peer set.
func (c *Coordinator) OnNetworkInfo(info p2p.NetworkInfo) {
	c.send(msgNetworkInfo{info: info})
}

// OnPartReceived records that a requested state part was delivered.
func (c *Coordinator) OnPartReceived(partID, shardID uint64, syncHash types.Hash) {
	c.send(msgPartReceived{partID: partID, shardID: shardID, syncHash: syncHash})
}

// OnStateResponse routes an inbound shard-state response (header or part)
// into the matching download tracker.
func (c *Coordinator) OnStateResponse(resp *StateResponse) {
	c.send(msgStateResponse{resp: resp})
}

func (c *Coordinator) send(msg message) {
	select {
	case c.msgQueue <- msg:
	case <-c.Quit():
	}
}

//-----------------------------------------------------------------------------
// Receive routine

func (c *Coordinator) receiveRoutine() {
	syncTimer := time.NewTimer(c.cfg.SyncStepPeriod)
	defer syncTimer.Stop()
	catchupTimer := time.NewTimer(c.cfg.CatchupStepPeriod)
	defer catchupTimer.Stop()

	for {
		select {
		case msg := <-c.msgQueue:
			c.handleMessage(msg)
		case <-syncTimer.C:
			syncTimer.Reset(c.syncStep())
		case <-catchupTimer.C:
			c.catchupStep()
			catchupTimer.Reset(c.cfg.CatchupStepPeriod)
		case <-c.Quit():
			return
		}
	}
}

func (c *Coordinator) handleMessage(msg message) {
	switch msg := msg.(type) {
	case msgSetDownstream:
		c.downstream = msg.downstream
	case msgNetworkInfo:
		c.networkInfo = msg.info
	case msgPartReceived:
		c.driverFor(msg.syncHash).ReceivedRequestedPart(msg.partID, msg.shardID, msg.syncHash)
	case msgStateResponse:
		c.handleStateResponse(msg.resp)
	default:
		panic(fmt.Sprintf("unknown message type %T", msg))
	}
}

// driverFor returns the state sync driver owning the episode anchored at
// syncHash, falling back to the main driver when no catchup entry matches.
func (c *Coordinator) driverFor(syncHash types.Hash) StateSyncDriver {
	if entry, ok := c.catchupSyncs[syncHash]; ok {
		return entry.stateSync
	}
	return c.stateSync
}

func (c *Coordinator) mustDownstream() Downstream {
	if c.downstream == nil {
		panic("statesync: downstream handle used before registration")
	}
	return c.downstream
}

//-----------------------------------------------------------------------------
// Sync tick

// syncStep runs one coordinator tick and returns the delay until the next
// one. A failing tick is logged and retried at the active period; the
// coordinator never terminates on error.
func (c *Coordinator) syncStep() time.Duration {
	// Wait for connections to reach the minimum peer count, unless the wait
	// is skipped.
	if !c.syncStarted {
		if c.networkInfo.NumActivePeers < c.cfg.MinNumPeers && !c.cfg.SkipSyncWait {
			return c.cfg.SyncStepPeriod
		}
		c.syncStarted = true
	}

	wait, err := c.sync()
	if err != nil {
		c.Logger.Error("sync: unexpected error", "err", err)
		return c.cfg.SyncStepPeriod
	}
	return wait
}

// sync is the main syncing job, responsible for syncing this node with other
// peers. One invocation is one tick.
func (c *Coordinator) sync() (time.Duration, error) {
	currentlySyncing := c.state.IsSyncing()
	needsSyncing, highestHeight, err := c.syncingInfo()
	if err != nil {
		return 0, err
	}

	if !c.syncAllowed(needsSyncing) {
		if currentlySyncing {
			c.Logger.Debug("sync: transitioning to NoSync", "me", c.me)
			c.state.Set(StatusNoSync{})
			c.metrics.Syncing.Set(0)

			// Initial transition out of the syncing state. Announce this
			// node's account if its epoch is coming up.
			head, err := c.chain.Head()
			if err != nil {
				return 0, err
			}
			c.mustDownstream().CheckSendAnnounceAccount(head.PrevBlockHash)
		}
		return c.cfg.SyncCheckPeriod, nil
	}

	c.metrics.Syncing.Set(1)
	peers := c.networkInfo.HighestHeightPeers

	// Run each syncing step separately.
	if err := c.headerSync.Run(c.state, c.chain, highestHeight, peers); err != nil {
		return 0, err
	}

	headerHead, err := c.chain.HeaderHead()
	if err != nil {
		return 0, err
	}

	// State sync runs if it is already running, or if block sync reports the
	// gap is too large to fill block by block. Block sync itself only runs
	// once the header head is close enough to the network; an episode that
	// already entered StateSync is not re-gated by the horizon check.
	runState := false
	switch c.state.Get().(type) {
	case StatusStateSync:
		runState = true
	default:
		if headerHead.Height+c.cfg.BlockHeaderFetchHorizon >= highestHeight {
			if runState, err = c.blockSync.Run(c.state, c.chain, highestHeight, peers); err != nil {
				return 0, err
			}
		}
	}

	if runState {
		if err := c.runStateSync(peers); err != nil {
			return 0, err
		}
	}

	return c.cfg.SyncStepPeriod, nil
}

// syncingInfo decides whether this node needs to (keep) sync(ing), and
// returns the highest height reported by any known peer. The decision has
// hysteresis: an actively syncing node stops only once a peer's height is at
// or below ours, and an idle node starts only once a peer is more than
// SyncHeightThreshold ahead. The band in between keeps the phase stable when
// heights are close.
func (c *Coordinator) syncingInfo() (bool, uint64, error) {
	head, err := c.chain.Head()
	if err != nil {
		return false, 0, err
	}

	peer := HighestHeightPeer(c.networkInfo.HighestHeightPeers)
	if peer == nil {
		if !c.cfg.SkipSyncWait {
			c.Logger.Info("sync: no peers available, disabling sync")
		}
		return false, 0, nil
	}

	isSyncing := c.state.IsSyncing()
	switch {
	case isSyncing && peer.ChainInfo.Height <= head.Height:
		c.Logger.Info("sync: synced",
			"height", head.Height,
			"hash", head.LastBlockHash.Fingerprint(),
			"peer", peer.PeerInfo.ID,
			"peer_height", peer.ChainInfo.Height,
		)
		isSyncing = false
	case !isSyncing && peer.ChainInfo.Height > head.Height+c.cfg.SyncHeightThreshold:
		c.Logger.Info("sync: height is too far behind, enabling sync",
			"height", head.Height,
			"peer", peer.PeerInfo.ID,
			"peer_height", peer.ChainInfo.Height,
		)
		isSyncing = true
	}

	return isSyncing, peer.ChainInfo.Height, nil
}

func (c *Coordinator) syncAllowed(needsSyncing bool) bool {
	if !c.gate.SyncAllowed() {
		return false
	}
	return needsSyncing
}

//-----------------------------------------------------------------------------
// State sync

// runStateSync runs one pass of the main state sync episode, creating the
// episode first if the phase is just entering StateSync.
func (c *Coordinator) runStateSync(peers []p2p.FullPeerInfo) error {
	var (
		syncHash    types.Hash
		downloads   map[uint64]*ShardSyncDownload
		justEntered bool
	)
	if st, ok := c.state.Get().(StatusStateSync); ok {
		syncHash, downloads = st.SyncHash, st.Downloads
	} else {
		var err error
		if syncHash, err = c.findSyncHash(); err != nil {
			return err
		}
		downloads = make(map[uint64]*ShardSyncDownload)
		justEntered = true
	}

	var trackingShards []uint64
	for shardID := uint64(0); shardID < c.runtime.NumShards(); shardID++ {
		if c.shardsMgr.CaresAboutShardThisOrNextEpoch(c.me, syncHash, shardID) {
			trackingShards = append(trackingShards, shardID)
		}
	}

	// Purge pre-sync chain data once per episode, before the first download
	// request goes out. Archival nodes keep everything.
	if justEntered && !c.archive {
		if err := c.chain.ResetDataPreStateSync(syncHash); err != nil {
			return err
		}
	}

	res, err := c.stateSync.Run(c.me, syncHash, downloads, c.chain, peers, trackingShards)
	if err != nil {
		return err
	}

	switch res.Outcome {
	case StateSyncUnchanged:
	case StateSyncChanged:
		c.state.Set(StatusStateSync{SyncHash: syncHash, Downloads: downloads})
		if res.FetchBlock {
			c.fetchSyncBlocks(syncHash, peers)
		}
	case StateSyncCompleted:
		if err := c.finishStateSync(syncHash); err != nil {
			return err
		}
	}
	return nil
}

// findSyncHash selects the block hash used to anchor state sync: the first
// block of the epoch containing the block StateFetchHorizon blocks behind
// the header head. The walk-back avoids anchoring on a fork tip; it is only
// relevant near epoch boundaries, since the horizon is much shorter than an
// epoch.
func (c *Coordinator) findSyncHash() (types.Hash, error) {
	headerHead, err := c.chain.HeaderHead()
	if err != nil {
		return types.Hash{}, err
	}

	syncHash := headerHead.PrevBlockHash
	for i := uint64(0); i < c.cfg.StateFetchHorizon; i++ {
		header, err := c.chain.GetBlockHeader(syncHash)
		if err != nil {
			return types.Hash{}, err
		}
		syncHash = header.PrevHash
	}

	epochStart, err := c.stateSync.EpochStartSyncHash(c.chain, syncHash)
	if err != nil {
		return types.Hash{}, err
	}

	if epochStart == c.chain.Genesis().Hash {
		// Within StateFetchHorizon blocks of the second epoch the walk-back
		// lands in the genesis epoch, and state sync cannot target the
		// genesis block. Redo the search from the current header head.
		epochStart, err = c.stateSync.EpochStartSyncHash(c.chain, headerHead.LastBlockHash)
		if err != nil {
			return types.Hash{}, err
		}
		if epochStart == c.chain.Genesis().Hash {
			return types.Hash{}, fmt.Errorf("state sync anchor resolved to the genesis block %v", epochStart)
		}
	}
	return epochStart, nil
}

// fetchSyncBlocks requests the sync anchor block and its predecessor from
// the best known peer. The chain needs both to rebuild heads once the
// snapshot is applied.
func (c *Coordinator) fetchSyncBlocks(syncHash types.Hash, peers []p2p.FullPeerInfo) {
	peer := HighestHeightPeer(peers)
	if peer == nil {
		return
	}
	header, err := c.chain.GetBlockHeader(syncHash)
	if err != nil {
		c.Logger.Error("sync: failed to look up sync hash header", "sync_hash", syncHash, "err", err)
		return
	}
	c.requestBlockByHash(header.PrevHash, peer.PeerInfo.ID)
	c.requestBlockByHash(header.Hash, peer.PeerInfo.ID)
}

func (c *Coordinator) requestBlockByHash(hash types.Hash, peerID p2p.ID) {
	exists, err := c.chain.BlockExists(hash)
	switch {
	case err != nil:
		c.Logger.Error("sync: failed to check block exists", "hash", hash, "err", err)
	case exists:
		c.Logger.Debug("sync: block request skipped, block already known", "hash", hash.Fingerprint())
	default:
		c.network.RequestBlock(hash, peerID)
	}
}

// finishStateSync applies the completed snapshot and moves the phase to body
// sync.
func (c *Coordinator) finishStateSync(syncHash types.Hash) error {
	c.Logger.Info("state sync: all shards are done", "sync_hash", syncHash.Fingerprint())

	collector := newSyncResultCollector()
	if err := c.chain.ResetHeadsPostStateSync(c.me, syncHash,
		collector.onAccepted, collector.onMissingChunks, collector.onChallenge); err != nil {
		return err
	}
	if err := c.forwardSyncResults(collector); err != nil {
		return err
	}

	c.state.Set(StatusBodySync{})
	return nil
}

// syncResultCollector gathers the three output streams produced while the
// chain replays blocks after a state sync. The streams carry no ordering
// guarantee relative to each other.
type syncResultCollector struct {
	accepted      []types.AcceptedBlock
	missingChunks [][]types.PendingChunk
	challenges    []types.Challenge
}

func newSyncResultCollector() *syncResultCollector {
	return &syncResultCollector{}
}

func (r *syncResultCollector) onAccepted(block types.AcceptedBlock) {
	r.accepted = append(r.accepted, block)
}

func (r *syncResultCollector) onMissingChunks(chunks []types.PendingChunk) {
	r.missingChunks = append(r.missingChunks, chunks)
}

func (r *syncResultCollector) onChallenge(challenge types.Challenge) {
	r.challenges = append(r.challenges, challenge)
}

// forwardSyncResults forwards challenges first, then accepted blocks, then
// issues a single consolidated chunk request covering the union of missing
// chunks across all replayed blocks.
func (c *Coordinator) forwardSyncResults(r *syncResultCollector) error {
	c.mustDownstream().SendChallenges(r.challenges)
	c.mustDownstream().ProcessAcceptedBlocks(r.accepted)

	headerHead, err := c.chain.HeaderHead()
	if err != nil {
		return err
	}
	var chunks []types.PendingChunk
	for _, missing := range r.missingChunks {
		chunks = append(chunks, missing...)
	}
	// Passing the node's current protocol version is fine: we are syncing
	// old blocks, so the version cannot change the request logic.
	c.shardsMgr.RequestChunks(chunks, headerHead, version.ProtocolVersion)
	return nil
}
