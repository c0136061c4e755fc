package statesync

import (
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/pmnoxx/nearcore/chain"
	"github.com/pmnoxx/nearcore/p2p"
	"github.com/pmnoxx/nearcore/types"
)

//-----------------------------------------------------------------------------
// Fake chain
//
// testChain implements chain.Chain over an in-memory database. Downloaded
// headers and parts are stored under ordered keys so tests can assert on
// exactly what was applied; failures are scripted per operation.

type syncResults struct {
	accepted      []types.AcceptedBlock
	missingChunks [][]types.PendingChunk
	challenges    []types.Challenge
}

type testChain struct {
	db dbm.DB

	head       types.Tip
	headerHead types.Tip
	genesis    *types.BlockHeader
	headers    map[types.Hash]*types.BlockHeader
	blocks     map[types.Hash]bool

	setHeaderErr error
	setPartErr   error
	headErr      error

	resetDataCalls  []types.Hash
	resetHeadsCalls []types.Hash
	catchupCalls    []types.Hash

	resetHeadsResults syncResults
	catchupResults    syncResults

	stateSyncInfos    []types.StateSyncInfo
	stateSyncInfosErr error
}

var _ chain.Chain = (*testChain)(nil)

func newTestChain() *testChain {
	genesis := &types.BlockHeader{
		Height: 0,
		Hash:   types.NewHash([]byte("genesis")),
	}
	return &testChain{
		db:      dbm.NewMemDB(),
		genesis: genesis,
		headers: map[types.Hash]*types.BlockHeader{genesis.Hash: genesis},
		blocks:  make(map[types.Hash]bool),
	}
}

// addChain appends n blocks on top of the genesis and returns the headers in
// height order (genesis excluded). Every block is also marked as locally
// known unless the test clears c.blocks.
func (c *testChain) addChain(n int) []*types.BlockHeader {
	headers := make([]*types.BlockHeader, 0, n)
	prev := c.genesis
	for i := 1; i <= n; i++ {
		header := &types.BlockHeader{
			Height:   uint64(i),
			Hash:     types.NewHash([]byte(fmt.Sprintf("block-%d", i))),
			PrevHash: prev.Hash,
		}
		c.headers[header.Hash] = header
		c.blocks[header.Hash] = true
		headers = append(headers, header)
		prev = header
	}
	c.head = types.Tip{
		Height:        prev.Height,
		LastBlockHash: prev.Hash,
		PrevBlockHash: prev.PrevHash,
	}
	c.headerHead = c.head
	return headers
}

func (c *testChain) Head() (types.Tip, error) {
	if c.headErr != nil {
		return types.Tip{}, c.headErr
	}
	return c.head, nil
}

func (c *testChain) HeaderHead() (types.Tip, error) { return c.headerHead, nil }

func (c *testChain) Genesis() *types.BlockHeader { return c.genesis }

func (c *testChain) GetBlockHeader(hash types.Hash) (*types.BlockHeader, error) {
	header, ok := c.headers[hash]
	if !ok {
		return nil, fmt.Errorf("header %v not found", hash)
	}
	return header, nil
}

func (c *testChain) BlockExists(hash types.Hash) (bool, error) {
	return c.blocks[hash], nil
}

func (c *testChain) SetStateHeader(shardID uint64, syncHash types.Hash, header *types.ShardStateHeader) error {
	if c.setHeaderErr != nil {
		return c.setHeaderErr
	}
	return c.db.Set(stateHeaderKey(shardID, syncHash), header.Data)
}

func (c *testChain) SetStatePart(shardID uint64, syncHash types.Hash, partID, numParts uint64, data []byte) error {
	if c.setPartErr != nil {
		return c.setPartErr
	}
	return c.db.Set(statePartKey(shardID, syncHash, partID), data)
}

func (c *testChain) hasStateHeader(shardID uint64, syncHash types.Hash) bool {
	ok, err := c.db.Has(stateHeaderKey(shardID, syncHash))
	return err == nil && ok
}

func (c *testChain) hasStatePart(shardID uint64, syncHash types.Hash, partID uint64) bool {
	ok, err := c.db.Has(statePartKey(shardID, syncHash, partID))
	return err == nil && ok
}

func (c *testChain) ResetDataPreStateSync(syncHash types.Hash) error {
	c.resetDataCalls = append(c.resetDataCalls, syncHash)
	return nil
}

func (c *testChain) ResetHeadsPostStateSync(
	me types.AccountID,
	syncHash types.Hash,
	onAccepted func(types.AcceptedBlock),
	onMissingChunks func([]types.PendingChunk),
	onChallenge func(types.Challenge),
) error {
	c.resetHeadsCalls = append(c.resetHeadsCalls, syncHash)
	emitSyncResults(c.resetHeadsResults, onAccepted, onMissingChunks, onChallenge)
	return nil
}

func (c *testChain) CatchupBlocks(
	me types.AccountID,
	syncHash types.Hash,
	onAccepted func(types.AcceptedBlock),
	onMissingChunks func([]types.PendingChunk),
	onChallenge func(types.Challenge),
) error {
	c.catchupCalls = append(c.catchupCalls, syncHash)
	emitSyncResults(c.catchupResults, onAccepted, onMissingChunks, onChallenge)
	return nil
}

func (c *testChain) IterateStateSyncInfos() ([]types.StateSyncInfo, error) {
	return c.stateSyncInfos, c.stateSyncInfosErr
}

func emitSyncResults(
	results syncResults,
	onAccepted func(types.AcceptedBlock),
	onMissingChunks func([]types.PendingChunk),
	onChallenge func(types.Challenge),
) {
	for _, block := range results.accepted {
		onAccepted(block)
	}
	for _, chunks := range results.missingChunks {
		onMissingChunks(chunks)
	}
	for _, challenge := range results.challenges {
		onChallenge(challenge)
	}
}

func stateHeaderKey(shardID uint64, syncHash types.Hash) []byte {
	key, err := orderedcode.Append(nil, "sh", shardID, syncHash.String())
	if err != nil {
		panic(err)
	}
	return key
}

func statePartKey(shardID uint64, syncHash types.Hash, partID uint64) []byte {
	key, err := orderedcode.Append(nil, "sp", shardID, syncHash.String(), partID)
	if err != nil {
		panic(err)
	}
	return key
}

//-----------------------------------------------------------------------------
// Fake drivers

type fakeHeaderSync struct {
	runs int
	run  func(state *SyncState, highestHeight uint64) error
}

func (h *fakeHeaderSync) Run(state *SyncState, c chain.Chain, highestHeight uint64, peers []p2p.FullPeerInfo) error {
	h.runs++
	if h.run != nil {
		return h.run(state, highestHeight)
	}
	return nil
}

type fakeBlockSync struct {
	runs      int
	needState bool
	err       error
}

func (b *fakeBlockSync) Run(state *SyncState, c chain.Chain, highestHeight uint64, peers []p2p.FullPeerInfo) (bool, error) {
	b.runs++
	return b.needState, b.err
}

type stateSyncRun struct {
	syncHash       types.Hash
	trackingShards []uint64
}

type fakeStateSync struct {
	runs    []stateSyncRun
	results []StateSyncResult
	err     error

	// run, if set, mutates the episode the way a real driver would (e.g.
	// seeding trackers for tracking shards).
	run func(syncHash types.Hash, downloads map[uint64]*ShardSyncDownload, trackingShards []uint64)

	acks []msgPartReceived

	epochStarts map[types.Hash]types.Hash
}

func (s *fakeStateSync) Run(
	me types.AccountID,
	syncHash types.Hash,
	downloads map[uint64]*ShardSyncDownload,
	c chain.Chain,
	peers []p2p.FullPeerInfo,
	trackingShards []uint64,
) (StateSyncResult, error) {
	s.runs = append(s.runs, stateSyncRun{syncHash: syncHash, trackingShards: trackingShards})
	if s.run != nil {
		s.run(syncHash, downloads, trackingShards)
	}
	if s.err != nil {
		return StateSyncResult{}, s.err
	}
	if len(s.results) == 0 {
		return StateSyncResult{Outcome: StateSyncUnchanged}, nil
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, nil
}

func (s *fakeStateSync) ReceivedRequestedPart(partID, shardID uint64, syncHash types.Hash) {
	s.acks = append(s.acks, msgPartReceived{partID: partID, shardID: shardID, syncHash: syncHash})
}

func (s *fakeStateSync) EpochStartSyncHash(c chain.Chain, hash types.Hash) (types.Hash, error) {
	if start, ok := s.epochStarts[hash]; ok {
		return start, nil
	}
	return types.Hash{}, fmt.Errorf("no epoch start scripted for %v", hash)
}

//-----------------------------------------------------------------------------
// Fake collaborators

type fakeRuntime struct {
	numShards uint64
}

func (r *fakeRuntime) NumShards() uint64 { return r.numShards }

type chunkRequest struct {
	chunks     []types.PendingChunk
	headerHead types.Tip
	version    uint32
}

type fakeShardsManager struct {
	// caresAbout lists the shards this node tracks; nil means all shards.
	caresAbout    map[uint64]bool
	chunkRequests []chunkRequest
}

func (m *fakeShardsManager) CaresAboutShardThisOrNextEpoch(me types.AccountID, parentHash types.Hash, shardID uint64) bool {
	if m.caresAbout == nil {
		return true
	}
	return m.caresAbout[shardID]
}

func (m *fakeShardsManager) RequestChunks(chunks []types.PendingChunk, headerHead types.Tip, protocolVersion uint32) {
	m.chunkRequests = append(m.chunkRequests, chunkRequest{
		chunks:     chunks,
		headerHead: headerHead,
		version:    protocolVersion,
	})
}

type blockRequest struct {
	hash   types.Hash
	peerID p2p.ID
}

type fakeNetwork struct {
	blockRequests []blockRequest
}

func (n *fakeNetwork) RequestBlock(hash types.Hash, peerID p2p.ID) {
	n.blockRequests = append(n.blockRequests, blockRequest{hash: hash, peerID: peerID})
}

// fakeDownstream records every forwarded event in arrival order so tests can
// assert on relative ordering.
type fakeDownstream struct {
	events     []string
	accepted   [][]types.AcceptedBlock
	challenges [][]types.Challenge
	announces  []types.Hash
}

func (d *fakeDownstream) ProcessAcceptedBlocks(blocks []types.AcceptedBlock) {
	d.events = append(d.events, fmt.Sprintf("accepted:%d", len(blocks)))
	d.accepted = append(d.accepted, blocks)
}

func (d *fakeDownstream) SendChallenges(challenges []types.Challenge) {
	d.events = append(d.events, fmt.Sprintf("challenges:%d", len(challenges)))
	d.challenges = append(d.challenges, challenges)
}

func (d *fakeDownstream) CheckSendAnnounceAccount(prevHash types.Hash) {
	d.events = append(d.events, "announce")
	d.announces = append(d.announces, prevHash)
}

type closedGate struct{}

func (closedGate) SyncAllowed() bool { return false }

//-----------------------------------------------------------------------------
// Peer helpers

func makePeer(id string, height uint64) p2p.FullPeerInfo {
	return p2p.FullPeerInfo{
		PeerInfo:  p2p.PeerInfo{ID: p2p.ID(id)},
		ChainInfo: p2p.ChainInfo{Height: height},
	}
}

func networkInfoWithPeers(peers ...p2p.FullPeerInfo) p2p.NetworkInfo {
	return p2p.NetworkInfo{
		ActivePeers:        peers,
		NumActivePeers:     len(peers),
		HighestHeightPeers: peers,
	}
}
