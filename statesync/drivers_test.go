package statesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmnoxx/nearcore/p2p"
)

func TestHighestHeightPeer(t *testing.T) {
	assert.Nil(t, HighestHeightPeer(nil))

	peers := []p2p.FullPeerInfo{
		makePeer("c", 10),
		makePeer("a", 12),
		makePeer("b", 11),
	}
	best := HighestHeightPeer(peers)
	require.NotNil(t, best)
	assert.Equal(t, p2p.ID("a"), best.PeerInfo.ID)
	assert.Equal(t, uint64(12), best.ChainInfo.Height)
}

func TestHighestHeightPeerTieBreaksByID(t *testing.T) {
	// Equal heights resolve to the lowest peer id regardless of input order.
	forward := HighestHeightPeer([]p2p.FullPeerInfo{
		makePeer("b", 10), makePeer("a", 10), makePeer("c", 10),
	})
	reversed := HighestHeightPeer([]p2p.FullPeerInfo{
		makePeer("c", 10), makePeer("a", 10), makePeer("b", 10),
	})
	require.NotNil(t, forward)
	require.NotNil(t, reversed)
	assert.Equal(t, p2p.ID("a"), forward.PeerInfo.ID)
	assert.Equal(t, p2p.ID("a"), reversed.PeerInfo.ID)
}
