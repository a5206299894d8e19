package tsncase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHopDistance(t *testing.T) {
	topo := chainTopo(t, 3, 1e8)

	hops, reachable := topo.HopDistance("E0", "E1")
	require.True(t, reachable)
	assert.Equal(t, 4, hops)

	nodes, reachable := topo.ShortestPath("E0", "E1")
	require.True(t, reachable)
	assert.Equal(t, []string{"E0", "B0", "B1", "B2", "E1"}, nodes)
	assert.Equal(t, []string{"L2", "L0", "L1", "L3"}, topo.linksAlong(nodes))

	_, reachable = topo.HopDistance("E0", "nobody")
	assert.False(t, reachable)
}

func TestLatencyDistance(t *testing.T) {
	topo := chainTopo(t, 2, 1e8)

	// 2 access hops of 1us + 1000 bytes at 100Mb/s, one backbone hop of 10us + 1000 bytes at 1Gb/s
	want := 2*(1e-6+8000/1e8) + (1e-5 + 8000/1e9)
	latency, reachable := topo.LatencyDistance("E0", "E1", 1000)
	require.True(t, reachable)
	assert.InDelta(t, want, latency, 1e-12)
}

func TestLatencyPrefersFastPath(t *testing.T) {
	// B0 and B2 are joined directly by a slow link and through B1 by fast ones
	topo := chainTopo(t, 3, 1e8)
	_, err := topo.ConnectNodes("B0", "B2", 1e6, 1e-5)
	require.NoError(t, err)

	hops, _ := topo.HopDistance("E0", "E1")
	assert.Equal(t, 3, hops)

	spTree, _ := topo.spTree("E0", latencyWeight(1500))
	nodes, _, reachable := topo.pathTo(spTree, "E1")
	require.True(t, reachable)
	assert.Equal(t, []string{"E0", "B0", "B1", "B2", "E1"}, nodes)
}

func TestIsConnected(t *testing.T) {
	topo := chainTopo(t, 2, 1e8)
	assert.True(t, topo.IsConnected())

	_, err := topo.AddBridge("B9", 2, 1e9)
	require.NoError(t, err)
	assert.False(t, topo.IsConnected())

	_, reachable := topo.HopDistance("E0", "B9")
	assert.False(t, reachable)
}
