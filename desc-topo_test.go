package tsncase

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainTopo builds E0 - B0 - B1 - ... - E1, backbone links at 1 Gb/s and access links at accessBw
func chainTopo(t *testing.T, bridges int, accessBw float64) *Topology {
	t.Helper()
	topo := CreateTopology("chain")
	for idx := 0; idx < bridges; idx++ {
		_, err := topo.AddBridge(fmt.Sprintf("B%d", idx), 4, 1e9)
		require.NoError(t, err)
	}
	for idx := 0; idx < 2; idx++ {
		_, err := topo.AddEndStation(fmt.Sprintf("E%d", idx), 1e9)
		require.NoError(t, err)
	}
	for idx := 0; idx+1 < bridges; idx++ {
		_, err := topo.ConnectNodes(fmt.Sprintf("B%d", idx), fmt.Sprintf("B%d", idx+1), 1e9, 1e-5)
		require.NoError(t, err)
	}
	_, err := topo.ConnectNodes("E0", "B0", accessBw, 1e-6)
	require.NoError(t, err)
	_, err = topo.ConnectNodes(fmt.Sprintf("B%d", bridges-1), "E1", accessBw, 1e-6)
	require.NoError(t, err)
	return topo
}

func TestAddNodeChecks(t *testing.T) {
	topo := CreateTopology("nodes")
	_, err := topo.AddBridge("B0", 4, 1e9)
	require.NoError(t, err)

	tests := []struct {
		name     string
		node     string
		kind     NodeKind
		numPorts int
	}{
		{"duplicate name", "B0", BridgeKind, 4},
		{"empty name", "", BridgeKind, 4},
		{"end-station with two ports", "E0", EndStationKind, 2},
		{"bridge with one port", "B1", BridgeKind, 1},
		{"unknown kind", "X0", UnknownKind, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := topo.AddNode(tt.node, tt.kind, tt.numPorts, 1e9, UniformShares(DefaultClassShare))
			assert.ErrorIs(t, err, ErrInvalidEndpoint)
		})
	}
	assert.Len(t, topo.Nodes, 1)
}

func TestConnect(t *testing.T) {
	topo := CreateTopology("links")
	b0, err := topo.AddBridge("B0", 4, 1e9)
	require.NoError(t, err)
	b1, err := topo.AddBridge("B1", 4, 1e9)
	require.NoError(t, err)
	e0, err := topo.AddEndStation("E0", 1e8)
	require.NoError(t, err)

	link, err := topo.Connect(b0.Ports[0], b1.Ports[0], 1e9, 1e-5)
	require.NoError(t, err)
	assert.Equal(t, "L0", link.Name)
	assert.True(t, b0.Ports[0].Occupied())
	assert.Equal(t, 1, b0.Degree())

	t.Run("same port pair", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[0], b1.Ports[0], 1e9, 1e-5)
		assert.ErrorIs(t, err, ErrDuplicateLink)
	})
	t.Run("parallel link", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[1], b1.Ports[1], 1e9, 1e-5)
		assert.ErrorIs(t, err, ErrDuplicateLink)
	})
	t.Run("occupied port", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[0], e0.Ports[0], 1e8, 1e-6)
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})
	t.Run("same node", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[1], b0.Ports[2], 1e9, 1e-5)
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})
	t.Run("foreign port", func(t *testing.T) {
		other := CreateTopology("other")
		x, err := other.AddBridge("X", 2, 1e9)
		require.NoError(t, err)
		_, err = topo.Connect(b0.Ports[1], x.Ports[0], 1e9, 1e-5)
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})
	t.Run("bandwidth above port rate", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[1], e0.Ports[0], 1e9, 1e-6)
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})
	t.Run("negative delay", func(t *testing.T) {
		_, err := topo.Connect(b0.Ports[1], e0.Ports[0], 1e8, -1)
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})

	// failed attempts leave nothing behind
	assert.Len(t, topo.Links, 1)
	assert.False(t, e0.Ports[0].Occupied())

	// zero bandwidth takes the slower port rate
	access, err := topo.Connect(b0.Ports[1], e0.Ports[0], 0, 1e-6)
	require.NoError(t, err)
	assert.Equal(t, 1e8, access.Bandwidth)
	assert.True(t, access.IsAccess())
	assert.False(t, link.IsAccess())
}

func TestQueries(t *testing.T) {
	topo := chainTopo(t, 2, 1e8)

	assert.ElementsMatch(t, []string{"B1", "E0"}, topo.Neighbors("B0"))
	assert.Equal(t, []string{"B0"}, topo.Neighbors("E0"))
	assert.Nil(t, topo.Neighbors("nobody"))

	links := topo.IncidentLinks("E0", "p0")
	require.Len(t, links, 1)
	assert.True(t, links[0].Touches("B0"))
	assert.Empty(t, topo.IncidentLinks("B0", "p3"))

	assert.NotNil(t, topo.LinkBetween("B0", "B1"))
	assert.Nil(t, topo.LinkBetween("E0", "E1"))

	assert.Len(t, topo.Bridges(), 2)
	assert.Len(t, topo.EndStations(), 2)
}

func TestLinkBudget(t *testing.T) {
	topo := chainTopo(t, 1, 1e8)
	station, _ := topo.Node("E0")
	station.Ports[0].Partition[7] = 0.25

	link := topo.LinkBetween("E0", "B0")
	lb := link.Budget()
	assert.Equal(t, 1e8, lb.Capacity)
	assert.InDelta(t, 0.25e8, lb.ClassLimit(7), 1)
	assert.InDelta(t, 0.75e8, lb.ClassLimit(0), 1)
}

func TestTopoDescRoundTrip(t *testing.T) {
	topo := chainTopo(t, 3, 1e8)
	td := topo.Transform()

	rebuilt, err := td.Build()
	require.NoError(t, err)
	assert.Equal(t, td, rebuilt.Transform())

	t.Run("unknown port", func(t *testing.T) {
		bad := topo.Transform()
		bad.Links[0].PortA = "p9"
		_, err := bad.Build()
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})
	t.Run("duplicate link", func(t *testing.T) {
		bad := topo.Transform()
		bad.Links = append(bad.Links, bad.Links[0])
		_, err := bad.Build()
		assert.Error(t, err)
	})
}

func TestSharesFromSlice(t *testing.T) {
	cs, err := SharesFromSlice(nil)
	require.NoError(t, err)
	assert.Equal(t, UniformShares(DefaultClassShare), cs)

	_, err = SharesFromSlice([]float64{0.5, 0.5})
	assert.Error(t, err)

	_, err = SharesFromSlice([]float64{0, 0, 0, 0, 0, 0, 0, 1.5})
	assert.Error(t, err)
}

func TestNodeKindStrings(t *testing.T) {
	for _, kind := range []NodeKind{BridgeKind, EndStationKind} {
		assert.Equal(t, kind, NodeKindFromStr(NodeKindToStr(kind)))
	}
	assert.Equal(t, UnknownKind, NodeKindFromStr("router"))
}
