package tsncase

// graph.go converts a Topology into the data structures of the gonum graph package,
// which has the path discovery and connectivity algorithms we need.  Nodes of the
// gonum graph carry the Number of the NodeFrame they stand for.  The conversion is
// done per query so that a Topology holds no derived state and queries stay read-only.

import (
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// linkWeight gives the cost of traversing a link, and false when the link may not be used
type linkWeight func(link *LinkFrame) (float64, bool)

// hopWeight counts each link as one hop
func hopWeight(link *LinkFrame) (float64, bool) {
	return 1.0, true
}

// latencyWeight is the propagation delay plus the time to clock a frame of frameSize bytes onto the link
func latencyWeight(frameSize int) linkWeight {
	return func(link *LinkFrame) (float64, bool) {
		return link.Delay + transmitTime(frameSize, link.Bandwidth), true
	}
}

// buildConnGraph returns the weighted undirected gonum graph of the topology, holding every
// node and those links the weight function accepts
func (tp *Topology) buildConnGraph(weight linkWeight) *simple.WeightedUndirectedGraph {
	connGraph := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, node := range tp.Nodes {
		connGraph.AddNode(simple.Node(node.Number))
	}
	for _, link := range tp.Links {
		w, usable := weight(link)
		if !usable {
			continue
		}
		edge := simple.WeightedEdge{F: simple.Node(link.A.Node.Number), T: simple.Node(link.B.Node.Number), W: w}
		connGraph.SetWeightedEdge(edge)
	}
	return connGraph
}

// spTree computes the tree of shortest paths rooted in the named node
func (tp *Topology) spTree(from string, weight linkWeight) (path.Shortest, bool) {
	node, present := tp.nodeByName[from]
	if !present {
		return path.Shortest{}, false
	}
	return path.DijkstraFrom(simple.Node(node.Number), tp.buildConnGraph(weight)), true
}

// convertNodeSeq turns a sequence of gonum nodes (e.g. a path) into node names
func (tp *Topology) convertNodeSeq(nodeSeq []graph.Node) []string {
	rtn := make([]string, 0, len(nodeSeq))
	for _, gnode := range nodeSeq {
		rtn = append(rtn, tp.Nodes[gnode.ID()].Name)
	}
	return rtn
}

// pathTo extracts from a shortest path tree the node names from its root to the named node,
// along with the path weight.  The bool is false when the node is not reachable.
func (tp *Topology) pathTo(spTree path.Shortest, to string) ([]string, float64, bool) {
	node, present := tp.nodeByName[to]
	if !present {
		return nil, math.Inf(1), false
	}
	nodeSeq, weight := spTree.To(int64(node.Number))
	if len(nodeSeq) == 0 || math.IsInf(weight, 1) {
		return nil, math.Inf(1), false
	}
	return tp.convertNodeSeq(nodeSeq), weight, true
}

// linksAlong returns the names of the links joining consecutive nodes of a path
func (tp *Topology) linksAlong(nodes []string) []string {
	rtn := make([]string, 0, len(nodes))
	for idx := 1; idx < len(nodes); idx++ {
		link := tp.LinkBetween(nodes[idx-1], nodes[idx])
		if link == nil {
			return nil
		}
		rtn = append(rtn, link.Name)
	}
	return rtn
}

// ShortestPath returns the names of the nodes on a minimum-hop path between the two named nodes
func (tp *Topology) ShortestPath(from, to string) ([]string, bool) {
	spTree, present := tp.spTree(from, hopWeight)
	if !present {
		return nil, false
	}
	nodes, _, reachable := tp.pathTo(spTree, to)
	return nodes, reachable
}

// HopDistance is the number of links on a minimum-hop path between the two named nodes
func (tp *Topology) HopDistance(from, to string) (int, bool) {
	spTree, present := tp.spTree(from, hopWeight)
	if !present {
		return 0, false
	}
	_, weight, reachable := tp.pathTo(spTree, to)
	if !reachable {
		return 0, false
	}
	return int(math.Round(weight)), true
}

// LatencyDistance is the smallest propagation plus store-and-forward transmission latency
// a frame of frameSize bytes can see between the two named nodes, ignoring queuing
func (tp *Topology) LatencyDistance(from, to string, frameSize int) (float64, bool) {
	spTree, present := tp.spTree(from, latencyWeight(frameSize))
	if !present {
		return math.Inf(1), false
	}
	_, weight, reachable := tp.pathTo(spTree, to)
	return weight, reachable
}

// IsConnected reports whether every node is reachable from every other
func (tp *Topology) IsConnected() bool {
	if len(tp.Nodes) < 2 {
		return true
	}
	return len(topo.ConnectedComponents(tp.buildConnGraph(hopWeight))) == 1
}
