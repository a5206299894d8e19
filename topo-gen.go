package tsncase

// topo-gen.go lays out randomized or templated TSN topologies.  Bridges are joined by
// a spanning structure first, so the result is connected by construction; end-stations
// are then attached to bridges, and extra bridge-to-bridge links are placed until the
// bridges reach the requested average degree.  A topology split into several domains
// gets a spanning structure per domain, and the domains are joined by a few bridge-to-bridge
// links laid out as a line, a grid or a random connected graph.

import (
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat/distuv"
)

// layout templates for the bridge spanning structure
const (
	RandomLayout = "random"
	RingLayout   = "ring"
	LineLayout   = "line"
	StarLayout   = "star"
	TreeLayout   = "tree"
	MeshLayout   = "mesh"
)

// LayoutTemplates lists the recognized values of Params.LayoutTemplate
var LayoutTemplates = []string{RandomLayout, RingLayout, LineLayout, StarLayout, TreeLayout, MeshLayout}

// layouts joining the domains of a topology
const (
	LineInterconnect   = "line"
	SquareInterconnect = "square"
	RandomInterconnect = "random"
)

// DomainInterconnects lists the recognized values of Params.DomainInterconnect
var DomainInterconnects = []string{LineInterconnect, SquareInterconnect, RandomInterconnect}

// BridgeCount is the number of bridges a topology of nodeCount nodes gets at the given ratio
func BridgeCount(nodeCount int, ratio float64) int {
	nb := int(math.Round(float64(nodeCount) * ratio))
	return min(max(nb, 0), nodeCount)
}

// topoGen carries the state of one topology generation
type topoGen struct {
	p         *Params
	rng       *rand.Rand
	topo      *Topology
	bridges   []*NodeFrame
	stations  []*NodeFrame
	inDomain  [][]*NodeFrame // bridges, by domain
	atDomain  [][]*NodeFrame // end-stations, by domain
	attached  map[string]int // end-stations attached, by bridge name
	partition ClassShares
}

// GenerateTopology builds the topology the parameters describe, drawing every random
// choice from rng.  The result is connected and simple; the average bridge degree is
// at least p.DegreeTarget.  ErrInfeasibleTopology is returned when the port budget,
// template and degree target cannot be met together.
func GenerateTopology(name string, p *Params, rng *rand.Rand) (*Topology, error) {
	numBridges := BridgeCount(p.NodeCount, p.BridgeRatio)
	numStations := p.NodeCount - numBridges
	domains := max(p.Domains, 1)

	if domains > 1 && numBridges < domains {
		return nil, fmt.Errorf("%w: %d domains and %d bridges", ErrInfeasibleTopology, domains, numBridges)
	}

	if numBridges == 0 && numStations > 2 {
		return nil, fmt.Errorf("%w: %d end-stations and no bridge to join them", ErrInfeasibleTopology, numStations)
	}
	if numBridges > 0 && p.DegreeTarget > float64(p.PortBudget) {
		return nil, fmt.Errorf("%w: degree target %v above port budget %d",
			ErrInfeasibleTopology, p.DegreeTarget, p.PortBudget)
	}
	partition, err := SharesFromSlice(p.ClassPartition)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	tg := &topoGen{p: p, rng: rng, topo: CreateTopology(name), attached: make(map[string]int), partition: partition,
		inDomain: make([][]*NodeFrame, domains), atDomain: make([][]*NodeFrame, domains)}

	// nodes are numbered across domains and handed out to them in consecutive blocks
	for idx := 0; idx < numBridges; idx++ {
		bridge, err := tg.topo.AddNode(fmt.Sprintf("B%d", idx), BridgeKind, p.PortBudget, p.PortCapacity, partition)
		if err != nil {
			return nil, err
		}
		bridge.Domain = idx * domains / numBridges
		tg.bridges = append(tg.bridges, bridge)
		tg.inDomain[bridge.Domain] = append(tg.inDomain[bridge.Domain], bridge)
	}
	for idx := 0; idx < numStations; idx++ {
		station, err := tg.topo.AddNode(fmt.Sprintf("E%d", idx), EndStationKind, 1, p.PortCapacity, partition)
		if err != nil {
			return nil, err
		}
		station.Domain = idx * domains / numStations
		tg.stations = append(tg.stations, station)
		tg.atDomain[station.Domain] = append(tg.atDomain[station.Domain], station)
	}

	for _, bridges := range tg.inDomain {
		if err := tg.span(bridges); err != nil {
			return nil, err
		}
	}
	if err := tg.interconnect(); err != nil {
		return nil, err
	}
	for domain := range tg.atDomain {
		if err := tg.attachStations(tg.atDomain[domain], tg.inDomain[domain]); err != nil {
			return nil, err
		}
	}
	if err := tg.fillDegree(); err != nil {
		return nil, err
	}
	if err := applyOverrides(tg.topo, p.Overrides); err != nil {
		return nil, err
	}

	if !tg.topo.IsConnected() {
		return nil, fmt.Errorf("%w: generated topology %s is not connected", ErrInfeasibleTopology, name)
	}
	return tg.topo, nil
}

// link cables two nodes with the bandwidth and a delay drawn for the kind of connection.
// Running out of ports means the parameters cannot be met.
func (tg *topoGen) link(nodeA, nodeB *NodeFrame) error {
	bndwdth, delays := tg.p.BackboneBandwidth, tg.p.BackboneDelay
	if nodeA.IsEndStation() || nodeB.IsEndStation() {
		bndwdth, delays = tg.p.AccessBandwidth, tg.p.AccessDelay
	}
	delay := distuv.Uniform{Min: delays.Min, Max: delays.Max, Src: tg.rng}.Rand()

	_, err := tg.topo.ConnectNodes(nodeA.Name, nodeB.Name, bndwdth, delay)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInfeasibleTopology, err)
	}
	return nil
}

// span joins the bridges with the structure named by the layout template
func (tg *topoGen) span(bs []*NodeFrame) error {
	nb := len(bs)

	switch tg.p.LayoutTemplate {
	case RingLayout:
		for idx := 0; idx+1 < nb; idx++ {
			if err := tg.link(bs[idx], bs[idx+1]); err != nil {
				return err
			}
		}
		if nb > 2 {
			return tg.link(bs[nb-1], bs[0])
		}
	case LineLayout:
		for idx := 0; idx+1 < nb; idx++ {
			if err := tg.link(bs[idx], bs[idx+1]); err != nil {
				return err
			}
		}
	case StarLayout:
		for idx := 1; idx < nb; idx++ {
			if err := tg.link(bs[0], bs[idx]); err != nil {
				return err
			}
		}
	case TreeLayout:
		// balanced binary tree, bridge i hangs off bridge (i-1)/2
		for idx := 1; idx < nb; idx++ {
			if err := tg.link(bs[(idx-1)/2], bs[idx]); err != nil {
				return err
			}
		}
	case MeshLayout:
		// near-square grid filled row by row
		cols := int(math.Ceil(math.Sqrt(float64(nb))))
		for idx := 0; idx < nb; idx++ {
			if (idx+1)%cols != 0 && idx+1 < nb {
				if err := tg.link(bs[idx], bs[idx+1]); err != nil {
					return err
				}
			}
			if idx+cols < nb {
				if err := tg.link(bs[idx], bs[idx+cols]); err != nil {
					return err
				}
			}
		}
	default:
		// random recursive tree: each bridge, in random order, hangs off one placed before it
		order := tg.rng.Perm(nb)
		for k := 1; k < nb; k++ {
			candidates := []*NodeFrame{}
			for _, idx := range order[:k] {
				if bs[idx].FreePort() != nil {
					candidates = append(candidates, bs[idx])
				}
			}
			if len(candidates) == 0 {
				return fmt.Errorf("%w: no free port left to span bridge %s", ErrInfeasibleTopology, bs[order[k]].Name)
			}
			if err := tg.link(candidates[tg.rng.IntN(len(candidates))], bs[order[k]]); err != nil {
				return err
			}
		}
	}
	return nil
}

// attachStations cables each end-station to the bridge with the fewest end-stations that still has a
// free port, breaking ties at random.  Without bridges, a pair of end-stations is cabled directly.
func (tg *topoGen) attachStations(stations, bridges []*NodeFrame) error {
	if len(bridges) == 0 {
		if len(stations) == 2 {
			return tg.link(stations[0], stations[1])
		}
		return nil
	}

	for _, station := range stations {
		least := math.MaxInt
		ties := []*NodeFrame{}
		for _, bridge := range bridges {
			if bridge.FreePort() == nil {
				continue
			}
			count := tg.attached[bridge.Name]
			if count < least {
				least = count
				ties = ties[:0]
			}
			if count == least {
				ties = append(ties, bridge)
			}
		}
		if len(ties) == 0 {
			return fmt.Errorf("%w: no bridge port left for end-station %s", ErrInfeasibleTopology, station.Name)
		}
		bridge := ties[tg.rng.IntN(len(ties))]
		if err := tg.link(bridge, station); err != nil {
			return err
		}
		tg.attached[bridge.Name] += 1
	}
	return nil
}

// fillDegree adds bridge-to-bridge links until the sum of bridge degrees reaches
// DegreeTarget times the number of bridges.  Partners are found in the chosen bridge's
// own domain.  A placement attempt that finds no partner for its chosen bridge is rejected; after TopologyAttempts rejections the
// target is declared infeasible.
func (tg *topoGen) fillDegree() error {
	nb := len(tg.bridges)
	if nb == 0 {
		return nil
	}
	target := int(math.Ceil(tg.p.DegreeTarget*float64(nb) - slack))
	sum := 0
	for _, bridge := range tg.bridges {
		sum += bridge.Degree()
	}

	rejected := 0
	for sum < target {
		free := []*NodeFrame{}
		for _, bridge := range tg.bridges {
			if bridge.FreePort() != nil {
				free = append(free, bridge)
			}
		}
		if len(free) < 2 {
			return fmt.Errorf("%w: bridge ports exhausted at degree sum %d of %d", ErrInfeasibleTopology, sum, target)
		}

		chosen := free[tg.rng.IntN(len(free))]
		partners := []*NodeFrame{}
		for _, bridge := range free {
			if bridge != chosen && bridge.Domain == chosen.Domain && tg.topo.LinkBetween(chosen.Name, bridge.Name) == nil {
				partners = append(partners, bridge)
			}
		}
		if len(partners) == 0 {
			rejected += 1
			if rejected >= tg.p.TopologyAttempts {
				return fmt.Errorf("%w: degree sum %d of %d after %d rejected placements",
					ErrInfeasibleTopology, sum, target, rejected)
			}
			continue
		}

		if err := tg.link(chosen, partners[tg.rng.IntN(len(partners))]); err != nil {
			return err
		}
		sum += 2
	}
	return nil
}

// interconnect joins every pair of domains the interconnect layout names with DomainLinks
// bridge-to-bridge links, or as many as free ports allow, at least one
func (tg *topoGen) interconnect() error {
	if len(tg.inDomain) < 2 {
		return nil
	}
	for _, pair := range domainPairs(tg.p.DomainInterconnect, len(tg.inDomain), tg.rng) {
		for k := 0; k < tg.p.DomainLinks; k++ {
			candidates := [][2]*NodeFrame{}
			for _, bridgeA := range tg.inDomain[pair[0]] {
				if bridgeA.FreePort() == nil {
					continue
				}
				for _, bridgeB := range tg.inDomain[pair[1]] {
					if bridgeB.FreePort() != nil && tg.topo.LinkBetween(bridgeA.Name, bridgeB.Name) == nil {
						candidates = append(candidates, [2]*NodeFrame{bridgeA, bridgeB})
					}
				}
			}
			if len(candidates) == 0 {
				if k == 0 {
					return fmt.Errorf("%w: no free bridge ports to join domains %d and %d",
						ErrInfeasibleTopology, pair[0], pair[1])
				}
				break
			}
			chosen := candidates[tg.rng.IntN(len(candidates))]
			if err := tg.link(chosen[0], chosen[1]); err != nil {
				return err
			}
		}
	}
	return nil
}

// domainPairs lists the pairs of domains to join, smaller domain first.  The pairs always
// connect all domains.
func domainPairs(layout string, domains int, rng *rand.Rand) [][2]int {
	pairs := [][2]int{}
	add := func(a, b int) {
		pair := [2]int{min(a, b), max(a, b)}
		if a != b && !slices.Contains(pairs, pair) {
			pairs = append(pairs, pair)
		}
	}

	switch layout {
	case SquareInterconnect:
		// near-square grid filled row by row
		cols := int(math.Ceil(math.Sqrt(float64(domains))))
		for d := 0; d < domains; d++ {
			if (d+1)%cols != 0 && d+1 < domains {
				add(d, d+1)
			}
			if d+cols < domains {
				add(d, d+cols)
			}
		}
	case RandomInterconnect:
		// random recursive tree, then about one extra pair for every two domains
		order := rng.Perm(domains)
		for k := 1; k < domains; k++ {
			add(order[rng.IntN(k)], order[k])
		}
		for extra := 0; extra < domains/2; extra++ {
			add(rng.IntN(domains), rng.IntN(domains))
		}
	default:
		for d := 0; d+1 < domains; d++ {
			add(d, d+1)
		}
	}
	return pairs
}
