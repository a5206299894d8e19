package tsncase

// file desc-topo.go holds the structs and methods used to build and query
// the network part of a test case: bridges and end-stations, the ports they
// carry, and the links cabled between ports.  As elsewhere in the package,
// the *Frame structs are pointer-linked and used while building, the *Desc
// structs are flat and serializable, and Transform converts one to the other.

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"
)

// NodeKind distinguishes the two kinds of network device in a TSN topology
type NodeKind int

const (
	BridgeKind NodeKind = iota
	EndStationKind
	UnknownKind
)

// NodeKindFromStr returns the NodeKind named by the string
func NodeKindFromStr(kind string) NodeKind {
	switch strings.ToLower(kind) {
	case "bridge", "switch":
		return BridgeKind
	case "end-station", "endstation", "end_station", "es":
		return EndStationKind
	}
	return UnknownKind
}

// NodeKindToStr returns the string used for the NodeKind in case files
func NodeKindToStr(kind NodeKind) string {
	switch kind {
	case BridgeKind:
		return "bridge"
	case EndStationKind:
		return "end-station"
	}
	return "unknown"
}

// NumClasses is the number of 802.1Q priority code points, i.e. traffic classes 0..7
const NumClasses = 8

// DefaultClassShare is the fraction of a port's capacity a single traffic class may reserve
// unless configured otherwise
const DefaultClassShare = 0.75

// ClassShares holds, indexed by traffic class, the fraction of a port's capacity that
// streams of that class may reserve
type ClassShares [NumClasses]float64

// UniformShares gives every class the same share
func UniformShares(share float64) ClassShares {
	var cs ClassShares
	for idx := range cs {
		cs[idx] = share
	}
	return cs
}

// SharesFromSlice converts the serialized form of a partition.  An empty slice means the default partition.
func SharesFromSlice(shares []float64) (ClassShares, error) {
	if len(shares) == 0 {
		return UniformShares(DefaultClassShare), nil
	}
	var cs ClassShares
	if len(shares) != NumClasses {
		return cs, fmt.Errorf("partition has %d entries, need %d", len(shares), NumClasses)
	}
	for idx, share := range shares {
		if share < 0 || share > 1 || math.IsNaN(share) {
			return cs, fmt.Errorf("partition share %v for class %d outside [0,1]", share, idx)
		}
		cs[idx] = share
	}
	return cs, nil
}

// PortFrame describes one port of a node while the topology is being built
type PortFrame struct {
	// name, unique among the ports of its node
	Name string

	// position of the port on its node
	Number int

	// node the port belongs to
	Node *NodeFrame

	// line rate of the port, bits/sec
	Capacity float64

	// traffic-class capacity partition
	Partition ClassShares

	// link cabled to the port, nil when free
	Link *LinkFrame
}

// PortDesc is the serializable description of a port
type PortDesc struct {
	Name      string    `json:"name" yaml:"name"`
	Capacity  float64   `json:"capacity" yaml:"capacity"`
	Partition []float64 `json:"partition" yaml:"partition"`
}

// Occupied reports whether a link is already attached
func (pf *PortFrame) Occupied() bool {
	return pf.Link != nil
}

// Transform converts a PortFrame into a PortDesc, for serialization
func (pf *PortFrame) Transform() PortDesc {
	pd := PortDesc{Name: pf.Name, Capacity: pf.Capacity}
	pd.Partition = make([]float64, NumClasses)
	copy(pd.Partition, pf.Partition[:])
	return pd
}

// NodeFrame describes a bridge or end-station while the topology is being built
type NodeFrame struct {
	Name string

	// index of the node in its topology, also its identity in the path-finding graph
	Number int

	Kind  NodeKind
	Ports []*PortFrame

	// administrative domain, 0 when the topology has just one
	Domain int

	topo *Topology
}

// NodeDesc is the serializable description of a node
type NodeDesc struct {
	Name  string     `json:"name" yaml:"name"`
	Kind  string     `json:"kind" yaml:"kind"`
	Ports []PortDesc `json:"ports" yaml:"ports"`

	Domain int `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Port returns the node's port with the given name, or nil
func (nf *NodeFrame) Port(name string) *PortFrame {
	for _, port := range nf.Ports {
		if port.Name == name {
			return port
		}
	}
	return nil
}

// FreePort returns the lowest-numbered port without a link, or nil when all are used
func (nf *NodeFrame) FreePort() *PortFrame {
	for _, port := range nf.Ports {
		if !port.Occupied() {
			return port
		}
	}
	return nil
}

// Degree is the number of links attached to the node
func (nf *NodeFrame) Degree() int {
	degree := 0
	for _, port := range nf.Ports {
		if port.Occupied() {
			degree += 1
		}
	}
	return degree
}

func (nf *NodeFrame) IsBridge() bool {
	return nf.Kind == BridgeKind
}

func (nf *NodeFrame) IsEndStation() bool {
	return nf.Kind == EndStationKind
}

// Transform converts a NodeFrame into a NodeDesc, for serialization
func (nf *NodeFrame) Transform() NodeDesc {
	nd := NodeDesc{Name: nf.Name, Kind: NodeKindToStr(nf.Kind), Domain: nf.Domain}
	nd.Ports = make([]PortDesc, 0, len(nf.Ports))
	for _, port := range nf.Ports {
		nd.Ports = append(nd.Ports, port.Transform())
	}
	return nd
}

// LinkFrame describes a full-duplex cable between two ports of two different nodes
type LinkFrame struct {
	Name string

	// index of the link in its topology
	Number int

	A, B *PortFrame

	// bits/sec
	Bandwidth float64

	// propagation delay, seconds
	Delay float64
}

// LinkDesc is the serializable description of a link
type LinkDesc struct {
	Name      string  `json:"name" yaml:"name"`
	NodeA     string  `json:"nodea" yaml:"nodea"`
	PortA     string  `json:"porta" yaml:"porta"`
	NodeB     string  `json:"nodeb" yaml:"nodeb"`
	PortB     string  `json:"portb" yaml:"portb"`
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`
	Delay     float64 `json:"delay" yaml:"delay"`
}

// Touches reports whether the named node is one of the link's endpoints
func (lf *LinkFrame) Touches(node string) bool {
	return lf.A.Node.Name == node || lf.B.Node.Name == node
}

// Peer returns the node at the other end of the link from the named node, or nil
// if the named node is not an endpoint
func (lf *LinkFrame) Peer(node string) *NodeFrame {
	switch node {
	case lf.A.Node.Name:
		return lf.B.Node
	case lf.B.Node.Name:
		return lf.A.Node
	}
	return nil
}

// IsAccess reports whether the link attaches an end-station
func (lf *LinkFrame) IsAccess() bool {
	return lf.A.Node.IsEndStation() || lf.B.Node.IsEndStation()
}

// Budget returns the capacity the link offers to reservations, with the class partition
// being the tighter of the two endpoint partitions
func (lf *LinkFrame) Budget() LinkBudget {
	lb := LinkBudget{Capacity: lf.Bandwidth}
	for class := 0; class < NumClasses; class++ {
		lb.Shares[class] = math.Min(lf.A.Partition[class], lf.B.Partition[class])
	}
	return lb
}

// Transform converts a LinkFrame into a LinkDesc, for serialization
func (lf *LinkFrame) Transform() LinkDesc {
	return LinkDesc{Name: lf.Name,
		NodeA: lf.A.Node.Name, PortA: lf.A.Name,
		NodeB: lf.B.Node.Name, PortB: lf.B.Name,
		Bandwidth: lf.Bandwidth, Delay: lf.Delay}
}

// Topology holds the nodes and links of one test case.  Names are unique
// within a topology, and every counter used to make names lives here, so two
// topologies never share state.
type Topology struct {
	Name  string
	Nodes []*NodeFrame
	Links []*LinkFrame

	nodeByName map[string]*NodeFrame
	linkByName map[string]*LinkFrame
}

// TopoDesc is the serializable description of a Topology
type TopoDesc struct {
	Name  string     `json:"name" yaml:"name"`
	Nodes []NodeDesc `json:"nodes" yaml:"nodes"`
	Links []LinkDesc `json:"links" yaml:"links"`
}

// CreateTopology is a constructor
func CreateTopology(name string) *Topology {
	topo := new(Topology)
	topo.Name = name
	topo.Nodes = make([]*NodeFrame, 0)
	topo.Links = make([]*LinkFrame, 0)
	topo.nodeByName = make(map[string]*NodeFrame)
	topo.linkByName = make(map[string]*LinkFrame)
	return topo
}

// AddNode creates a node with numPorts ports named p0, p1, ... each with the given capacity and partition.
// End-stations must have exactly one port, bridges at least two.
func (topo *Topology) AddNode(name string, kind NodeKind, numPorts int, capacity float64,
	partition ClassShares) (*NodeFrame, error) {

	ports := make([]PortDesc, numPorts)
	for idx := range ports {
		ports[idx] = PortDesc{Name: fmt.Sprintf("p%d", idx), Capacity: capacity, Partition: partition[:]}
	}
	return topo.addNodeDesc(NodeDesc{Name: name, Kind: NodeKindToStr(kind), Ports: ports})
}

// AddBridge creates a bridge with the default class partition on every port
func (topo *Topology) AddBridge(name string, numPorts int, capacity float64) (*NodeFrame, error) {
	return topo.AddNode(name, BridgeKind, numPorts, capacity, UniformShares(DefaultClassShare))
}

// AddEndStation creates a single-port end-station with the default class partition
func (topo *Topology) AddEndStation(name string, capacity float64) (*NodeFrame, error) {
	return topo.AddNode(name, EndStationKind, 1, capacity, UniformShares(DefaultClassShare))
}

// addNodeDesc does the work of AddNode, and of rebuilding a topology from its description
func (topo *Topology) addNodeDesc(nd NodeDesc) (*NodeFrame, error) {
	if len(nd.Name) == 0 {
		return nil, fmt.Errorf("node with empty name: %w", ErrInvalidEndpoint)
	}
	if _, present := topo.nodeByName[nd.Name]; present {
		return nil, fmt.Errorf("node %s already exists: %w", nd.Name, ErrInvalidEndpoint)
	}

	kind := NodeKindFromStr(nd.Kind)
	switch kind {
	case EndStationKind:
		if len(nd.Ports) != 1 {
			return nil, fmt.Errorf("end-station %s has %d ports, needs exactly 1: %w",
				nd.Name, len(nd.Ports), ErrInvalidEndpoint)
		}
	case BridgeKind:
		if len(nd.Ports) < 2 {
			return nil, fmt.Errorf("bridge %s has %d ports, needs at least 2: %w",
				nd.Name, len(nd.Ports), ErrInvalidEndpoint)
		}
	default:
		return nil, fmt.Errorf("node %s has unknown kind %q: %w", nd.Name, nd.Kind, ErrInvalidEndpoint)
	}

	if nd.Domain < 0 {
		return nil, fmt.Errorf("node %s has negative domain %d: %w", nd.Name, nd.Domain, ErrInvalidEndpoint)
	}

	node := &NodeFrame{Name: nd.Name, Number: len(topo.Nodes), Kind: kind, Domain: nd.Domain, topo: topo}
	node.Ports = make([]*PortFrame, 0, len(nd.Ports))
	names := []string{}
	for idx, pd := range nd.Ports {
		if len(pd.Name) == 0 || slices.Contains(names, pd.Name) {
			return nil, fmt.Errorf("node %s port %d has empty or repeated name %q: %w",
				nd.Name, idx, pd.Name, ErrInvalidEndpoint)
		}
		if !(pd.Capacity > 0) {
			return nil, fmt.Errorf("port %s.%s needs positive capacity: %w", nd.Name, pd.Name, ErrInvalidEndpoint)
		}
		partition, err := SharesFromSlice(pd.Partition)
		if err != nil {
			return nil, fmt.Errorf("port %s.%s: %v: %w", nd.Name, pd.Name, err, ErrInvalidEndpoint)
		}
		names = append(names, pd.Name)
		node.Ports = append(node.Ports,
			&PortFrame{Name: pd.Name, Number: idx, Node: node, Capacity: pd.Capacity, Partition: partition})
	}

	topo.Nodes = append(topo.Nodes, node)
	topo.nodeByName[node.Name] = node
	return node, nil
}

// owns reports whether the port belongs to a node of this topology
func (topo *Topology) owns(port *PortFrame) bool {
	if port == nil || port.Node == nil {
		return false
	}
	node, present := topo.nodeByName[port.Node.Name]
	return present && node == port.Node
}

// Connect cables portA to portB.  A non-positive bandwidth means the slower of the two port rates.
// It fails with ErrDuplicateLink if the ports are already cabled to each other or the two nodes
// are already adjacent, and with ErrInvalidEndpoint if either port is occupied, the ports sit on
// the same node, or the bandwidth or delay cannot be carried.
func (topo *Topology) Connect(portA, portB *PortFrame, bandwidth, delay float64) (*LinkFrame, error) {
	return topo.connect(fmt.Sprintf("L%d", len(topo.Links)), portA, portB, bandwidth, delay)
}

func (topo *Topology) connect(name string, portA, portB *PortFrame, bandwidth, delay float64) (*LinkFrame, error) {
	if !topo.owns(portA) || !topo.owns(portB) {
		return nil, fmt.Errorf("link %s endpoint is not a port of topology %s: %w", name, topo.Name, ErrInvalidEndpoint)
	}
	nodeA, nodeB := portA.Node, portB.Node

	if nodeA == nodeB {
		return nil, fmt.Errorf("link %s would loop on node %s: %w", name, nodeA.Name, ErrInvalidEndpoint)
	}

	// same port pair already cabled
	if portA.Link != nil && portA.Link == portB.Link {
		return nil, fmt.Errorf("ports %s.%s and %s.%s already linked by %s: %w",
			nodeA.Name, portA.Name, nodeB.Name, portB.Name, portA.Link.Name, ErrDuplicateLink)
	}
	if portA.Occupied() || portB.Occupied() {
		return nil, fmt.Errorf("link %s: port %s.%s or %s.%s already in use: %w",
			name, nodeA.Name, portA.Name, nodeB.Name, portB.Name, ErrInvalidEndpoint)
	}

	// a second link between the same nodes would make the graph non-simple
	if prior := topo.LinkBetween(nodeA.Name, nodeB.Name); prior != nil {
		return nil, fmt.Errorf("nodes %s and %s already linked by %s: %w",
			nodeA.Name, nodeB.Name, prior.Name, ErrDuplicateLink)
	}
	if _, present := topo.linkByName[name]; present {
		return nil, fmt.Errorf("link name %s already used: %w", name, ErrDuplicateLink)
	}

	lineRate := math.Min(portA.Capacity, portB.Capacity)
	if !(bandwidth > 0) {
		bandwidth = lineRate
	}
	if bandwidth > lineRate {
		return nil, fmt.Errorf("link %s bandwidth %g exceeds port rate %g: %w", name, bandwidth, lineRate, ErrInvalidEndpoint)
	}
	if delay < 0 || math.IsNaN(delay) {
		return nil, fmt.Errorf("link %s has negative delay: %w", name, ErrInvalidEndpoint)
	}

	link := &LinkFrame{Name: name, Number: len(topo.Links), A: portA, B: portB, Bandwidth: bandwidth, Delay: delay}
	portA.Link = link
	portB.Link = link
	topo.Links = append(topo.Links, link)
	topo.linkByName[name] = link
	return link, nil
}

// ConnectNodes cables the lowest-numbered free ports of the two named nodes
func (topo *Topology) ConnectNodes(nameA, nameB string, bandwidth, delay float64) (*LinkFrame, error) {
	nodeA, okA := topo.nodeByName[nameA]
	nodeB, okB := topo.nodeByName[nameB]
	if !okA || !okB {
		return nil, fmt.Errorf("cannot link unknown node %s or %s: %w", nameA, nameB, ErrInvalidEndpoint)
	}
	if nodeA == nodeB {
		return nil, fmt.Errorf("link would loop on node %s: %w", nameA, ErrInvalidEndpoint)
	}
	if prior := topo.LinkBetween(nameA, nameB); prior != nil {
		return nil, fmt.Errorf("nodes %s and %s already linked by %s: %w", nameA, nameB, prior.Name, ErrDuplicateLink)
	}
	portA, portB := nodeA.FreePort(), nodeB.FreePort()
	if portA == nil || portB == nil {
		return nil, fmt.Errorf("no free port to link %s and %s: %w", nameA, nameB, ErrInvalidEndpoint)
	}
	return topo.Connect(portA, portB, bandwidth, delay)
}

// Node returns the named node
func (topo *Topology) Node(name string) (*NodeFrame, bool) {
	node, present := topo.nodeByName[name]
	return node, present
}

// Link returns the named link
func (topo *Topology) Link(name string) (*LinkFrame, bool) {
	link, present := topo.linkByName[name]
	return link, present
}

// Bridges lists the bridges, in creation order
func (topo *Topology) Bridges() []*NodeFrame {
	return topo.nodesOfKind(BridgeKind)
}

// EndStations lists the end-stations, in creation order
func (topo *Topology) EndStations() []*NodeFrame {
	return topo.nodesOfKind(EndStationKind)
}

func (topo *Topology) nodesOfKind(kind NodeKind) []*NodeFrame {
	rtn := []*NodeFrame{}
	for _, node := range topo.Nodes {
		if node.Kind == kind {
			rtn = append(rtn, node)
		}
	}
	return rtn
}

// Neighbors returns the names of the nodes adjacent to the named node, in port order
func (topo *Topology) Neighbors(name string) []string {
	node, present := topo.nodeByName[name]
	if !present {
		return nil
	}
	rtn := []string{}
	for _, port := range node.Ports {
		if port.Occupied() {
			rtn = append(rtn, port.Link.Peer(name).Name)
		}
	}
	return rtn
}

// IncidentLinks returns the links attached to the named port of the named node.
// A port holds at most one link, so the result has length 0 or 1.
func (topo *Topology) IncidentLinks(nodeName, portName string) []*LinkFrame {
	node, present := topo.nodeByName[nodeName]
	if !present {
		return nil
	}
	port := node.Port(portName)
	if port == nil || !port.Occupied() {
		return []*LinkFrame{}
	}
	return []*LinkFrame{port.Link}
}

// LinkBetween returns the link joining the two named nodes, or nil
func (topo *Topology) LinkBetween(nameA, nameB string) *LinkFrame {
	node, present := topo.nodeByName[nameA]
	if !present {
		return nil
	}
	for _, port := range node.Ports {
		if port.Occupied() {
			if peer := port.Link.Peer(nameA); peer != nil && peer.Name == nameB {
				return port.Link
			}
		}
	}
	return nil
}

// Transform converts the Topology into a TopoDesc, for serialization
func (topo *Topology) Transform() TopoDesc {
	td := TopoDesc{Name: topo.Name}
	td.Nodes = make([]NodeDesc, 0, len(topo.Nodes))
	for _, node := range topo.Nodes {
		td.Nodes = append(td.Nodes, node.Transform())
	}
	td.Links = make([]LinkDesc, 0, len(topo.Links))
	for _, link := range topo.Links {
		td.Links = append(td.Links, link.Transform())
	}
	return td
}

// Build recreates the Topology a TopoDesc describes, applying the same checks as
// the construction methods.  The first problem found is returned.
func (td *TopoDesc) Build() (*Topology, error) {
	topo := CreateTopology(td.Name)
	for _, nd := range td.Nodes {
		if _, err := topo.addNodeDesc(nd); err != nil {
			return nil, err
		}
	}
	for _, ld := range td.Links {
		var portA, portB *PortFrame
		if nodeA, present := topo.nodeByName[ld.NodeA]; present {
			portA = nodeA.Port(ld.PortA)
		}
		if nodeB, present := topo.nodeByName[ld.NodeB]; present {
			portB = nodeB.Port(ld.PortB)
		}
		if portA == nil || portB == nil {
			return nil, fmt.Errorf("link %s names unknown port %s.%s or %s.%s: %w",
				ld.Name, ld.NodeA, ld.PortA, ld.NodeB, ld.PortB, ErrInvalidEndpoint)
		}
		if !(ld.Bandwidth > 0) {
			return nil, fmt.Errorf("link %s needs positive bandwidth: %w", ld.Name, ErrInvalidEndpoint)
		}
		if _, err := topo.connect(ld.Name, portA, portB, ld.Bandwidth, ld.Delay); err != nil {
			return nil, err
		}
	}
	return topo, nil
}

// ReportErrs transforms a list of errors and transforms them
// into a single error, with the individual messages separated by commas.
// nil entries are skipped; an all-nil list yields nil.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckDirectories checks the file system for the existence
// of every directory listed.  Returns a boolean
// indicating whether all dirs are valid, and returns an aggregated error
// if any checks failed.
func CheckDirectories(dirs []string) (bool, error) {
	failures := []string{}

	for _, dir := range dirs {
		if len(dir) == 0 {
			continue
		}

		info, err := os.Stat(dir)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s not reachable", dir))
			continue
		}
		if !info.IsDir() {
			failures = append(failures, fmt.Sprintf("%s not a directory", dir))
		}
	}
	if len(failures) == 0 {
		return true, nil
	}

	return false, errors.New(strings.Join(failures, ","))
}

// CheckReadableFiles checks the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles checks the file system to ensure that the directory of
// every argument filename exists, so the file can be written
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles checks the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// split off the directory portion of the path
		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			directory = "."
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}

		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
