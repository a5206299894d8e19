package tsncase

// validate.go re-checks a complete case, generated here or read from a file, against the
// structural and timing rules of a TSN deployment.  The checks work on the flat case
// description rather than on a built Topology, so that a description which could not be
// built is still examined and every problem in it reported.  The validator shares the
// bandwidth ledger and the latency model of budget.go with the router, so a case the router
// admitted in full is one the validator passes.

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// names of the validation checks, in the order they are run and reported
const (
	StructuralCheck  = "structural"
	StreamCheck      = "stream"
	ReferentialCheck = "referential"
	CapacityCheck    = "capacity"
	TimingCheck      = "timing"
)

// CheckNames lists the validation checks in the order they are run
var CheckNames = []string{StructuralCheck, StreamCheck, ReferentialCheck, CapacityCheck, TimingCheck}

// Violation is one failed rule
type Violation struct {
	Check  string `json:"check" yaml:"check"`
	Detail string `json:"detail" yaml:"detail"`
}

// ValidationResult gathers the violations found in a case.  Pass is true exactly when there are none.
type ValidationResult struct {
	Pass       bool        `json:"pass" yaml:"pass"`
	Violations []Violation `json:"violations" yaml:"violations"`
}

func (vr *ValidationResult) add(check, format string, args ...any) {
	vr.Violations = append(vr.Violations, Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
	vr.Pass = false
}

// ByCheck returns the violations found by the named check
func (vr *ValidationResult) ByCheck(check string) []Violation {
	rtn := []Violation{}
	for _, v := range vr.Violations {
		if v.Check == check {
			rtn = append(rtn, v)
		}
	}
	return rtn
}

// Err folds the violations into one error, nil when the case passed
func (vr *ValidationResult) Err() error {
	if vr.Pass {
		return nil
	}
	errs := make([]error, 0, len(vr.Violations))
	for _, v := range vr.Violations {
		errs = append(errs, fmt.Errorf("%s: %s", v.Check, v.Detail))
	}
	return ReportErrs(errs)
}

// ValidateCase checks a Case built in memory
func ValidateCase(c *Case) (*ValidationResult, error) {
	if c == nil || c.Topology == nil {
		return nil, fmt.Errorf("%w: no case or no topology", ErrMalformedCase)
	}
	cd := c.Transform()
	return ValidateDesc(&cd)
}

// ValidateDesc runs every check on the case description and reports all violations found.
// An error is returned only for input the checks cannot be applied to: a nil case, a stream
// without a name, or a route naming a stream the case does not hold.
func ValidateDesc(cd *CaseDesc) (*ValidationResult, error) {
	if cd == nil {
		return nil, fmt.Errorf("%w: no case", ErrMalformedCase)
	}
	cv := &caseValidator{cd: cd, result: &ValidationResult{Pass: true, Violations: []Violation{}},
		nodes: make(map[string]*NodeDesc), ports: make(map[string]map[string]*PortDesc),
		links: make(map[string]*LinkDesc), streams: make(map[string]*Stream),
		paths: make(map[string][]Path)}

	for idx := range cd.Streams {
		if len(cd.Streams[idx].Name) == 0 {
			return nil, fmt.Errorf("%w: stream %d has no name", ErrMalformedCase, idx)
		}
	}
	for idx := range cd.Streams {
		strm := &cd.Streams[idx]
		if _, present := cv.streams[strm.Name]; !present {
			cv.streams[strm.Name] = strm
		}
	}
	for _, route := range cd.Routes {
		if _, present := cv.streams[route.Stream]; !present {
			return nil, fmt.Errorf("%w: route %s names unknown stream %q", ErrMalformedCase, route.Name, route.Stream)
		}
	}

	cv.checkStructure()
	cv.checkStreams()
	cv.checkReferences()
	cv.checkCapacity()
	cv.checkTiming()
	return cv.result, nil
}

// caseValidator indexes the case description for the checks
type caseValidator struct {
	cd     *CaseDesc
	result *ValidationResult

	nodes   map[string]*NodeDesc
	ports   map[string]map[string]*PortDesc
	links   map[string]*LinkDesc
	streams map[string]*Stream

	// route paths found well formed, by stream
	paths map[string][]Path
}

func (cv *caseValidator) fail(check, format string, args ...any) {
	cv.result.add(check, format, args...)
}

// checkStructure looks at the nodes, ports and links of the topology, its connectivity,
// and the shape of every route path
func (cv *caseValidator) checkStructure() {
	td := &cv.cd.Topology
	for idx := range td.Nodes {
		nd := &td.Nodes[idx]
		if len(nd.Name) == 0 {
			cv.fail(StructuralCheck, "node %d has no name", idx)
			continue
		}
		if _, present := cv.nodes[nd.Name]; present {
			cv.fail(StructuralCheck, "duplicate node %s", nd.Name)
			continue
		}
		cv.nodes[nd.Name] = nd
		cv.ports[nd.Name] = make(map[string]*PortDesc)
		if nd.Domain < 0 {
			cv.fail(StructuralCheck, "node %s has negative domain %d", nd.Name, nd.Domain)
		}

		switch NodeKindFromStr(nd.Kind) {
		case EndStationKind:
			if len(nd.Ports) != 1 {
				cv.fail(StructuralCheck, "end-station %s has %d ports, needs exactly 1", nd.Name, len(nd.Ports))
			}
		case BridgeKind:
			if len(nd.Ports) < 2 {
				cv.fail(StructuralCheck, "bridge %s has %d ports, needs at least 2", nd.Name, len(nd.Ports))
			}
		default:
			cv.fail(StructuralCheck, "node %s has unknown kind %q", nd.Name, nd.Kind)
		}

		for pdx := range nd.Ports {
			pd := &nd.Ports[pdx]
			if _, present := cv.ports[nd.Name][pd.Name]; present || len(pd.Name) == 0 {
				cv.fail(StructuralCheck, "node %s has empty or duplicate port name %q", nd.Name, pd.Name)
				continue
			}
			cv.ports[nd.Name][pd.Name] = pd
			if !(pd.Capacity > 0) {
				cv.fail(StructuralCheck, "port %s.%s has non-positive capacity %g", nd.Name, pd.Name, pd.Capacity)
			}
			if _, err := SharesFromSlice(pd.Partition); err != nil {
				cv.fail(StructuralCheck, "port %s.%s: %v", nd.Name, pd.Name, err)
			}
		}
	}

	usedPorts := make(map[string]string)
	adjacent := make(map[[2]string]string)
	for idx := range td.Links {
		ld := &td.Links[idx]
		if len(ld.Name) == 0 {
			cv.fail(StructuralCheck, "link %d has no name", idx)
			continue
		}
		if _, present := cv.links[ld.Name]; present {
			cv.fail(StructuralCheck, "duplicate link name %s", ld.Name)
			continue
		}
		portA, portB := cv.port(ld.NodeA, ld.PortA), cv.port(ld.NodeB, ld.PortB)
		if portA == nil || portB == nil {
			cv.fail(StructuralCheck, "link %s references missing port %s.%s or %s.%s",
				ld.Name, ld.NodeA, ld.PortA, ld.NodeB, ld.PortB)
			continue
		}
		if ld.NodeA == ld.NodeB {
			cv.fail(StructuralCheck, "link %s loops on node %s", ld.Name, ld.NodeA)
			continue
		}
		dup := false
		for _, end := range []string{ld.NodeA + "." + ld.PortA, ld.NodeB + "." + ld.PortB} {
			if prior, used := usedPorts[end]; used {
				cv.fail(StructuralCheck, "port %s used by links %s and %s", end, prior, ld.Name)
				dup = true
			}
		}
		pair := [2]string{min(ld.NodeA, ld.NodeB), max(ld.NodeA, ld.NodeB)}
		if prior, present := adjacent[pair]; present {
			cv.fail(StructuralCheck, "links %s and %s both join %s and %s", prior, ld.Name, pair[0], pair[1])
			dup = true
		}
		if dup {
			continue
		}
		if !(ld.Bandwidth > 0) || ld.Bandwidth > math.Min(portA.Capacity, portB.Capacity)*(1+slack) {
			cv.fail(StructuralCheck, "link %s bandwidth %g not positive or above its port capacities", ld.Name, ld.Bandwidth)
		}
		if ld.Delay < 0 || math.IsNaN(ld.Delay) {
			cv.fail(StructuralCheck, "link %s has negative delay %g", ld.Name, ld.Delay)
		}
		usedPorts[ld.NodeA+"."+ld.PortA] = ld.Name
		usedPorts[ld.NodeB+"."+ld.PortB] = ld.Name
		adjacent[pair] = ld.Name
		cv.links[ld.Name] = ld
	}

	if len(cv.nodes) > 0 && !cv.connected() {
		cv.fail(StructuralCheck, "topology %s is not connected", td.Name)
	}

	for _, route := range cv.cd.Routes {
		cv.checkRoutePaths(route)
	}
}

// checkRoutePaths makes sure the route has, for every destination of its stream, one well
// formed path per copy the stream sends, and that the copies to one destination take
// different paths
func (cv *caseValidator) checkRoutePaths(route Route) {
	strm := cv.streams[route.Stream]
	members := max(strm.Redundancy, 0) + 1
	covered := make(map[string][]Path)
	for _, path := range route.Paths {
		if path.Member < 0 || path.Member >= members {
			cv.fail(StructuralCheck, "route %s path to %s is copy %d, stream %s sends %d",
				route.Name, path.Destination, path.Member, strm.Name, members)
			continue
		}
		if slices.ContainsFunc(covered[path.Destination], func(o Path) bool { return o.Member == path.Member }) {
			cv.fail(StructuralCheck, "route %s has two paths to %s for copy %d", route.Name, path.Destination, path.Member)
			continue
		}
		if !slices.Contains(strm.Destinations, path.Destination) {
			cv.fail(StructuralCheck, "route %s has a path to %s, not a destination of stream %s",
				route.Name, path.Destination, strm.Name)
			continue
		}
		for _, other := range covered[path.Destination] {
			if slices.Equal(other.Nodes, path.Nodes) {
				cv.fail(StructuralCheck, "route %s copies %d and %d take the same path to %s",
					route.Name, other.Member, path.Member, path.Destination)
			}
		}
		covered[path.Destination] = append(covered[path.Destination], path)
		if cv.checkPath(route.Name, strm, path) {
			cv.paths[strm.Name] = append(cv.paths[strm.Name], path)
		}
	}
	for _, dest := range strm.Destinations {
		if len(covered[dest]) == 0 {
			cv.fail(StructuralCheck, "route %s has no path to destination %s of stream %s", route.Name, dest, strm.Name)
		} else if len(covered[dest]) < members {
			cv.fail(StructuralCheck, "route %s has %d paths to destination %s of stream %s, needs %d",
				route.Name, len(covered[dest]), dest, strm.Name, members)
		}
	}
}

func (cv *caseValidator) port(node, port string) *PortDesc {
	ports, present := cv.ports[node]
	if !present {
		return nil
	}
	return ports[port]
}

// connected builds a gonum graph of the well-formed links and counts its components
func (cv *caseValidator) connected() bool {
	g := simple.NewUndirectedGraph()
	ids := make(map[string]int64)
	for idx := range cv.cd.Topology.Nodes {
		name := cv.cd.Topology.Nodes[idx].Name
		if _, present := ids[name]; present || len(name) == 0 {
			continue
		}
		ids[name] = int64(len(ids))
		g.AddNode(simple.Node(ids[name]))
	}
	for _, ld := range cv.links {
		g.SetEdge(simple.Edge{F: simple.Node(ids[ld.NodeA]), T: simple.Node(ids[ld.NodeB])})
	}
	return len(topo.ConnectedComponents(g)) == 1
}

// checkPath reports the problems of one path of a route, and whether it is well formed
func (cv *caseValidator) checkPath(routeName string, strm *Stream, path Path) bool {
	if len(path.Nodes) < 2 || len(path.Nodes) != len(path.Links)+1 {
		cv.fail(StructuralCheck, "route %s path to %s has %d nodes and %d links",
			routeName, path.Destination, len(path.Nodes), len(path.Links))
		return false
	}
	ok := true
	if path.Nodes[0] != strm.Source {
		cv.fail(StructuralCheck, "route %s path to %s starts at %s, not at source %s",
			routeName, path.Destination, path.Nodes[0], strm.Source)
		ok = false
	}
	if path.Nodes[len(path.Nodes)-1] != path.Destination {
		cv.fail(StructuralCheck, "route %s path to %s ends at %s",
			routeName, path.Destination, path.Nodes[len(path.Nodes)-1])
		ok = false
	}
	seen := []string{}
	for _, node := range path.Nodes {
		if slices.Contains(seen, node) {
			cv.fail(StructuralCheck, "route %s path to %s visits %s twice", routeName, path.Destination, node)
			ok = false
			break
		}
		seen = append(seen, node)
	}
	for idx, name := range path.Links {
		ld, present := cv.links[name]
		if !present {
			cv.fail(StructuralCheck, "route %s path to %s uses link %s, not in the topology",
				routeName, path.Destination, name)
			ok = false
			continue
		}
		from, to := path.Nodes[idx], path.Nodes[idx+1]
		if !(ld.NodeA == from && ld.NodeB == to) && !(ld.NodeA == to && ld.NodeB == from) {
			cv.fail(StructuralCheck, "route %s path to %s: link %s does not join %s and %s",
				routeName, path.Destination, name, from, to)
			ok = false
		}
	}
	return ok
}

// checkStreams looks at the timing envelope and endpoints of every stream
func (cv *caseValidator) checkStreams() {
	seen := []string{}
	for idx := range cv.cd.Streams {
		strm := &cv.cd.Streams[idx]
		if slices.Contains(seen, strm.Name) {
			cv.fail(StreamCheck, "duplicate stream %s", strm.Name)
			continue
		}
		seen = append(seen, strm.Name)

		if !(strm.Period > 0) {
			cv.fail(StreamCheck, "stream %s period %g not positive", strm.Name, strm.Period)
		}
		if strm.FrameSize <= 0 {
			cv.fail(StreamCheck, "stream %s frame size %d not positive", strm.Name, strm.FrameSize)
		}
		if !(strm.Deadline > 0) {
			cv.fail(StreamCheck, "stream %s deadline %g not positive", strm.Name, strm.Deadline)
		}
		if strm.Class < 0 || strm.Class >= NumClasses {
			cv.fail(StreamCheck, "stream %s class %d outside 0..%d", strm.Name, strm.Class, NumClasses-1)
		}
		if !cv.isEndStation(strm.Source) {
			cv.fail(StreamCheck, "stream %s source %s is not an end-station of the topology", strm.Name, strm.Source)
		}
		if len(strm.Destinations) == 0 {
			cv.fail(StreamCheck, "stream %s has no destination", strm.Name)
		}
		dests := []string{}
		for _, dest := range strm.Destinations {
			switch {
			case slices.Contains(dests, dest):
				cv.fail(StreamCheck, "stream %s lists destination %s twice", strm.Name, dest)
			case dest == strm.Source:
				cv.fail(StreamCheck, "stream %s has its source %s as destination", strm.Name, dest)
			case !cv.isEndStation(dest):
				cv.fail(StreamCheck, "stream %s destination %s is not an end-station of the topology", strm.Name, dest)
			}
			dests = append(dests, dest)
		}
		if strm.Redundancy < 0 {
			cv.fail(StreamCheck, "stream %s redundancy %d negative", strm.Name, strm.Redundancy)
		}
		if len(strm.Pair) > 0 {
			cv.checkPair(strm)
		}
	}
}

// checkPair makes sure the stream and its pair run between the same two end-stations, one each way
func (cv *caseValidator) checkPair(strm *Stream) {
	pair, present := cv.streams[strm.Pair]
	switch {
	case !present:
		cv.fail(StreamCheck, "stream %s paired with unknown stream %s", strm.Name, strm.Pair)
	case pair.Pair != strm.Name:
		cv.fail(StreamCheck, "stream %s paired with %s, which is paired with %q", strm.Name, pair.Name, pair.Pair)
	case strm.IsMulticast() || pair.IsMulticast() || len(strm.Destinations) == 0 || len(pair.Destinations) == 0:
		cv.fail(StreamCheck, "paired streams %s and %s must each have one destination", strm.Name, pair.Name)
	case strm.Source != pair.Destinations[0] || pair.Source != strm.Destinations[0]:
		cv.fail(StreamCheck, "paired streams %s and %s do not join the same end-stations", strm.Name, pair.Name)
	}
}

func (cv *caseValidator) isEndStation(name string) bool {
	nd, present := cv.nodes[name]
	return present && NodeKindFromStr(nd.Kind) == EndStationKind
}

// checkReferences makes sure routes and streams refer to each other exactly once
func (cv *caseValidator) checkReferences() {
	routed := make(map[string]string)
	routeNames := []string{}
	for _, route := range cv.cd.Routes {
		if slices.Contains(routeNames, route.Name) {
			cv.fail(ReferentialCheck, "duplicate route name %s", route.Name)
		}
		routeNames = append(routeNames, route.Name)
		if prior, present := routed[route.Stream]; present {
			cv.fail(ReferentialCheck, "stream %s has routes %s and %s", route.Stream, prior, route.Name)
			continue
		}
		routed[route.Stream] = route.Name
		for _, path := range route.Paths {
			for _, node := range path.Nodes {
				if _, present := cv.nodes[node]; !present {
					cv.fail(ReferentialCheck, "route %s names node %s, not in the topology", route.Name, node)
				}
			}
		}
	}

	rejected := make(map[string]string)
	for _, rej := range cv.cd.Rejections {
		rejected[rej.Stream] = rej.Kind
		if _, present := cv.streams[rej.Stream]; !present {
			cv.fail(ReferentialCheck, "rejection names unknown stream %s", rej.Stream)
		}
	}
	for _, strm := range cv.cd.Streams {
		if _, present := routed[strm.Name]; present {
			continue
		}
		if kind, present := rejected[strm.Name]; present {
			cv.fail(ReferentialCheck, "stream %s has no route (rejected: %s)", strm.Name, kind)
		} else {
			cv.fail(ReferentialCheck, "stream %s has no route", strm.Name)
		}
	}
}

// linkAttrs gives the bandwidth and propagation delay of the named link
func (cv *caseValidator) linkAttrs(name string) (float64, float64) {
	ld, present := cv.links[name]
	if !present {
		return math.Inf(1), math.Inf(1)
	}
	return ld.Bandwidth, ld.Delay
}

// budget gives what the link offers to reservations, the class partition being the tighter
// of the two endpoint partitions
func (cv *caseValidator) budget(ld *LinkDesc) LinkBudget {
	lb := LinkBudget{Capacity: ld.Bandwidth}
	sharesA, errA := SharesFromSlice(cv.port(ld.NodeA, ld.PortA).Partition)
	sharesB, errB := SharesFromSlice(cv.port(ld.NodeB, ld.PortB).Partition)
	if errA != nil || errB != nil {
		// structural check already reported the partition
		sharesA, sharesB = UniformShares(1), UniformShares(1)
	}
	for class := 0; class < NumClasses; class++ {
		lb.Shares[class] = math.Min(sharesA[class], sharesB[class])
	}
	return lb
}

// checkCapacity sums, per link and class, the bandwidth of every stream routed over the link
func (cv *caseValidator) checkCapacity() {
	ldg := createLedger()
	for idx := range cv.cd.Topology.Links {
		name := cv.cd.Topology.Links[idx].Name
		if ld, present := cv.links[name]; present && ld == &cv.cd.Topology.Links[idx] {
			ldg.addLink(name, cv.budget(ld))
		}
	}

	for _, strm := range cv.routedStreams() {
		if strm.Class < 0 || strm.Class >= NumClasses {
			continue
		}
		// each copy of the stream crosses a link once, whatever the number of destinations
		type crossing struct {
			member int
			link   string
		}
		crossed := []crossing{}
		for _, path := range cv.paths[strm.Name] {
			for _, link := range path.Links {
				if !slices.Contains(crossed, crossing{path.Member, link}) {
					crossed = append(crossed, crossing{path.Member, link})
					ldg.reserve(link, strm.Class, strm.Bandwidth())
				}
			}
		}
	}

	for idx := range cv.cd.Topology.Links {
		name := cv.cd.Topology.Links[idx].Name
		if _, present := ldg.budget[name]; !present {
			continue
		}
		classes, overTotal := ldg.overruns(name)
		lb := ldg.budget[name]
		for _, class := range classes {
			cv.fail(CapacityCheck, "link %s class %d reserves %g bit/s, limit %g",
				name, class, ldg.reserved[name][class], lb.ClassLimit(class))
		}
		if overTotal {
			cv.fail(CapacityCheck, "link %s reserves %g bit/s in total, capacity %g", name, ldg.total(name), lb.Capacity)
		}
	}
}

// routedStreams lists the well-formed streams that have well-formed paths, in stream order
func (cv *caseValidator) routedStreams() []*Stream {
	rtn := []*Stream{}
	for _, strm := range cv.streams {
		if len(cv.paths[strm.Name]) > 0 {
			rtn = append(rtn, strm)
		}
	}
	slices.SortFunc(rtn, func(a, b *Stream) int {
		return cv.streamIndex(a.Name) - cv.streamIndex(b.Name)
	})
	return rtn
}

func (cv *caseValidator) streamIndex(name string) int {
	return slices.IndexFunc(cv.cd.Streams, func(strm Stream) bool { return strm.Name == name })
}

// checkTiming bounds the latency of every routed stream to each destination and compares it to
// the deadline.  Queuing is strict priority without preemption at the egress of each hop.
func (cv *caseValidator) checkTiming() {
	load := createTrafficLoad()
	streams := cv.routedStreams()
	for _, strm := range streams {
		for _, path := range cv.paths[strm.Name] {
			load.add(strm.Name, path.Member, strm.Class, strm.FrameSize, egressesOf(path.Nodes, path.Links))
		}
	}

	for _, strm := range streams {
		for _, path := range cv.paths[strm.Name] {
			latency := load.pathLatency(strm.Name, path.Member, strm.Class, strm.FrameSize,
				egressesOf(path.Nodes, path.Links), cv.linkAttrs)
			if !withinLimit(latency, strm.Deadline) {
				cv.fail(TimingCheck, "stream %s to %s: latency bound %g exceeds deadline %g",
					strm.Name, path.Destination, latency, strm.Deadline)
			}
		}
	}
}

// IsMalformed reports whether err says the validator could not be applied to its input
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedCase)
}
