package tsncase

// routes.go provides the functions that admit streams into a topology one by one,
// choosing for each a path (or for multicast, a forwarding tree) and reserving its
// bandwidth along the way.
//
// The general approach is to convert the topology into the data structures of the
// gonum graph package, which has built-in path discovery, and weight each link by the
// latency a frame sees on it, inflated by how full the link would be once the stream
// is added.  Links that cannot take the stream's bandwidth in its traffic class are left
// out of the graph entirely.  The Dijkstra algorithm computes a tree of shortest paths
// rooted in the stream's source; the path to each destination is read off that tree, and
// for multicast the union of those paths is itself a tree.
//
// Streams are admitted in the order given.  A later stream may fail where a different
// order would have succeeded; that is what admission control in a real network does.
//
// A redundant stream gets further paths to every destination, each found by the same search
// after the weights of the links earlier paths use are doubled, so the search is pushed onto
// other links where the topology has them.  Every path carries its own copy of the frames.

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// AdmissionMode says what happens to the case when one stream cannot be admitted
type AdmissionMode int

const (
	// BestEffort records the failure and goes on with the next stream
	BestEffort AdmissionMode = iota

	// AllOrNothing abandons the case and releases every reservation made for it
	AllOrNothing
)

// AdmissionModeFromStr returns the AdmissionMode named by the string
func AdmissionModeFromStr(mode string) (AdmissionMode, error) {
	switch mode {
	case "best-effort", "besteffort", "":
		return BestEffort, nil
	case "all-or-nothing", "allornothing":
		return AllOrNothing, nil
	}
	return BestEffort, fmt.Errorf("admission_mode %q not best-effort or all-or-nothing", mode)
}

// AdmissionModeToStr returns the string used for the AdmissionMode in parameter files
func AdmissionModeToStr(mode AdmissionMode) string {
	if mode == AllOrNothing {
		return "all-or-nothing"
	}
	return "best-effort"
}

// Path is the route of a stream's frames to one destination.  Nodes runs from the source to
// the destination; Links[i] joins Nodes[i] and Nodes[i+1].  Member 0 is the primary path,
// members 1 and up the redundant ones.
type Path struct {
	Destination string   `json:"destination" yaml:"destination"`
	Member      int      `json:"member,omitempty" yaml:"member,omitempty"`
	Nodes       []string `json:"nodes" yaml:"nodes"`
	Links       []string `json:"links" yaml:"links"`
}

// redundancyRounds bounds how often the link weights are doubled while looking for one more
// distinct path
const redundancyRounds = 8

// Route holds the paths a stream was admitted on
type Route struct {
	Name   string `json:"name" yaml:"name"`
	Stream string `json:"stream" yaml:"stream"`
	Paths  []Path `json:"paths" yaml:"paths"`

	// bits/sec reserved on each link of the route, for each copy carried
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`
}

// Path returns the route's primary path to the named destination
func (rt *Route) Path(dest string) (*Path, bool) {
	for idx := range rt.Paths {
		if rt.Paths[idx].Destination == dest && rt.Paths[idx].Member == 0 {
			return &rt.Paths[idx], true
		}
	}
	return nil, false
}

// PathsTo returns every path of the route to the named destination, primary first
func (rt *Route) PathsTo(dest string) []Path {
	rtn := []Path{}
	for _, path := range rt.Paths {
		if path.Destination == dest {
			rtn = append(rtn, path)
		}
	}
	slices.SortStableFunc(rtn, func(a, b Path) int { return a.Member - b.Member })
	return rtn
}

// Members is the number of copies of each frame the route carries
func (rt *Route) Members() int {
	members := 0
	for _, path := range rt.Paths {
		members = max(members, path.Member+1)
	}
	return members
}

// Links lists each link the route uses once, in order of first use
func (rt *Route) Links() []string {
	rtn := []string{}
	for _, path := range rt.Paths {
		for _, link := range path.Links {
			if !slices.Contains(rtn, link) {
				rtn = append(rtn, link)
			}
		}
	}
	return rtn
}

// linkCopies counts, for each link of the route in order of first use, the copies of a frame
// crossing it.  The paths of one member share their copy, as a multicast tree does.
func (rt *Route) linkCopies() ([]string, map[string]int) {
	order := []string{}
	copies := make(map[string]int)
	for member := 0; member < rt.Members(); member++ {
		seen := []string{}
		for _, path := range rt.Paths {
			if path.Member != member {
				continue
			}
			for _, link := range path.Links {
				if slices.Contains(seen, link) {
					continue
				}
				seen = append(seen, link)
				if copies[link] == 0 {
					order = append(order, link)
				}
				copies[link] += 1
			}
		}
	}
	return order, copies
}

// egresses lists each link direction the member's paths transmit on once
func (rt *Route) egresses(member int) []egress {
	rtn := []egress{}
	for _, path := range rt.Paths {
		if path.Member != member || len(path.Nodes) != len(path.Links)+1 {
			continue
		}
		for _, hop := range egressesOf(path.Nodes, path.Links) {
			if !slices.Contains(rtn, hop) {
				rtn = append(rtn, hop)
			}
		}
	}
	return rtn
}

// Admission is the outcome of routing a list of streams
type Admission struct {
	Routes   []*Route
	Failures []*AdmissionError
}

// Admitted reports whether every stream got a route
func (adm *Admission) Admitted() bool {
	return len(adm.Failures) == 0
}

// router holds the reservations made while admitting the streams of one case
type router struct {
	topo       *Topology
	costWeight float64
	ledger     *ledger
	load       *trafficLoad
	streams    map[string]*Stream
	routes     []*Route
}

func createRouter(topo *Topology, costWeight float64) *router {
	rtr := &router{topo: topo, costWeight: costWeight, ledger: createLedger(),
		load: createTrafficLoad(), streams: make(map[string]*Stream)}
	for _, link := range topo.Links {
		rtr.ledger.addLink(link.Name, link.Budget())
	}
	return rtr
}

// RouteStreams admits the streams into the topology in order.  For each it finds paths
// that have room for the stream's bandwidth in its class, reserves that bandwidth, and
// checks that the stream and every stream already admitted on the same link directions
// still meet their deadlines.  In BestEffort mode failures are collected in the result and
// routing goes on; in AllOrNothing mode the first failure releases every reservation and
// is returned as an *AdmissionError.
func RouteStreams(topo *Topology, streams []*Stream, mode AdmissionMode, costWeight float64) (*Admission, error) {
	rtr := createRouter(topo, costWeight)
	adm := &Admission{Routes: []*Route{}, Failures: []*AdmissionError{}}

	for _, strm := range streams {
		err := rtr.admit(strm)
		if err == nil {
			continue
		}
		failure := &AdmissionError{Stream: strm.Name, Err: err}
		if mode == AllOrNothing {
			rtr.releaseAll()
			return nil, failure
		}
		adm.Failures = append(adm.Failures, failure)
	}
	adm.Routes = rtr.routes
	return adm, nil
}

// usable returns the link weight used for the stream: links it does not fit on are excluded
func (rtr *router) usable(strm *Stream) linkWeight {
	bw := strm.Bandwidth()
	return func(link *LinkFrame) (float64, bool) {
		if !rtr.ledger.fits(link.Name, strm.Class, bw) {
			return 0, false
		}
		latency := link.Delay + transmitTime(strm.FrameSize, link.Bandwidth)
		return latency * (1 + rtr.costWeight*rtr.ledger.utilization(link.Name, bw)), true
	}
}

// admit routes one stream and makes its reservations, or leaves the reservations untouched and
// says why it could not
func (rtr *router) admit(strm *Stream) error {
	if _, dup := rtr.streams[strm.Name]; dup {
		return fmt.Errorf("%w: stream name already admitted", ErrRouteNotFound)
	}
	source, present := rtr.topo.Node(strm.Source)
	if !present || !source.IsEndStation() {
		return fmt.Errorf("%w: source %s is not an end-station of the topology", ErrRouteNotFound, strm.Source)
	}
	if len(strm.Destinations) == 0 {
		return fmt.Errorf("%w: no destination", ErrRouteNotFound)
	}

	// first see whether each destination can be reached at all
	for _, dest := range strm.Destinations {
		node, present := rtr.topo.Node(dest)
		if !present || !node.IsEndStation() || dest == strm.Source {
			return fmt.Errorf("%w: destination %s is not another end-station of the topology", ErrRouteNotFound, dest)
		}
		if _, reachable := rtr.topo.HopDistance(strm.Source, dest); !reachable {
			return fmt.Errorf("%w: no path from %s to %s", ErrRouteNotFound, strm.Source, dest)
		}
	}

	// then find paths over the links with room left
	weight := rtr.usable(strm)
	spTree, _ := rtr.topo.spTree(strm.Source, weight)
	route := &Route{Name: fmt.Sprintf("R%d", len(rtr.routes)), Stream: strm.Name, Bandwidth: strm.Bandwidth()}
	for _, dest := range strm.Destinations {
		nodes, _, reachable := rtr.topo.pathTo(spTree, dest)
		if !reachable {
			return fmt.Errorf("%w: every path from %s to %s lacks %g bit/s for class %d",
				ErrCapacityExceeded, strm.Source, dest, strm.Bandwidth(), strm.Class)
		}
		route.Paths = append(route.Paths, Path{Destination: dest, Nodes: nodes, Links: rtr.topo.linksAlong(nodes)})
	}
	for member := 1; member <= strm.Redundancy; member++ {
		for _, dest := range strm.Destinations {
			path, err := rtr.redundantPath(strm, dest, route.PathsTo(dest), weight)
			if err != nil {
				return err
			}
			path.Member = member
			route.Paths = append(route.Paths, path)
		}
	}

	// links shared by several copies must take all of them
	links, copies := route.linkCopies()
	for _, link := range links {
		if copies[link] > 1 && !rtr.ledger.fits(link, strm.Class, float64(copies[link])*route.Bandwidth) {
			return fmt.Errorf("%w: link %s lacks %g bit/s for %d copies of class %d",
				ErrCapacityExceeded, link, float64(copies[link])*route.Bandwidth, copies[link], strm.Class)
		}
	}

	rtr.reserve(strm, route)
	if missed := rtr.deadlineMisses(strm, route); len(missed) > 0 {
		rtr.release(strm, route)
		return fmt.Errorf("%w: admitting %s would make %v miss their deadline", ErrDeadlineExceeded, strm.Name, missed)
	}
	rtr.routes = append(rtr.routes, route)
	return nil
}

// redundantPath finds one more path to dest, different from those found already.  The links
// the earlier paths use have their weights doubled, once per use, and doubled again each time
// the search comes back with a path already known.
func (rtr *router) redundantPath(strm *Stream, dest string, earlier []Path, weight linkWeight) (Path, error) {
	uses := make(map[string]int)
	for _, path := range earlier {
		for _, link := range path.Links {
			uses[link] += 1
		}
	}
	penalized := func(link *LinkFrame) (float64, bool) {
		w, ok := weight(link)
		return w * math.Pow(2, float64(uses[link.Name])), ok
	}

	for round := 0; round < redundancyRounds; round++ {
		spTree, _ := rtr.topo.spTree(strm.Source, penalized)
		nodes, _, reachable := rtr.topo.pathTo(spTree, dest)
		if !reachable {
			return Path{}, fmt.Errorf("%w: every path from %s to %s lacks %g bit/s for class %d",
				ErrCapacityExceeded, strm.Source, dest, strm.Bandwidth(), strm.Class)
		}
		links := rtr.topo.linksAlong(nodes)
		known := slices.ContainsFunc(earlier, func(path Path) bool { return slices.Equal(path.Nodes, nodes) })
		if !known {
			return Path{Destination: dest, Nodes: nodes, Links: links}, nil
		}
		for _, link := range links {
			uses[link] += 1
		}
	}
	return Path{}, fmt.Errorf("%w: %d distinct paths from %s to %s, %d asked for",
		ErrRouteNotFound, len(earlier), strm.Source, dest, strm.Redundancy+1)
}

func (rtr *router) reserve(strm *Stream, route *Route) {
	links, copies := route.linkCopies()
	for _, link := range links {
		rtr.ledger.reserve(link, strm.Class, float64(copies[link])*route.Bandwidth)
	}
	for member := 0; member < route.Members(); member++ {
		rtr.load.add(strm.Name, member, strm.Class, strm.FrameSize, route.egresses(member))
	}
	rtr.streams[strm.Name] = strm
}

func (rtr *router) release(strm *Stream, route *Route) {
	links, copies := route.linkCopies()
	for _, link := range links {
		rtr.ledger.release(link, strm.Class, float64(copies[link])*route.Bandwidth)
	}
	rtr.load.remove(strm.Name)
	delete(rtr.streams, strm.Name)
}

// releaseAll undoes every reservation of the admitted streams
func (rtr *router) releaseAll() {
	for _, route := range rtr.routes {
		rtr.release(rtr.streams[route.Stream], route)
	}
	rtr.routes = nil
}

// deadlineMisses lists the streams, among the pending one and those sharing a link direction
// with it, whose latency bound passes their deadline under the current reservations
func (rtr *router) deadlineMisses(strm *Stream, pending *Route) []string {
	routes := map[string]*Route{strm.Name: pending}
	for _, route := range rtr.routes {
		routes[route.Stream] = route
	}

	missed := []string{}
	check := append([]string{strm.Name}, rtr.load.sharers(strm.Name)...)
	for _, name := range check {
		other := rtr.streams[name]
		for _, path := range routes[name].Paths {
			latency := rtr.load.pathLatency(other.Name, path.Member, other.Class, other.FrameSize,
				egressesOf(path.Nodes, path.Links), rtr.linkAttrs)
			if !withinLimit(latency, other.Deadline) {
				missed = append(missed, name)
				break
			}
		}
	}
	return missed
}

// linkAttrs gives the bandwidth and propagation delay of the named link
func (rtr *router) linkAttrs(name string) (float64, float64) {
	link, present := rtr.topo.Link(name)
	if !present {
		return math.Inf(1), math.Inf(1)
	}
	return link.Bandwidth, link.Delay
}
