package tsncase

// budget.go holds the two resource models shared by route admission and by validation:
// a per-link, per-class bandwidth ledger, and the per-hop latency bound of a stream.
// Both work on link names and plain numbers so the validator can apply them to case
// descriptions it has not been able to build into a Topology.

import (
	"math"

	"golang.org/x/exp/slices"
)

// tolerance applied to capacity and deadline comparisons, relative to the limit
const slack = 1e-9

func withinLimit(value, limit float64) bool {
	return value <= limit+slack*math.Max(1.0, math.Abs(limit))
}

// transmitTime is the time (seconds) to clock frameSize bytes onto a line of bndwdth bits/sec
func transmitTime(frameSize int, bndwdth float64) float64 {
	if !(bndwdth > 0) {
		return math.Inf(1)
	}
	return float64(8*frameSize) / bndwdth
}

// streamBandwidth is the bandwidth (bits/sec) a stream sending frameSize bytes every period seconds needs
func streamBandwidth(frameSize int, period float64) float64 {
	if !(period > 0) {
		return math.Inf(1)
	}
	return float64(8*frameSize) / period
}

// LinkBudget is what a link offers to reservations: its bandwidth, and the
// share of it each traffic class may claim
type LinkBudget struct {
	Capacity float64
	Shares   ClassShares
}

// ClassLimit is the bandwidth streams of the class may reserve on the link
func (lb LinkBudget) ClassLimit(class int) float64 {
	return lb.Capacity * lb.Shares[class]
}

// ledger records bandwidth reserved per link and per traffic class
type ledger struct {
	budget   map[string]LinkBudget
	reserved map[string]*ClassShares
}

func createLedger() *ledger {
	return &ledger{budget: make(map[string]LinkBudget), reserved: make(map[string]*ClassShares)}
}

// addLink makes a link known to the ledger
func (ldg *ledger) addLink(name string, lb LinkBudget) {
	ldg.budget[name] = lb
	ldg.reserved[name] = new(ClassShares)
}

// total is the bandwidth reserved on the link over all classes
func (ldg *ledger) total(link string) float64 {
	sum := 0.0
	for _, bw := range ldg.reserved[link] {
		sum += bw
	}
	return sum
}

// fits reports whether bw more bits/sec of the class can be reserved on the link
// without passing either the class limit or the link capacity
func (ldg *ledger) fits(link string, class int, bw float64) bool {
	lb, present := ldg.budget[link]
	if !present || class < 0 || class >= NumClasses {
		return false
	}
	if !withinLimit(ldg.reserved[link][class]+bw, lb.ClassLimit(class)) {
		return false
	}
	return withinLimit(ldg.total(link)+bw, lb.Capacity)
}

// utilization is the fraction of the link capacity reserved once bw more is added
func (ldg *ledger) utilization(link string, bw float64) float64 {
	lb := ldg.budget[link]
	if !(lb.Capacity > 0) {
		return math.Inf(1)
	}
	return (ldg.total(link) + bw) / lb.Capacity
}

func (ldg *ledger) reserve(link string, class int, bw float64) {
	ldg.reserved[link][class] += bw
}

func (ldg *ledger) release(link string, class int, bw float64) {
	ldg.reserved[link][class] = math.Max(0.0, ldg.reserved[link][class]-bw)
}

// overruns lists, for the link, each class whose reservations pass the class limit, and
// reports separately whether the total passes the link capacity
func (ldg *ledger) overruns(link string) ([]int, bool) {
	lb := ldg.budget[link]
	classes := []int{}
	for class, bw := range ldg.reserved[link] {
		if !withinLimit(bw, lb.ClassLimit(class)) {
			classes = append(classes, class)
		}
	}
	return classes, !withinLimit(ldg.total(link), lb.Capacity)
}

// egress identifies one direction of a link: the link, and the node transmitting onto it
type egress struct {
	link string
	from string
}

// egressesOf lists the egresses a path uses, in order.  nodes and links must be aligned,
// i.e. links[i] joins nodes[i] and nodes[i+1]
func egressesOf(nodes, links []string) []egress {
	rtn := make([]egress, 0, len(links))
	for idx, link := range links {
		rtn = append(rtn, egress{link: link, from: nodes[idx]})
	}
	return rtn
}

// frameLoad is what one copy of a stream puts on an egress: one frame per period in its class.
// Member tells apart the copies a redundant stream sends over its separate paths.
type frameLoad struct {
	stream    string
	member    int
	class     int
	frameSize int
}

// trafficLoad records which streams transmit over which egress.  The per-hop latency
// bound is computed from it with a strict-priority, non-preemptive model:
//
//	hop = propagation + own transmission
//	    + transmission of one frame of every other stream copy on the egress with class >= own
//	    + the longest frame of any lower-class stream on the egress (blocking)
type trafficLoad struct {
	egresses map[egress][]frameLoad
	byStream map[string][]egress
}

func createTrafficLoad() *trafficLoad {
	return &trafficLoad{egresses: make(map[egress][]frameLoad), byStream: make(map[string][]egress)}
}

// add places one copy of the stream on every listed egress, once each
func (tl *trafficLoad) add(stream string, member, class, frameSize int, hops []egress) {
	for _, hop := range hops {
		if tl.carries(stream, member, hop) {
			continue
		}
		tl.egresses[hop] = append(tl.egresses[hop],
			frameLoad{stream: stream, member: member, class: class, frameSize: frameSize})
		if !slices.Contains(tl.byStream[stream], hop) {
			tl.byStream[stream] = append(tl.byStream[stream], hop)
		}
	}
}

func (tl *trafficLoad) carries(stream string, member int, hop egress) bool {
	for _, fl := range tl.egresses[hop] {
		if fl.stream == stream && fl.member == member {
			return true
		}
	}
	return false
}

// remove takes the stream off every egress it was placed on
func (tl *trafficLoad) remove(stream string) {
	for _, hop := range tl.byStream[stream] {
		kept := tl.egresses[hop][:0]
		for _, fl := range tl.egresses[hop] {
			if fl.stream != stream {
				kept = append(kept, fl)
			}
		}
		if len(kept) == 0 {
			delete(tl.egresses, hop)
		} else {
			tl.egresses[hop] = kept
		}
	}
	delete(tl.byStream, stream)
}

// sharers lists the other streams placed on any egress the stream uses
func (tl *trafficLoad) sharers(stream string) []string {
	seen := map[string]bool{stream: true}
	rtn := []string{}
	for _, hop := range tl.byStream[stream] {
		for _, fl := range tl.egresses[hop] {
			if !seen[fl.stream] {
				seen[fl.stream] = true
				rtn = append(rtn, fl.stream)
			}
		}
	}
	return rtn
}

// queuingDelay bounds the time a frame of the stream's member copy waits at the egress before
// transmission.  Other copies of the same stream queue like any other stream.
func (tl *trafficLoad) queuingDelay(stream string, member, class int, hop egress, bndwdth float64) float64 {
	interference := 0.0
	blocking := 0.0
	for _, fl := range tl.egresses[hop] {
		if fl.stream == stream && fl.member == member {
			continue
		}
		tx := transmitTime(fl.frameSize, bndwdth)
		if fl.class >= class {
			interference += tx
		} else if tx > blocking {
			blocking = tx
		}
	}
	return interference + blocking
}

// pathLatency bounds the end-to-end latency of the stream's frame along one path of the member.
// link gives the bandwidth and propagation delay of a link by name.
func (tl *trafficLoad) pathLatency(stream string, member, class, frameSize int, hops []egress,
	link func(string) (bndwdth, delay float64)) float64 {

	latency := 0.0
	for _, hop := range hops {
		bndwdth, delay := link(hop.link)
		latency += delay + transmitTime(frameSize, bndwdth) + tl.queuingDelay(stream, member, class, hop, bndwdth)
	}
	return latency
}
