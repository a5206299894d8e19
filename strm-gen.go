package tsncase

// strm-gen.go creates the periodic TSN streams of a test case.  Each stream names a
// source end-station, one or more destination end-stations, and a timing envelope
// (period, frame size, deadline) together with its traffic class.

import (
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat/distuv"
)

// source selection policies
const (
	UniformSelection   = "uniform"
	LeastUsedSelection = "least-used"
)

// Stream describes a periodic flow of frames from a source end-station to one or more
// destination end-stations
type Stream struct {
	Name         string   `json:"name" yaml:"name"`
	Source       string   `json:"source" yaml:"source"`
	Destinations []string `json:"destinations" yaml:"destinations"`

	// seconds between frame transmissions
	Period float64 `json:"period" yaml:"period"`

	// largest frame the stream sends, bytes
	FrameSize int `json:"framesize" yaml:"framesize"`

	// end-to-end latency bound, seconds
	Deadline float64 `json:"deadline" yaml:"deadline"`

	// 802.1Q priority, 0..7
	Class int `json:"class" yaml:"class"`

	// traffic profile the stream was drawn from, empty for the default envelope
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// paths to each destination beyond the primary one, each carrying its own copy of every frame
	Redundancy int `json:"redundancy,omitempty" yaml:"redundancy,omitempty"`

	// the stream running the other way between the same two end-stations
	Pair string `json:"pair,omitempty" yaml:"pair,omitempty"`
}

// CreateStream is a constructor
func CreateStream(name, source string, destinations []string, period float64, frameSize int,
	deadline float64, class int) *Stream {

	return &Stream{Name: name, Source: source, Destinations: slices.Clone(destinations),
		Period: period, FrameSize: frameSize, Deadline: deadline, Class: class}
}

// Bandwidth is the bits/sec the stream needs reserved on every link it crosses, per copy
func (strm *Stream) Bandwidth() float64 {
	return streamBandwidth(strm.FrameSize, strm.Period)
}

func (strm *Stream) IsMulticast() bool {
	return len(strm.Destinations) > 1
}

// Reverse creates the stream from strm's first destination back to its source, with the same
// envelope and redundancy, and pairs the two
func (strm *Stream) Reverse(name string) *Stream {
	rev := CreateStream(name, strm.Destinations[0], []string{strm.Source}, strm.Period, strm.FrameSize,
		strm.Deadline, strm.Class)
	rev.Type, rev.Redundancy, rev.Pair = strm.Type, strm.Redundancy, strm.Name
	strm.Pair = name
	return rev
}

// envelope is what the streams of one traffic type are drawn from
type envelope struct {
	name       string
	classes    distuv.Categorical
	periods    []float64 // harmonic choices, or the bounds of a uniform draw
	uniform    bool
	deadlines  Range
	frameSizes Range
	multicast  float64

	// chance each unicast stream is followed by its reverse
	bidirectional float64

	// the first redundantCount streams get redundantPaths extra paths, or with redundantCount
	// negative each stream does with chance redundant
	redundantCount int
	redundant      float64
	redundantPaths int

	// endpoints in different domains
	cross bool
}

// streamGen carries the state of one stream generation
type streamGen struct {
	p        *Params
	rng      *rand.Rand
	topo     *Topology
	stations []*NodeFrame
	sourced  map[string]int // streams sourced so far, by end-station
	drawn    map[*envelope]int

	// end-stations by domain, and the domains with room for a domain-local stream
	byDomain map[int][]*NodeFrame
	local    []int
}

// HarmonicPeriods lists the periods min, 2*min, 4*min, ... not above max.  Every pair of them
// divides evenly, which keeps the hyperperiod of a stream set equal to its longest period.
func HarmonicPeriods(r Range) []float64 {
	periods := []float64{}
	if !(r.Min > 0) {
		return periods
	}
	for period := r.Min; withinLimit(period, r.Max); period *= 2 {
		periods = append(periods, period)
	}
	return periods
}

// PeriodChoices lists the harmonic periods of r that can carry a deadline of at least minDeadline.
// With uniform set it gives instead the bounds of the part of r drawn from.  An empty result
// means no period of r fits a deadline that long.
func PeriodChoices(r Range, minDeadline float64, uniform bool) []float64 {
	if uniform {
		lo := math.Max(r.Min, minDeadline)
		if !(lo <= r.Max) {
			return []float64{}
		}
		return []float64{lo, r.Max}
	}
	rtn := []float64{}
	for _, period := range HarmonicPeriods(r) {
		if period >= minDeadline {
			rtn = append(rtn, period)
		}
	}
	return rtn
}

// GenerateStreams creates p.StreamCount streams over the end-stations of the topology,
// drawing every random choice from rng.  A stream is redrawn up to p.StreamAttempts times
// until its deadline can be met on the topology's lowest-latency path to every destination;
// after that ErrUnsatisfiableStream is returned.  Streams come back in generation order.
func GenerateStreams(topo *Topology, p *Params, rng *rand.Rand) ([]*Stream, error) {
	streams := make([]*Stream, 0, p.StreamCount)
	if p.StreamCount == 0 {
		return streams, nil
	}

	sg := &streamGen{p: p, rng: rng, topo: topo, stations: topo.EndStations(), sourced: make(map[string]int),
		drawn: make(map[*envelope]int), byDomain: make(map[int][]*NodeFrame)}
	if len(sg.stations) < 2 {
		return nil, fmt.Errorf("%w: topology %s has %d end-stations, streams need two",
			ErrUnsatisfiableStream, topo.Name, len(sg.stations))
	}
	for _, station := range sg.stations {
		sg.byDomain[station.Domain] = append(sg.byDomain[station.Domain], station)
	}
	for domain := range sg.byDomain {
		if len(sg.byDomain[domain]) > 1 {
			sg.local = append(sg.local, domain)
		}
	}
	slices.Sort(sg.local)

	slots := sg.slots()
	if p.CrossDomainStreams > 0 && len(sg.byDomain) < 2 {
		return nil, fmt.Errorf("%w: cross-domain streams need end-stations in two domains", ErrUnsatisfiableStream)
	}
	if p.CrossDomainStreams < len(slots) && len(sg.local) == 0 {
		return nil, fmt.Errorf("%w: no domain has two end-stations", ErrUnsatisfiableStream)
	}

	for idx := 0; idx < len(slots); {
		env := slots[idx]
		strm, err := sg.satisfiable(fmt.Sprintf("S%d", idx), env)
		if err != nil {
			return nil, err
		}
		if env.redundantCount >= 0 {
			if sg.drawn[env] < env.redundantCount {
				strm.Redundancy = env.redundantPaths
			}
		} else if env.redundant > 0 && sg.rng.Float64() < env.redundant {
			strm.Redundancy = env.redundantPaths
		}
		sg.keep(env, strm)
		streams = append(streams, strm)
		idx++

		// the reverse takes the next slot, so the count stays exact
		if env.bidirectional > 0 && !strm.IsMulticast() && idx < len(slots) && slots[idx] == env &&
			sg.rng.Float64() < env.bidirectional {
			rev := strm.Reverse(fmt.Sprintf("S%d", idx))
			sg.keep(env, rev)
			streams = append(streams, rev)
			idx++
		}
	}
	return streams, nil
}

func (sg *streamGen) keep(env *envelope, strm *Stream) {
	sg.drawn[env] += 1
	sg.sourced[strm.Source] += 1
}

// slots gives the envelope of each stream to draw, in order: the domain-local streams of the
// default envelope or of each profile, then the cross-domain streams
func (sg *streamGen) slots() []*envelope {
	p := sg.p
	slots := make([]*envelope, 0, p.StreamCount)
	local := p.StreamCount - p.CrossDomainStreams
	if len(p.Profiles) == 0 {
		env := sg.defaultEnvelope(false)
		for len(slots) < local {
			slots = append(slots, env)
		}
	} else {
		for idx := range p.Profiles {
			env := sg.profileEnvelope(&p.Profiles[idx])
			for k := 0; k < p.Profiles[idx].Count; k++ {
				slots = append(slots, env)
			}
		}
	}
	if p.CrossDomainStreams > 0 {
		env := sg.defaultEnvelope(true)
		for k := 0; k < p.CrossDomainStreams; k++ {
			slots = append(slots, env)
		}
	}
	return slots
}

func (sg *streamGen) defaultEnvelope(cross bool) *envelope {
	p := sg.p
	return &envelope{classes: distuv.NewCategorical(p.ClassDistribution, sg.rng),
		periods: PeriodChoices(p.PeriodRange, p.DeadlineRange.Min, p.UniformPeriods), uniform: p.UniformPeriods,
		deadlines: p.DeadlineRange, frameSizes: p.FrameSizeRange, multicast: p.MulticastRatio,
		bidirectional: p.BidirectionalRatio, redundantCount: -1, redundant: p.RedundantRatio,
		redundantPaths: p.RedundantPaths, cross: cross}
}

func (sg *streamGen) profileEnvelope(tp *TrafficProfile) *envelope {
	// a class listed twice is drawn twice as often
	weights := make([]float64, NumClasses)
	for _, class := range tp.Classes {
		weights[class] += 1
	}
	env := &envelope{name: tp.Name, classes: distuv.NewCategorical(weights, sg.rng),
		periods: PeriodChoices(tp.PeriodRange, tp.DeadlineRange.Min, sg.p.UniformPeriods), uniform: sg.p.UniformPeriods,
		deadlines: tp.DeadlineRange, frameSizes: tp.FrameSizeRange, multicast: tp.MulticastRatio,
		redundantCount: tp.RedundantCount, redundantPaths: tp.RedundantPaths}
	if tp.Bidirectional {
		env.bidirectional = 1
	}
	return env
}

// satisfiable draws candidates until one can meet its deadline
func (sg *streamGen) satisfiable(name string, env *envelope) (*Stream, error) {
	shortfall := math.Inf(1)
	for attempt := 0; attempt < sg.p.StreamAttempts; attempt++ {
		candidate := sg.draw(name, env)
		if candidate == nil {
			continue
		}
		need, reachable := sg.minLatency(candidate)
		if reachable && withinLimit(need, candidate.Deadline) {
			return candidate, nil
		}
		shortfall = need
	}
	return nil, fmt.Errorf("%w: %s has no timing envelope within deadline range [%g,%g] after %d attempts (latency needed %g)",
		ErrUnsatisfiableStream, name, env.deadlines.Min, env.deadlines.Max, sg.p.StreamAttempts, shortfall)
}

// draw makes one candidate stream, or returns nil when the chosen source has no possible destination
func (sg *streamGen) draw(name string, env *envelope) *Stream {
	pool := sg.stations
	if !env.cross && sg.p.Domains > 1 {
		pool = sg.byDomain[sg.local[sg.rng.IntN(len(sg.local))]]
	}
	source := sg.pickSource(pool)

	var others []string
	if env.cross {
		node, _ := sg.topo.Node(source)
		for _, station := range sg.stations {
			if station.Domain != node.Domain {
				others = append(others, station.Name)
			}
		}
	} else {
		for _, station := range pool {
			if station.Name != source {
				others = append(others, station.Name)
			}
		}
	}
	if len(others) == 0 {
		return nil
	}

	numDests := 1
	if env.multicast > 0 && sg.rng.Float64() < env.multicast {
		most := min(sg.p.MaxDestinations, len(others))
		if most >= 2 {
			numDests = 2 + sg.rng.IntN(most-1)
		}
	}
	sg.rng.Shuffle(len(others), func(i, j int) { others[i], others[j] = others[j], others[i] })

	period := sg.drawPeriod(env)
	frameSize := sg.drawFrameSize(env.frameSizes)

	// deadlines never exceed the period, which is never below the shortest deadline
	hi := math.Max(env.deadlines.Min, math.Min(env.deadlines.Max, period))
	deadline := distuv.Uniform{Min: env.deadlines.Min, Max: hi, Src: sg.rng}.Rand()

	class := int(env.classes.Rand())

	strm := CreateStream(name, source, others[:numDests], period, frameSize, deadline, class)
	strm.Type = env.name
	return strm
}

// pickSource chooses the source end-station from the pool, uniformly or among those that source
// the fewest streams
func (sg *streamGen) pickSource(pool []*NodeFrame) string {
	if sg.p.SourceSelection != LeastUsedSelection {
		return pool[sg.rng.IntN(len(pool))].Name
	}
	least := math.MaxInt
	ties := []string{}
	for _, station := range pool {
		count := sg.sourced[station.Name]
		if count < least {
			least = count
			ties = ties[:0]
		}
		if count == least {
			ties = append(ties, station.Name)
		}
	}
	return ties[sg.rng.IntN(len(ties))]
}

func (sg *streamGen) drawPeriod(env *envelope) float64 {
	if !env.uniform {
		return env.periods[sg.rng.IntN(len(env.periods))]
	}
	return distuv.Uniform{Min: env.periods[0], Max: env.periods[1], Src: sg.rng}.Rand()
}

// drawFrameSize draws from a normal distribution centred in the frame size range, clamped to it
func (sg *streamGen) drawFrameSize(r Range) int {
	lo, hi := r.Min, r.Max
	if hi <= lo {
		return int(math.Ceil(lo))
	}
	size := distuv.Normal{Mu: (lo + hi) / 2, Sigma: (hi - lo) / 6, Src: sg.rng}.Rand()
	size = math.Max(lo, math.Min(hi, math.Round(size)))
	return int(size)
}

// minLatency is the largest, over the stream's destinations, of the lowest latency its frame can see
func (sg *streamGen) minLatency(strm *Stream) (float64, bool) {
	need := 0.0
	for _, dest := range strm.Destinations {
		latency, reachable := sg.topo.LatencyDistance(strm.Source, dest, strm.FrameSize)
		if !reachable {
			return math.Inf(1), false
		}
		need = math.Max(need, latency)
	}
	return need, true
}
