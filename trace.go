package tsncase

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// generation phases a trace record may belong to
const (
	TopologyPhase = "topology"
	StreamPhase   = "stream"
	RoutePhase    = "route"
	ValidatePhase = "validate"
)

type TraceInst struct {
	// order in which the record was added, over all phases
	Seq        int    `json:"seq" yaml:"seq"`
	TracePhase string `json:"tracephase" yaml:"tracephase"`
	TraceStr   string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers a record of how one case was generated: what the topology
// generator laid out, which streams were drawn, how each was admitted, and what
// the validator found
type TraceManager struct {
	// case uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of the case
	CaseName string `json:"casename" yaml:"casename"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this case, by phase
	Traces map[string][]TraceInst `json:"traces" yaml:"traces"`

	seq int
}

// CreateTraceManager is a constructor.  It saves the name of the case
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(caseName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.CaseName = caseName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[string][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a record under its phase
func (tm *TraceManager) AddTrace(phase string, traceStr string) {
	// return if we aren't using the trace manager
	if !tm.Active() {
		return
	}
	tm.Traces[phase] = append(tm.Traces[phase], TraceInst{Seq: tm.seq, TracePhase: phase, TraceStr: traceStr})
	tm.seq += 1
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file.
// Ids already present keep their first entry.
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	if _, present := tm.NameByID[id]; !present {
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// Records lists every trace record in the order added
func (tm *TraceManager) Records() []TraceInst {
	all := []TraceInst{}
	for _, valueList := range tm.Traces {
		all = append(all, valueList...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Seq < all[j].Seq
	})
	return all
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// With globalOrder set, the records of all phases are merged into one list, in the order added.
func (tm *TraceManager) WriteToFile(filename string, globalOrder bool) error {
	if !tm.Active() {
		return nil
	}
	if !globalOrder {
		return writeDesc(filename, tm)
	}

	ntm := CreateTraceManager(tm.CaseName, tm.InUse)
	for key, value := range tm.NameByID {
		ntm.NameByID[key] = value
	}
	ntm.Traces["all"] = tm.Records()
	return writeDesc(filename, ntm)
}

func serializeTrace(trace any) string {
	bytes, merr := yaml.Marshal(trace)
	if merr != nil {
		return merr.Error()
	}
	return string(bytes)
}

// TopoTrace records one node or link the topology generator placed
type TopoTrace struct {
	ObjID     int
	Op        string // "node", "link"
	Name      string
	Kind      string
	Bandwidth float64 `yaml:",omitempty"`
	Delay     float64 `yaml:",omitempty"`
}

// StreamTrace records a stream drawn by the stream generator, with the lowest latency its
// frames can see on the topology
type StreamTrace struct {
	ObjID      int
	Stream     string
	Source     string
	Dsts       []string
	Class      int
	Deadline   float64
	MinLatency float64
	Redundancy int    `yaml:",omitempty"`
	Pair       string `yaml:",omitempty"`
}

// AdmitTrace records the router's decision on one stream
type AdmitTrace struct {
	Stream string
	Op     string // "admit", "reject"
	Route  string `yaml:",omitempty"`
	Hops   int    `yaml:",omitempty"`
	Copies int    `yaml:",omitempty"`
	Kind   string `yaml:",omitempty"`
	Reason string `yaml:",omitempty"`
}

// ValidateTrace records the outcome of one validation check
type ValidateTrace struct {
	Check      string
	Violations int
}

// AddTopoTraces records every node and link of the topology
func AddTopoTraces(tm *TraceManager, topo *Topology) {
	if !tm.Active() {
		return
	}
	for _, node := range topo.Nodes {
		tm.AddName(node.Number, node.Name, NodeKindToStr(node.Kind))
		tm.AddTrace(TopologyPhase, serializeTrace(TopoTrace{ObjID: node.Number, Op: "node",
			Name: node.Name, Kind: NodeKindToStr(node.Kind)}))
	}
	base := len(topo.Nodes)
	for _, link := range topo.Links {
		kind := "backbone"
		if link.IsAccess() {
			kind = "access"
		}
		tm.AddName(base+link.Number, link.Name, "link")
		tm.AddTrace(TopologyPhase, serializeTrace(TopoTrace{ObjID: base + link.Number, Op: "link",
			Name: link.Name, Kind: kind, Bandwidth: link.Bandwidth, Delay: link.Delay}))
	}
}

// AddStreamTraces records every stream and the lowest latency it can see on the topology
func AddStreamTraces(tm *TraceManager, topo *Topology, streams []*Stream) {
	if !tm.Active() {
		return
	}
	base := len(topo.Nodes) + len(topo.Links)
	for idx, strm := range streams {
		sg := &streamGen{topo: topo}
		need, _ := sg.minLatency(strm)
		tm.AddName(base+idx, strm.Name, "stream")
		tm.AddTrace(StreamPhase, serializeTrace(StreamTrace{ObjID: base + idx, Stream: strm.Name,
			Source: strm.Source, Dsts: strm.Destinations, Class: strm.Class, Deadline: strm.Deadline,
			MinLatency: need, Redundancy: strm.Redundancy, Pair: strm.Pair}))
	}
}

// AddAdmitTraces records the admission outcome of every stream, in stream order
func AddAdmitTraces(tm *TraceManager, streams []*Stream, routes []*Route, failures []*AdmissionError) {
	if !tm.Active() {
		return
	}
	for _, strm := range streams {
		at := AdmitTrace{Stream: strm.Name}
		for _, route := range routes {
			if route.Stream == strm.Name {
				at.Op = "admit"
				at.Route = route.Name
				at.Hops = len(route.Links())
				at.Copies = route.Members()
			}
		}
		for _, failure := range failures {
			if failure.Stream == strm.Name {
				at.Op = "reject"
				at.Kind = AdmissionKind(failure)
				at.Reason = failure.Err.Error()
			}
		}
		if len(at.Op) == 0 {
			at.Op = "reject"
			at.Kind = "abandoned"
		}
		tm.AddTrace(RoutePhase, serializeTrace(at))
	}
}

// AddValidateTraces records the number of violations each check found
func AddValidateTraces(tm *TraceManager, vr *ValidationResult) {
	if !tm.Active() || vr == nil {
		return
	}
	for _, check := range CheckNames {
		tm.AddTrace(ValidatePhase, serializeTrace(ValidateTrace{Check: check, Violations: len(vr.ByCheck(check))}))
	}
}
