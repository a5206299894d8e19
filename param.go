package tsncase

// param.go holds the parameters of a generation request, their defaults and checks,
// and the attribute-matched overrides that let a parameter file set the properties of
// selected links and ports after the topology generator has laid them out.

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// Range is a closed interval [Min, Max]
type Range struct {
	Min float64 `mapstructure:"min" json:"min" yaml:"min"`
	Max float64 `mapstructure:"max" json:"max" yaml:"max"`
}

func (r Range) valid() bool {
	return !math.IsNaN(r.Min) && !math.IsNaN(r.Max) && r.Min <= r.Max
}

// Params is the configuration record of one generation request.  Start from DefaultParams
// and change what is needed; Validate reports every problem at once.
type Params struct {
	// label given to the case; it takes part in the case identifier
	Name string `mapstructure:"name" json:"name" yaml:"name"`

	Seed uint64 `mapstructure:"seed" json:"seed" yaml:"seed"`

	// topology
	NodeCount         int             `mapstructure:"node_count" json:"node_count" yaml:"node_count"`
	BridgeRatio       float64         `mapstructure:"bridge_ratio" json:"bridge_ratio" yaml:"bridge_ratio"`
	DegreeTarget      float64         `mapstructure:"degree_target" json:"degree_target" yaml:"degree_target"`
	LayoutTemplate    string          `mapstructure:"layout_template" json:"layout_template" yaml:"layout_template"`
	PortBudget        int             `mapstructure:"port_budget" json:"port_budget" yaml:"port_budget"`
	PortCapacity      float64         `mapstructure:"port_capacity" json:"port_capacity" yaml:"port_capacity"`
	ClassPartition    []float64       `mapstructure:"class_partition" json:"class_partition" yaml:"class_partition"`
	BackboneBandwidth float64         `mapstructure:"backbone_bandwidth" json:"backbone_bandwidth" yaml:"backbone_bandwidth"`
	AccessBandwidth   float64         `mapstructure:"access_bandwidth" json:"access_bandwidth" yaml:"access_bandwidth"`
	BackboneDelay     Range           `mapstructure:"backbone_delay" json:"backbone_delay" yaml:"backbone_delay"`
	AccessDelay       Range           `mapstructure:"access_delay" json:"access_delay" yaml:"access_delay"`
	TopologyAttempts  int             `mapstructure:"topology_attempts" json:"topology_attempts" yaml:"topology_attempts"`
	Overrides         []TopoParameter `mapstructure:"overrides" json:"overrides" yaml:"overrides"`

	// bridges and end-stations are split evenly over Domains; DomainLinks bridge pairs join
	// each pair of domains the interconnect layout names
	Domains            int    `mapstructure:"domains" json:"domains" yaml:"domains"`
	DomainInterconnect string `mapstructure:"domain_interconnect" json:"domain_interconnect" yaml:"domain_interconnect"`
	DomainLinks        int    `mapstructure:"domain_links" json:"domain_links" yaml:"domain_links"`

	// streams
	StreamCount       int       `mapstructure:"stream_count" json:"stream_count" yaml:"stream_count"`
	ClassDistribution []float64 `mapstructure:"class_distribution" json:"class_distribution" yaml:"class_distribution"`
	PeriodRange       Range     `mapstructure:"period_range" json:"period_range" yaml:"period_range"`
	UniformPeriods    bool      `mapstructure:"uniform_periods" json:"uniform_periods" yaml:"uniform_periods"`

	// a deadline never exceeds its period, so only periods of at least DeadlineRange.Min are drawn
	DeadlineRange Range `mapstructure:"deadline_range" json:"deadline_range" yaml:"deadline_range"`

	FrameSizeRange    Range     `mapstructure:"frame_size_range" json:"frame_size_range" yaml:"frame_size_range"`
	MulticastRatio    float64   `mapstructure:"multicast_ratio" json:"multicast_ratio" yaml:"multicast_ratio"`
	MaxDestinations   int       `mapstructure:"max_destinations" json:"max_destinations" yaml:"max_destinations"`
	SourceSelection   string    `mapstructure:"source_selection" json:"source_selection" yaml:"source_selection"`
	StreamAttempts    int       `mapstructure:"stream_attempts" json:"stream_attempts" yaml:"stream_attempts"`

	// the last CrossDomainStreams streams join end-stations of different domains
	CrossDomainStreams int `mapstructure:"cross_domain_streams" json:"cross_domain_streams" yaml:"cross_domain_streams"`

	// chance a unicast stream is followed by its reverse, counted in StreamCount
	BidirectionalRatio float64 `mapstructure:"bidirectional_ratio" json:"bidirectional_ratio" yaml:"bidirectional_ratio"`

	// chance a stream is sent over RedundantPaths extra disjoint-as-possible paths
	RedundantRatio float64 `mapstructure:"redundant_ratio" json:"redundant_ratio" yaml:"redundant_ratio"`
	RedundantPaths int     `mapstructure:"redundant_paths" json:"redundant_paths" yaml:"redundant_paths"`

	// when present, the domain-local streams come from these, in order, instead of the envelope above
	Profiles []TrafficProfile `mapstructure:"profiles" json:"profiles" yaml:"profiles"`

	// routes
	AdmissionMode string  `mapstructure:"admission_mode" json:"admission_mode" yaml:"admission_mode"`
	CostWeight    float64 `mapstructure:"cost_weight" json:"cost_weight" yaml:"cost_weight"`
}

// DefaultParams returns the parameters used for anything a request does not set.
// Bandwidths follow common TSN deployments: 1 Gb/s between bridges, 100 Mb/s to end-stations.
func DefaultParams() *Params {
	return &Params{
		Name:              "case",
		NodeCount:         10,
		BridgeRatio:       0.5,
		DegreeTarget:      3,
		LayoutTemplate:    RandomLayout,
		PortBudget:        8,
		PortCapacity:      1e9,
		ClassPartition:    []float64{0.75, 0.75, 0.75, 0.75, 0.75, 0.75, 0.75, 0.75},
		BackboneBandwidth: 1e9,
		AccessBandwidth:   1e8,
		BackboneDelay:     Range{Min: 10e-6, Max: 50e-6},
		AccessDelay:       Range{Min: 1e-6, Max: 10e-6},
		TopologyAttempts:  1000,
		Overrides:         []TopoParameter{},

		Domains:            1,
		DomainInterconnect: LineInterconnect,
		DomainLinks:        1,

		StreamCount:       8,
		ClassDistribution: []float64{1, 1, 1, 1, 1, 1, 1, 1},
		PeriodRange:       Range{Min: 0.004, Max: 0.032},
		DeadlineRange:     Range{Min: 0.002, Max: 0.010},
		FrameSizeRange:    Range{Min: 64, Max: 1500},
		MulticastRatio:    0,
		MaxDestinations:   3,
		SourceSelection:   UniformSelection,
		StreamAttempts:    100,

		CrossDomainStreams: 0,
		BidirectionalRatio: 0,
		RedundantRatio:     0,
		RedundantPaths:     1,
		Profiles:           []TrafficProfile{},

		AdmissionMode: AdmissionModeToStr(BestEffort),
		CostWeight:    1.0,
	}
}

// Clone returns a deep copy.  Absent lists come back empty, so that a copy serializes the
// same way before and after a trip through a yaml or json file.
func (p *Params) Clone() *Params {
	cp := *p
	cp.ClassPartition = cloneList(p.ClassPartition)
	cp.ClassDistribution = cloneList(p.ClassDistribution)
	cp.Overrides = make([]TopoParameter, 0, len(p.Overrides))
	for _, tp := range p.Overrides {
		tp.Attributes = cloneList(tp.Attributes)
		cp.Overrides = append(cp.Overrides, tp)
	}
	cp.Profiles = make([]TrafficProfile, 0, len(p.Profiles))
	for _, tp := range p.Profiles {
		tp.Classes = cloneList(tp.Classes)
		cp.Profiles = append(cp.Profiles, tp)
	}
	return &cp
}

// cloneList copies a slice, giving an empty one for nil
func cloneList[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return slices.Clone(list)
}

// Validate checks every parameter and reports all problems found, wrapped in ErrInvalidParams
func (p *Params) Validate() error {
	errs := []error{}
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.NodeCount < 1 {
		fail("node_count %d must be at least 1", p.NodeCount)
	}
	if !(p.BridgeRatio >= 0 && p.BridgeRatio <= 1) {
		fail("bridge_ratio %v outside [0,1]", p.BridgeRatio)
	}
	if !(p.DegreeTarget >= 0) {
		fail("degree_target %v must be non-negative", p.DegreeTarget)
	}
	if !slices.Contains(LayoutTemplates, p.LayoutTemplate) {
		fail("layout_template %q not one of %s", p.LayoutTemplate, strings.Join(LayoutTemplates, ","))
	}
	if p.PortBudget < 2 {
		fail("port_budget %d must be at least 2", p.PortBudget)
	}
	if !(p.PortCapacity > 0) {
		fail("port_capacity %v must be positive", p.PortCapacity)
	}
	if _, err := SharesFromSlice(p.ClassPartition); err != nil {
		fail("class_partition: %v", err)
	}
	if !(p.BackboneBandwidth > 0 && p.BackboneBandwidth <= p.PortCapacity) {
		fail("backbone_bandwidth %v must be positive and at most port_capacity", p.BackboneBandwidth)
	}
	if !(p.AccessBandwidth > 0 && p.AccessBandwidth <= p.PortCapacity) {
		fail("access_bandwidth %v must be positive and at most port_capacity", p.AccessBandwidth)
	}
	if !p.BackboneDelay.valid() || p.BackboneDelay.Min < 0 {
		fail("backbone_delay %v invalid", p.BackboneDelay)
	}
	if !p.AccessDelay.valid() || p.AccessDelay.Min < 0 {
		fail("access_delay %v invalid", p.AccessDelay)
	}
	if p.TopologyAttempts < 1 {
		fail("topology_attempts %d must be at least 1", p.TopologyAttempts)
	}
	for idx := range p.Overrides {
		if err := p.Overrides[idx].Validate(); err != nil {
			fail("overrides[%d]: %v", idx, err)
		}
	}
	if p.Domains < 1 {
		fail("domains %d must be at least 1", p.Domains)
	} else if p.Domains > 1 && BridgeCount(p.NodeCount, p.BridgeRatio) < p.Domains {
		fail("domains %d need a bridge each, node_count and bridge_ratio give %d",
			p.Domains, BridgeCount(p.NodeCount, p.BridgeRatio))
	}
	if !slices.Contains(DomainInterconnects, p.DomainInterconnect) {
		fail("domain_interconnect %q not one of %s", p.DomainInterconnect, strings.Join(DomainInterconnects, ","))
	}
	if p.DomainLinks < 1 {
		fail("domain_links %d must be at least 1", p.DomainLinks)
	}

	if p.StreamCount < 0 {
		fail("stream_count %d must be non-negative", p.StreamCount)
	}
	if len(p.ClassDistribution) != NumClasses {
		fail("class_distribution needs %d weights, has %d", NumClasses, len(p.ClassDistribution))
	} else {
		sum := 0.0
		for _, w := range p.ClassDistribution {
			if !(w >= 0) {
				fail("class_distribution weight %v must be non-negative", w)
			}
			sum += w
		}
		if !(sum > 0) {
			fail("class_distribution has no positive weight")
		}
	}
	if err := checkEnvelope(p.PeriodRange, p.DeadlineRange, p.FrameSizeRange, p.UniformPeriods); err != nil {
		fail("%v", err)
	}
	if !(p.MulticastRatio >= 0 && p.MulticastRatio <= 1) {
		fail("multicast_ratio %v outside [0,1]", p.MulticastRatio)
	}
	if p.MaxDestinations < 1 {
		fail("max_destinations %d must be at least 1", p.MaxDestinations)
	}
	if p.SourceSelection != UniformSelection && p.SourceSelection != LeastUsedSelection {
		fail("source_selection %q not %s or %s", p.SourceSelection, UniformSelection, LeastUsedSelection)
	}
	if p.StreamAttempts < 1 {
		fail("stream_attempts %d must be at least 1", p.StreamAttempts)
	}
	if p.CrossDomainStreams < 0 || p.CrossDomainStreams > p.StreamCount {
		fail("cross_domain_streams %d outside 0..stream_count", p.CrossDomainStreams)
	} else if p.CrossDomainStreams > 0 && p.Domains < 2 {
		fail("cross_domain_streams %d need at least 2 domains", p.CrossDomainStreams)
	}
	if !(p.BidirectionalRatio >= 0 && p.BidirectionalRatio <= 1) {
		fail("bidirectional_ratio %v outside [0,1]", p.BidirectionalRatio)
	}
	if !(p.RedundantRatio >= 0 && p.RedundantRatio <= 1) {
		fail("redundant_ratio %v outside [0,1]", p.RedundantRatio)
	}
	if p.RedundantPaths < 0 || (p.RedundantRatio > 0 && p.RedundantPaths < 1) {
		fail("redundant_paths %d must be at least 1 when redundant_ratio is set", p.RedundantPaths)
	}
	if len(p.Profiles) > 0 {
		total := p.CrossDomainStreams
		names := []string{}
		for idx := range p.Profiles {
			tp := &p.Profiles[idx]
			if slices.Contains(names, tp.Name) {
				fail("profiles[%d]: name %q repeated", idx, tp.Name)
			}
			names = append(names, tp.Name)
			if err := tp.Validate(p.UniformPeriods); err != nil {
				fail("profiles[%d]: %v", idx, err)
			}
			total += tp.Count
		}
		if total != p.StreamCount {
			fail("profile counts and cross_domain_streams add up to %d, stream_count is %d", total, p.StreamCount)
		}
	}

	if _, err := AdmissionModeFromStr(p.AdmissionMode); err != nil {
		fail("%v", err)
	}
	if !(p.CostWeight >= 0) {
		fail("cost_weight %v must be non-negative", p.CostWeight)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidParams, ReportErrs(errs))
}

// checkEnvelope checks the ranges a stream's timing envelope is drawn from, including that
// some period can carry a deadline from the deadline range
func checkEnvelope(periods, deadlines, frameSizes Range, uniform bool) error {
	errs := []error{}
	if !periods.valid() || !(periods.Min > 0) {
		errs = append(errs, fmt.Errorf("period_range %v invalid", periods))
	}
	if !deadlines.valid() || !(deadlines.Min > 0) {
		errs = append(errs, fmt.Errorf("deadline_range %v invalid", deadlines))
	}
	if !frameSizes.valid() || frameSizes.Min < 1 {
		errs = append(errs, fmt.Errorf("frame_size_range %v invalid", frameSizes))
	}
	if len(errs) == 0 && len(PeriodChoices(periods, deadlines.Min, uniform)) == 0 {
		errs = append(errs, fmt.Errorf("no period in period_range %v reaches deadline_range minimum %g",
			periods, deadlines.Min))
	}
	if len(errs) == 0 {
		return nil
	}
	return ReportErrs(errs)
}

// TrafficProfile describes one type of traffic: how many streams of it to draw, the priorities
// they may take and their timing envelope.  The first RedundantCount of them get RedundantPaths
// extra paths; Bidirectional makes each unicast stream of the type come with its reverse.
type TrafficProfile struct {
	Name           string  `mapstructure:"name" json:"name" yaml:"name"`
	Count          int     `mapstructure:"count" json:"count" yaml:"count"`
	Classes        []int   `mapstructure:"classes" json:"classes" yaml:"classes"`
	PeriodRange    Range   `mapstructure:"period_range" json:"period_range" yaml:"period_range"`
	DeadlineRange  Range   `mapstructure:"deadline_range" json:"deadline_range" yaml:"deadline_range"`
	FrameSizeRange Range   `mapstructure:"frame_size_range" json:"frame_size_range" yaml:"frame_size_range"`
	MulticastRatio float64 `mapstructure:"multicast_ratio" json:"multicast_ratio" yaml:"multicast_ratio"`
	RedundantCount int     `mapstructure:"redundant_count" json:"redundant_count" yaml:"redundant_count"`
	RedundantPaths int     `mapstructure:"redundant_paths" json:"redundant_paths" yaml:"redundant_paths"`
	Bidirectional  bool    `mapstructure:"bidirectional" json:"bidirectional" yaml:"bidirectional"`
}

// Validate reports every problem of the profile
func (tp *TrafficProfile) Validate(uniformPeriods bool) error {
	errs := []error{}
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if len(tp.Name) == 0 {
		fail("profile has no name")
	}
	if tp.Count < 0 {
		fail("count %d must be non-negative", tp.Count)
	}
	if len(tp.Classes) == 0 {
		fail("classes empty")
	}
	for _, class := range tp.Classes {
		if class < 0 || class >= NumClasses {
			fail("class %d outside 0..%d", class, NumClasses-1)
		}
	}
	if err := checkEnvelope(tp.PeriodRange, tp.DeadlineRange, tp.FrameSizeRange, uniformPeriods); err != nil {
		fail("%v", err)
	}
	if !(tp.MulticastRatio >= 0 && tp.MulticastRatio <= 1) {
		fail("multicast_ratio %v outside [0,1]", tp.MulticastRatio)
	}
	if tp.RedundantCount < 0 || tp.RedundantCount > tp.Count {
		fail("redundant_count %d outside 0..count", tp.RedundantCount)
	}
	if tp.RedundantPaths < 0 || (tp.RedundantCount > 0 && tp.RedundantPaths < 1) {
		fail("redundant_paths %d must be at least 1 when redundant_count is set", tp.RedundantPaths)
	}
	if len(errs) == 0 {
		return nil
	}
	return ReportErrs(errs)
}

// WriteToFile stores the Params struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (p *Params) WriteToFile(filename string) error {
	return writeDesc(filename, p)
}

// ReadParams deserializes a byte slice holding a representation of a Params struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  Fields absent from the input keep their DefaultParams values.
func ReadParams(filename string, useYAML bool, dict []byte) (*Params, error) {
	p := DefaultParams()
	if err := readDesc(filename, useYAML, dict, p); err != nil {
		return nil, err
	}
	return p, nil
}

// writeDesc marshals v as yaml or json, chosen by the extension of filename, and writes it
func writeDesc(filename string, v any) error {
	var bytes []byte
	var merr error

	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(v)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(v, "", "\t")
	default:
		return fmt.Errorf("file %s: extension must be .yaml, .yml or .json", filename)
	}
	if merr != nil {
		return merr
	}

	return os.WriteFile(filename, bytes, 0o644)
}

// readDesc unmarshals dict, or the contents of filename when dict is empty, into v
func readDesc(filename string, useYAML bool, dict []byte, v any) error {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		return yaml.Unmarshal(dict, v)
	}
	return json.Unmarshal(dict, v)
}

// UseYAML reports whether a file name calls for yaml rather than json
func UseYAML(filename string) bool {
	ext := path.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// AttrbStruct holds the name of an attribute and a value for it
type AttrbStruct struct {
	AttrbName  string `mapstructure:"attrbname" json:"attrbname" yaml:"attrbname"`
	AttrbValue string `mapstructure:"attrbvalue" json:"attrbvalue" yaml:"attrbvalue"`
}

// CreateAttrbStruct is a constructor
func CreateAttrbStruct(attrbName, attrbValue string) *AttrbStruct {
	as := new(AttrbStruct)
	as.AttrbName = attrbName
	as.AttrbValue = attrbValue
	return as
}

// TopoParamObjs, TopoAttributes, and TopoParams describe the types of objects an override can
// be applied to, for each the attributes tested to decide whether an object receives the override,
// and the parameters that can be set.
//   - link: name (link name), kind (backbone or access), node (name of either endpoint)
//   - port: node (name of the node holding it), kind (bridge or end-station)
var (
	TopoParamObjs  = []string{"link", "port"}
	TopoAttributes = map[string][]string{
		"link": {"name", "kind", "node", "*"},
		"port": {"node", "kind", "*"},
	}
	TopoParams = map[string][]string{
		"link": {"bandwidth", "delay"},
		"port": {"partition"},
	}
)

// ValidateAttribute checks that the attribute named is one that associates with the parameter object type named
func ValidateAttribute(paramObj, attrbName string) bool {
	attrbs, present := TopoAttributes[paramObj]
	if !present {
		return false
	}
	return slices.Contains(attrbs, attrbName)
}

// CompareAttrbs returns -1 if the first argument is strictly more general than the second,
// returns 1 if the second argument is strictly more general than the first, and 0 otherwise.
// A wildcard list is more general than any other.
func CompareAttrbs(attrbs1, attrbs2 []AttrbStruct) int {
	wild1, wild2 := isWildcard(attrbs1), isWildcard(attrbs2)
	switch {
	case wild1 && !wild2:
		return -1
	case wild2 && !wild1:
		return 1
	case wild1 && wild2:
		return 0
	}

	// attrbs1 is strictly more general if it is strictly shorter and every name it has is shared by attrbs2
	if len(attrbs1) < len(attrbs2) && namesContained(attrbs1, attrbs2) {
		return -1
	}
	if len(attrbs2) < len(attrbs1) && namesContained(attrbs2, attrbs1) {
		return 1
	}
	return 0
}

func isWildcard(attrbs []AttrbStruct) bool {
	for _, attrb := range attrbs {
		if attrb.AttrbName == "*" {
			return true
		}
	}
	return len(attrbs) == 0
}

// namesContained reports whether every attribute name of sub is found in super
func namesContained(sub, super []AttrbStruct) bool {
	for _, attrb1 := range sub {
		found := false
		for _, attrb2 := range super {
			if attrb2.AttrbName == attrb1.AttrbName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// EqAttrbs determines whether the two attribute lists hold exactly the same (name, value) pairs
func EqAttrbs(attrbs1, attrbs2 []AttrbStruct) bool {
	if len(attrbs1) != len(attrbs2) {
		return false
	}
	for _, attrb1 := range attrbs1 {
		if !slices.Contains(attrbs2, attrb1) {
			return false
		}
	}
	for _, attrb2 := range attrbs2 {
		if !slices.Contains(attrbs1, attrb2) {
			return false
		}
	}
	return true
}

// TopoParameter describes one override of generated topology properties.
//   - ParamObj identifies the kind of thing being configured: link or port
//   - Attributes is a list of attributes, each of which is required for the value to be applied
//   - Param names the property and Value holds it in string form
type TopoParameter struct {
	ParamObj   string        `mapstructure:"paramobj" json:"paramObj" yaml:"paramObj"`
	Attributes []AttrbStruct `mapstructure:"attributes" json:"attributes" yaml:"attributes"`
	Param      string        `mapstructure:"param" json:"param" yaml:"param"`
	Value      string        `mapstructure:"value" json:"value" yaml:"value"`
}

// CreateTopoParameter is a constructor.  Completely fills in the struct with the [TopoParameter] attributes.
func CreateTopoParameter(paramObj string, attributes []AttrbStruct, param, value string) *TopoParameter {
	return &TopoParameter{ParamObj: paramObj, Attributes: attributes, Param: param, Value: value}
}

// Eq returns a boolean flag indicating whether the two TopoParameters are the same
func (tp *TopoParameter) Eq(tp2 *TopoParameter) bool {
	return tp.ParamObj == tp2.ParamObj && EqAttrbs(tp.Attributes, tp2.Attributes) &&
		tp.Param == tp2.Param && tp.Value == tp2.Value
}

// AddAttribute includes another attribute to those associated with the TopoParameter.
// An error is returned if the attribute name is not allowed or already present.
func (tp *TopoParameter) AddAttribute(attrbName, attrbValue string) error {
	if !ValidateAttribute(tp.ParamObj, attrbName) {
		return fmt.Errorf("attribute name %s not allowed for parameter object type %s", attrbName, tp.ParamObj)
	}
	for _, attrb := range tp.Attributes {
		if attrb.AttrbName == attrbName {
			if attrb.AttrbValue == attrbValue {
				return nil
			}
			return fmt.Errorf("attribute name %s already exists for parameter object", attrbName)
		}
	}
	tp.Attributes = append(tp.Attributes, *CreateAttrbStruct(attrbName, attrbValue))
	return nil
}

// Validate returns an error if the object type, attributes, parameter and value don't make sense together
func (tp *TopoParameter) Validate() error {
	if !slices.Contains(TopoParamObjs, tp.ParamObj) {
		return fmt.Errorf("parameter object %q is not recognized", tp.ParamObj)
	}
	for _, attrb := range tp.Attributes {
		if !ValidateAttribute(tp.ParamObj, attrb.AttrbName) {
			return fmt.Errorf("attribute %s not valid for parameter object type %s", attrb.AttrbName, tp.ParamObj)
		}
	}
	if !slices.Contains(TopoParams[tp.ParamObj], tp.Param) {
		return fmt.Errorf("parameter %q not valid for parameter object type %s", tp.Param, tp.ParamObj)
	}
	switch tp.Param {
	case "bandwidth":
		if v, err := strconv.ParseFloat(tp.Value, 64); err != nil || !(v > 0) {
			return fmt.Errorf("bandwidth value %q must be a positive number", tp.Value)
		}
	case "delay":
		if v, err := strconv.ParseFloat(tp.Value, 64); err != nil || !(v >= 0) {
			return fmt.Errorf("delay value %q must be a non-negative number", tp.Value)
		}
	case "partition":
		if _, err := parsePartition(tp.Value); err != nil {
			return err
		}
	}
	return nil
}

// parsePartition reads either one share applied to every class, or NumClasses comma-separated shares
func parsePartition(value string) (ClassShares, error) {
	fields := strings.Split(value, ",")
	shares := make([]float64, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return ClassShares{}, fmt.Errorf("partition value %q: %v", value, err)
		}
		shares = append(shares, v)
	}
	if len(shares) == 1 {
		if !(shares[0] >= 0 && shares[0] <= 1) {
			return ClassShares{}, fmt.Errorf("partition share %v outside [0,1]", shares[0])
		}
		return UniformShares(shares[0]), nil
	}
	return SharesFromSlice(shares)
}

// matchesLink reports whether every attribute of the override holds for the link
func (tp *TopoParameter) matchesLink(link *LinkFrame) bool {
	for _, attrb := range tp.Attributes {
		switch attrb.AttrbName {
		case "*":
		case "name":
			if link.Name != attrb.AttrbValue {
				return false
			}
		case "kind":
			kind := "backbone"
			if link.IsAccess() {
				kind = "access"
			}
			if kind != attrb.AttrbValue {
				return false
			}
		case "node":
			if !link.Touches(attrb.AttrbValue) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// matchesPort reports whether every attribute of the override holds for the port
func (tp *TopoParameter) matchesPort(port *PortFrame) bool {
	for _, attrb := range tp.Attributes {
		switch attrb.AttrbName {
		case "*":
		case "node":
			if port.Node.Name != attrb.AttrbValue {
				return false
			}
		case "kind":
			if port.Node.Kind != NodeKindFromStr(attrb.AttrbValue) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// reorderTopoParams returns the overrides ordered so that more general ones come
// before more specific ones that apply to the same element, so that the specific
// ones are applied last and win.  This is the same idea as choosing the routing rule
// with the smallest subnet when several apply to the same address.
func reorderTopoParams(pL []TopoParameter) []TopoParameter {
	// wildcard entries first, entries naming a single element last
	wc := []TopoParameter{}
	sg := []TopoParameter{}
	nm := []TopoParameter{}
	for _, param := range pL {
		switch {
		case isWildcard(param.Attributes):
			wc = append(wc, param)
		case slices.ContainsFunc(param.Attributes, func(a AttrbStruct) bool { return a.AttrbName == "name" }):
			nm = append(nm, param)
		default:
			sg = append(sg, param)
		}
	}

	sort.SliceStable(sg, func(i, j int) bool {
		return CompareAttrbs(sg[i].Attributes, sg[j].Attributes) == -1
	})

	rtn := append(wc, sg...)
	return append(rtn, nm...)
}

// applyOverrides sets the properties of the topology's ports and links the overrides select
func applyOverrides(topo *Topology, overrides []TopoParameter) error {
	ordered := reorderTopoParams(overrides)

	for _, node := range topo.Nodes {
		for _, port := range node.Ports {
			for idx := range ordered {
				tp := &ordered[idx]
				if tp.ParamObj != "port" || !tp.matchesPort(port) {
					continue
				}
				partition, err := parsePartition(tp.Value)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrInvalidParams, err)
				}
				port.Partition = partition
			}
		}
	}

	for _, link := range topo.Links {
		for idx := range ordered {
			tp := &ordered[idx]
			if tp.ParamObj != "link" || !tp.matchesLink(link) {
				continue
			}
			value, err := strconv.ParseFloat(tp.Value, 64)
			if err != nil {
				return fmt.Errorf("%w: override %s=%q: %v", ErrInvalidParams, tp.Param, tp.Value, err)
			}
			switch tp.Param {
			case "bandwidth":
				if value > math.Min(link.A.Capacity, link.B.Capacity) || !(value > 0) {
					return fmt.Errorf("%w: bandwidth %g for link %s exceeds its port rate",
						ErrInvalidParams, value, link.Name)
				}
				link.Bandwidth = value
			case "delay":
				if value < 0 {
					return fmt.Errorf("%w: negative delay for link %s", ErrInvalidParams, link.Name)
				}
				link.Delay = value
			}
		}
	}
	return nil
}
