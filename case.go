package tsncase

// case.go holds the Case record that ties a topology, its streams and their routes together,
// its serializable description, and a dictionary of descriptions used to store batches of cases.

import (
	"errors"
	"fmt"
	"strings"
)

// Case is one generated test case.  It is created once and not changed afterwards.
type Case struct {
	ID       string
	Params   *Params
	Topology *Topology
	Streams  []*Stream
	Routes   []*Route

	// streams the router could not admit, best-effort mode only
	Failures []*AdmissionError

	// generation trace, nil unless tracing was requested
	Trace *TraceManager
}

// Stream returns the named stream of the case
func (c *Case) Stream(name string) (*Stream, bool) {
	for _, strm := range c.Streams {
		if strm.Name == name {
			return strm, true
		}
	}
	return nil, false
}

// Route returns the route admitted for the named stream
func (c *Case) Route(stream string) (*Route, bool) {
	for _, route := range c.Routes {
		if route.Stream == stream {
			return route, true
		}
	}
	return nil, false
}

// AdmissionErr joins the admission failures of the case into one error, nil when there are none.
// errors.Is matches each failure's kind in the joined error.
func (c *Case) AdmissionErr() error {
	errs := make([]error, 0, len(c.Failures))
	for _, failure := range c.Failures {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

// RejectionDesc is the serializable form of an admission failure
type RejectionDesc struct {
	Stream string `json:"stream" yaml:"stream"`
	Kind   string `json:"kind" yaml:"kind"`
	Reason string `json:"reason" yaml:"reason"`
}

// CaseDesc is the serializable description of a Case
type CaseDesc struct {
	ID         string          `json:"id" yaml:"id"`
	Params     Params          `json:"params" yaml:"params"`
	Topology   TopoDesc        `json:"topology" yaml:"topology"`
	Streams    []Stream        `json:"streams" yaml:"streams"`
	Routes     []Route         `json:"routes" yaml:"routes"`
	Rejections []RejectionDesc `json:"rejections" yaml:"rejections"`
}

// Transform converts the Case into a CaseDesc, for serialization
func (c *Case) Transform() CaseDesc {
	cd := CaseDesc{ID: c.ID}
	if c.Params != nil {
		cd.Params = *c.Params.Clone()
	}
	if c.Topology != nil {
		cd.Topology = c.Topology.Transform()
	}
	cd.Streams = make([]Stream, 0, len(c.Streams))
	for _, strm := range c.Streams {
		cd.Streams = append(cd.Streams, *strm.clone())
	}
	cd.Routes = make([]Route, 0, len(c.Routes))
	for _, route := range c.Routes {
		cd.Routes = append(cd.Routes, route.clone())
	}
	cd.Rejections = make([]RejectionDesc, 0, len(c.Failures))
	for _, failure := range c.Failures {
		reason := failure.Err.Error()
		kind := AdmissionKind(failure)
		if sentinel, present := admissionKinds[kind]; present {
			reason = strings.TrimPrefix(strings.TrimPrefix(reason, sentinel.Error()), ": ")
		}
		cd.Rejections = append(cd.Rejections, RejectionDesc{Stream: failure.Stream, Kind: kind, Reason: reason})
	}
	return cd
}

// clone copies the stream
func (strm *Stream) clone() *Stream {
	cp := CreateStream(strm.Name, strm.Source, strm.Destinations, strm.Period, strm.FrameSize, strm.Deadline, strm.Class)
	cp.Type, cp.Redundancy, cp.Pair = strm.Type, strm.Redundancy, strm.Pair
	return cp
}

// clone copies the route and its paths
func (rt *Route) clone() Route {
	cp := Route{Name: rt.Name, Stream: rt.Stream, Bandwidth: rt.Bandwidth, Paths: make([]Path, 0, len(rt.Paths))}
	for _, path := range rt.Paths {
		cp.Paths = append(cp.Paths, Path{Destination: path.Destination, Member: path.Member,
			Nodes: append([]string{}, path.Nodes...), Links: append([]string{}, path.Links...)})
	}
	return cp
}

// Build recreates the Case a CaseDesc describes.  The topology must build without error,
// otherwise ErrMalformedCase is returned wrapping the construction error; streams and
// routes are carried over as they are, for the validator to judge.
func (cd *CaseDesc) Build() (*Case, error) {
	topo, err := cd.Topology.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCase, err)
	}
	c := &Case{ID: cd.ID, Params: cd.Params.Clone(), Topology: topo}
	c.Streams = make([]*Stream, 0, len(cd.Streams))
	for idx := range cd.Streams {
		c.Streams = append(c.Streams, cd.Streams[idx].clone())
	}
	c.Routes = make([]*Route, 0, len(cd.Routes))
	for idx := range cd.Routes {
		route := cd.Routes[idx].clone()
		c.Routes = append(c.Routes, &route)
	}
	c.Failures = make([]*AdmissionError, 0, len(cd.Rejections))
	for _, rej := range cd.Rejections {
		var cause error
		if sentinel, present := admissionKinds[rej.Kind]; present {
			cause = fmt.Errorf("%w: %s", sentinel, rej.Reason)
		} else {
			cause = errors.New(rej.Reason)
		}
		c.Failures = append(c.Failures, &AdmissionError{Stream: rej.Stream, Err: cause})
	}
	return c, nil
}

// WriteToFile stores the CaseDesc to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cd *CaseDesc) WriteToFile(filename string) error {
	return writeDesc(filename, cd)
}

// WriteToFile stores the description of the Case
func (c *Case) WriteToFile(filename string) error {
	cd := c.Transform()
	return cd.WriteToFile(filename)
}

// ReadCaseDesc deserializes a byte slice holding a representation of a CaseDesc.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadCaseDesc(filename string, useYAML bool, dict []byte) (*CaseDesc, error) {
	cd := new(CaseDesc)
	if err := readDesc(filename, useYAML, dict, cd); err != nil {
		return nil, err
	}
	return cd, nil
}

// A CaseDict holds case descriptions in a map whose key is the case name
// (the Name of its parameters).  Used to store a batch of generated cases in one file.
type CaseDict struct {
	DictName string              `json:"dictname" yaml:"dictname"`
	Cases    map[string]CaseDesc `json:"cases" yaml:"cases"`
}

// CreateCaseDict is a constructor. Saves the dictionary name, initializes the CaseDesc map.
func CreateCaseDict(name string) *CaseDict {
	cdd := new(CaseDict)
	cdd.DictName = name
	cdd.Cases = make(map[string]CaseDesc)
	return cdd
}

// AddCase includes a Case into the dictionary, optionally returning an error
// if a case with the same name has already been included
func (cdd *CaseDict) AddCase(c *Case, overwrite bool) error {
	cd := c.Transform()
	name := cd.Params.Name
	if !overwrite {
		if _, present := cdd.Cases[name]; present {
			return fmt.Errorf("attempt to overwrite case %s in CaseDict %s", name, cdd.DictName)
		}
	}
	cdd.Cases[name] = cd
	return nil
}

// RecoverCase returns a copy (if one exists) of the CaseDesc with the given name.
// Returns a boolean indicating whether the entry was actually found
func (cdd *CaseDict) RecoverCase(name string) (*CaseDesc, bool) {
	cd, present := cdd.Cases[name]
	if present {
		return &cd, true
	}
	return nil, false
}

// WriteToFile serializes the CaseDict and writes it to the file whose name is given.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (cdd *CaseDict) WriteToFile(filename string) error {
	return writeDesc(filename, cdd)
}

// ReadCaseDict deserializes a slice of bytes into a CaseDict.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.
func ReadCaseDict(filename string, useYAML bool, dict []byte) (*CaseDict, error) {
	cdd := CreateCaseDict("")
	if err := readDesc(filename, useYAML, dict, cdd); err != nil {
		return nil, err
	}
	return cdd, nil
}
