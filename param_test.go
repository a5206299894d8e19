package tsncase

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParamsValid(t *testing.T) {
	assert.NoError(t, DefaultParams().Validate())
}

func TestParamsValidate(t *testing.T) {
	p := DefaultParams()
	p.NodeCount = 0
	p.BridgeRatio = 1.5
	p.LayoutTemplate = "hypercube"
	p.ClassDistribution = []float64{1, 1}
	p.DeadlineRange = Range{Min: 0.01, Max: 0.001}
	p.AdmissionMode = "sometimes"

	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	for _, key := range []string{"node_count", "bridge_ratio", "layout_template", "class_distribution",
		"deadline_range", "admission_mode"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestParamsClone(t *testing.T) {
	p := DefaultParams()
	p.Overrides = append(p.Overrides, *CreateTopoParameter("link", []AttrbStruct{{AttrbName: "kind", AttrbValue: "access"}},
		"delay", "0.00002"))

	cp := p.Clone()
	assert.Equal(t, p, cp)
	cp.ClassDistribution[0] = 9
	cp.Overrides[0].Attributes[0].AttrbValue = "backbone"
	assert.Equal(t, 1.0, p.ClassDistribution[0])
	assert.Equal(t, "access", p.Overrides[0].Attributes[0].AttrbValue)
}

func TestParamsCloneFillsEmptyLists(t *testing.T) {
	p := DefaultParams()
	p.Overrides = nil
	p.Profiles = []TrafficProfile{{Name: "audio"}}

	cp := p.Clone()
	assert.NotNil(t, cp.Overrides)
	assert.Empty(t, cp.Overrides)
	assert.NotNil(t, cp.Profiles[0].Classes)

	// absent and empty lists give the same case identifier
	id1, err := CaseID(p)
	require.NoError(t, err)
	p.Overrides = []TopoParameter{}
	id2, err := CaseID(p)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestParamsValidatePeriodsBelowDeadlines(t *testing.T) {
	p := DefaultParams()
	p.PeriodRange = Range{Min: 0.001, Max: 0.0015}
	p.DeadlineRange = Range{Min: 0.002, Max: 0.004}
	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "no period")

	// a uniform draw still has room above the shortest deadline
	p.PeriodRange = Range{Min: 0.001, Max: 0.003}
	p.UniformPeriods = true
	assert.NoError(t, p.Validate())

	// harmonic periods 0.001 and 0.002 miss a deadline of 0.0025
	p.UniformPeriods = false
	p.DeadlineRange.Min = 0.0025
	assert.ErrorIs(t, p.Validate(), ErrInvalidParams)
}

func TestPeriodChoices(t *testing.T) {
	r := Range{Min: 0.004, Max: 0.032}
	assert.Equal(t, HarmonicPeriods(r), PeriodChoices(r, 0.002, false))
	assert.Len(t, PeriodChoices(r, 0.010, false), 2)
	assert.Empty(t, PeriodChoices(r, 0.040, false))
	assert.Equal(t, []float64{0.010, 0.032}, PeriodChoices(r, 0.010, true))
	assert.Empty(t, PeriodChoices(r, 0.040, true))
}

func audioProfile(count int) TrafficProfile {
	return TrafficProfile{Name: "audio", Count: count, Classes: []int{5, 6},
		PeriodRange: Range{Min: 0.004, Max: 0.008}, DeadlineRange: Range{Min: 0.002, Max: 0.004},
		FrameSizeRange: Range{Min: 64, Max: 256}}
}

func TestParamsValidateProfiles(t *testing.T) {
	p := DefaultParams()
	p.Profiles = []TrafficProfile{audioProfile(5), audioProfile(3)}
	p.Profiles[1].Name = "video"
	assert.NoError(t, p.Validate())

	p.StreamCount = 9
	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	assert.Contains(t, err.Error(), "add up to 8")

	p.StreamCount = 8
	p.Profiles[1].Name = "audio"
	p.Profiles[0].Classes = []int{8}
	p.Profiles[0].RedundantCount = 6
	err = p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	for _, key := range []string{"repeated", "class 8", "redundant_count"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestParamsValidateDomains(t *testing.T) {
	p := DefaultParams()
	p.Domains = 2
	p.CrossDomainStreams = 2
	assert.NoError(t, p.Validate())

	p.Domains = 6
	p.DomainInterconnect = "ring"
	p.DomainLinks = 0
	err := p.Validate()
	require.ErrorIs(t, err, ErrInvalidParams)
	for _, key := range []string{"need a bridge each", "domain_interconnect", "domain_links"} {
		assert.Contains(t, err.Error(), key)
	}

	p = DefaultParams()
	p.CrossDomainStreams = 1
	assert.ErrorContains(t, p.Validate(), "at least 2 domains")
}

func TestReadParamsKeepsDefaults(t *testing.T) {
	dict := []byte("node_count: 6\nseed: 42\nperiod_range:\n  min: 0.002\n  max: 0.016\n")
	p, err := ReadParams("", true, dict)
	require.NoError(t, err)

	assert.Equal(t, 6, p.NodeCount)
	assert.Equal(t, uint64(42), p.Seed)
	assert.Equal(t, Range{Min: 0.002, Max: 0.016}, p.PeriodRange)
	assert.Equal(t, DefaultParams().DeadlineRange, p.DeadlineRange)
	assert.Equal(t, DefaultParams().AdmissionMode, p.AdmissionMode)
}

func TestParamsFileRoundTrip(t *testing.T) {
	p := DefaultParams()
	p.Seed = 7
	p.MulticastRatio = 0.25
	p.Overrides = append(p.Overrides, *CreateTopoParameter("port", []AttrbStruct{{AttrbName: "*"}}, "partition", "0.5"))

	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			filename := filepath.Join(t.TempDir(), "params"+ext)
			require.NoError(t, p.WriteToFile(filename))

			back, err := ReadParams(filename, UseYAML(filename), nil)
			require.NoError(t, err)
			assert.Equal(t, p, back)

			id1, _ := CaseID(p)
			id2, _ := CaseID(back)
			assert.Equal(t, id1, id2)
		})
	}

	assert.Error(t, p.WriteToFile(filepath.Join(t.TempDir(), "params.txt")))
}

func TestTopoParameterValidate(t *testing.T) {
	tests := []struct {
		name string
		tp   *TopoParameter
		ok   bool
	}{
		{"link bandwidth", CreateTopoParameter("link", []AttrbStruct{{AttrbName: "node", AttrbValue: "B0"}}, "bandwidth", "1e8"), true},
		{"port partition list", CreateTopoParameter("port", nil, "partition", "0.1,0.1,0.1,0.1,0.1,0.1,0.5,0.5"), true},
		{"unknown object", CreateTopoParameter("bridge", nil, "bandwidth", "1e8"), false},
		{"attribute of another object", CreateTopoParameter("port", []AttrbStruct{{AttrbName: "name", AttrbValue: "L0"}}, "partition", "0.5"), false},
		{"parameter of another object", CreateTopoParameter("port", nil, "delay", "0"), false},
		{"negative bandwidth", CreateTopoParameter("link", nil, "bandwidth", "-1"), false},
		{"short partition", CreateTopoParameter("port", nil, "partition", "0.5,0.5"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tp.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAddAttribute(t *testing.T) {
	tp := CreateTopoParameter("link", nil, "delay", "0")
	require.NoError(t, tp.AddAttribute("kind", "access"))
	require.NoError(t, tp.AddAttribute("kind", "access"))
	assert.Error(t, tp.AddAttribute("kind", "backbone"))
	assert.Error(t, tp.AddAttribute("partition", "x"))
	assert.Len(t, tp.Attributes, 1)
}

func TestCompareAttrbs(t *testing.T) {
	wild := []AttrbStruct{{AttrbName: "*"}}
	kind := []AttrbStruct{{AttrbName: "kind", AttrbValue: "access"}}
	kindNode := []AttrbStruct{{AttrbName: "kind", AttrbValue: "access"}, {AttrbName: "node", AttrbValue: "B0"}}

	assert.Equal(t, -1, CompareAttrbs(wild, kind))
	assert.Equal(t, 1, CompareAttrbs(kind, nil))
	assert.Equal(t, -1, CompareAttrbs(kind, kindNode))
	assert.Equal(t, 0, CompareAttrbs(kind, kind))
	assert.True(t, EqAttrbs(kindNode, []AttrbStruct{kindNode[1], kindNode[0]}))
}

func TestApplyOverrides(t *testing.T) {
	topo := chainTopo(t, 2, 1e8)
	overrides := []TopoParameter{
		// most specific is listed first but applied last
		*CreateTopoParameter("link", []AttrbStruct{{AttrbName: "name", AttrbValue: "L1"}}, "delay", "0.00005"),
		*CreateTopoParameter("link", []AttrbStruct{{AttrbName: "kind", AttrbValue: "access"}}, "delay", "0.00002"),
		*CreateTopoParameter("link", nil, "delay", "0.00001"),
		*CreateTopoParameter("port", []AttrbStruct{{AttrbName: "kind", AttrbValue: "end-station"}}, "partition", "0.5"),
	}
	require.NoError(t, applyOverrides(topo, overrides))

	l0, _ := topo.Link("L0")
	l1, _ := topo.Link("L1")
	l2, _ := topo.Link("L2")
	assert.Equal(t, 1e-5, l0.Delay)
	assert.Equal(t, 5e-5, l1.Delay)
	assert.Equal(t, 2e-5, l2.Delay)

	e0, _ := topo.Node("E0")
	b0, _ := topo.Node("B0")
	assert.Equal(t, UniformShares(0.5), e0.Ports[0].Partition)
	assert.Equal(t, UniformShares(DefaultClassShare), b0.Ports[0].Partition)

	tooFast := []TopoParameter{*CreateTopoParameter("link", []AttrbStruct{{AttrbName: "kind", AttrbValue: "access"}}, "bandwidth", "1e10")}
	assert.ErrorIs(t, applyOverrides(topo, tooFast), ErrInvalidParams)
}

func TestAdmissionModeStrings(t *testing.T) {
	for _, mode := range []AdmissionMode{BestEffort, AllOrNothing} {
		back, err := AdmissionModeFromStr(AdmissionModeToStr(mode))
		require.NoError(t, err)
		assert.Equal(t, mode, back)
	}
	_, err := AdmissionModeFromStr("first-come")
	assert.Error(t, err)
}
