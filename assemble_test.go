package tsncase

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func sixNodeParams() *Params {
	p := DefaultParams()
	p.NodeCount = 6
	p.Seed = 42
	p.StreamCount = 4
	return p
}

func TestGenerateSixNodeCase(t *testing.T) {
	p := sixNodeParams()
	c, vr, err := Generate(p)
	require.NoError(t, err)

	assert.Len(t, c.Topology.Nodes, 6)
	assert.GreaterOrEqual(t, len(c.Topology.Links), 6)
	assert.Len(t, c.Streams, 4)
	assert.Len(t, c.Routes, 4)
	assert.Empty(t, c.Failures)
	assert.True(t, vr.Pass, "violations: %v", vr.Violations)
	assert.Nil(t, c.Trace)

	id, err := CaseID(p)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
}

func TestGenerateAllOrNothing(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			p := DefaultParams()
			p.Seed = seed
			p.StreamCount = 24
			p.MulticastRatio = 0.2
			p.AdmissionMode = AdmissionModeToStr(AllOrNothing)

			c, vr, err := Generate(p)
			if err != nil {
				var ae *AdmissionError
				require.True(t, errors.As(err, &ae), "unexpected error %v", err)
				assert.Nil(t, c)
				return
			}
			assert.True(t, vr.Pass, "violations: %v", vr.Violations)
			assert.Len(t, c.Routes, len(c.Streams))
		})
	}
}

func TestGenerateBestEffort(t *testing.T) {
	for seed := uint64(0); seed < 20; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			p := DefaultParams()
			p.Seed = seed
			p.StreamCount = 24
			p.MulticastRatio = 0.2

			c, vr, err := Generate(p)
			require.NoError(t, err)

			// what was admitted keeps to its budgets, what was not is reported unrouted
			assert.Empty(t, vr.ByCheck(StructuralCheck))
			assert.Empty(t, vr.ByCheck(StreamCheck))
			assert.Empty(t, vr.ByCheck(CapacityCheck))
			assert.Empty(t, vr.ByCheck(TimingCheck))
			assert.Len(t, vr.ByCheck(ReferentialCheck), len(c.Failures))
			assert.Equal(t, len(c.Streams), len(c.Routes)+len(c.Failures))
			assert.Equal(t, len(c.Failures) == 0, vr.Pass)
		})
	}
}

func TestGenerateDeterministic(t *testing.T) {
	p := DefaultParams()
	p.Seed = 3
	c1, _, err := Generate(p)
	require.NoError(t, err)
	c2, _, err := Generate(p)
	require.NoError(t, err)
	assert.Equal(t, c1.Transform(), c2.Transform())

	p.Seed = 4
	c3, _, err := Generate(p)
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c3.ID)
}

func TestRegenerate(t *testing.T) {
	p := sixNodeParams()
	c, _, err := Generate(p)
	require.NoError(t, err)

	again, err := Regenerate(c.ID, c.Params)
	require.NoError(t, err)
	assert.Equal(t, c.Transform(), again.Transform())

	other := p.Clone()
	other.Seed = 43
	_, err = Regenerate(c.ID, other)
	assert.ErrorIs(t, err, ErrCaseIDMismatch)
}

func TestRegenerateFromCaseFile(t *testing.T) {
	for _, ext := range []string{".yaml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			p := sixNodeParams()
			p.Overrides = nil
			p.Profiles = nil
			c, _, err := Generate(p)
			require.NoError(t, err)

			filename := filepath.Join(t.TempDir(), "c"+ext)
			require.NoError(t, c.WriteToFile(filename))
			cd, err := ReadCaseDesc(filename, UseYAML(filename), nil)
			require.NoError(t, err)
			assert.Equal(t, c.ID, cd.ID)

			again, err := Regenerate(cd.ID, &cd.Params)
			require.NoError(t, err)
			assert.Equal(t, c.Transform(), again.Transform())
		})
	}
}

func TestGenerateRedundantBidirectional(t *testing.T) {
	for seed := uint64(0); seed < 10; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			p := DefaultParams()
			p.Seed = seed
			p.NodeCount = 16
			p.DegreeTarget = 4
			p.StreamCount = 10
			p.RedundantRatio = 0.5
			p.BidirectionalRatio = 0.5

			c, vr, err := Generate(p)
			require.NoError(t, err)
			require.Len(t, c.Streams, 10)

			// whatever the router admitted passes every check but the unrouted ones
			assert.Len(t, vr.ByCheck(ReferentialCheck), len(c.Failures))
			assert.Len(t, vr.Violations, len(c.Failures), "violations: %v", vr.Violations)
			for _, route := range c.Routes {
				strm, _ := c.Stream(route.Stream)
				assert.Equal(t, strm.Redundancy+1, route.Members())
			}

			cd := c.Transform()
			back, err := cd.Build()
			require.NoError(t, err)
			assert.Equal(t, c.Streams, back.Streams)
		})
	}
}

func TestGenerateMultiDomain(t *testing.T) {
	p := DefaultParams()
	p.Seed = 5
	p.NodeCount = 24
	p.Domains = 3
	p.DomainInterconnect = RandomInterconnect
	p.StreamCount = 12
	p.CrossDomainStreams = 4
	p.Profiles = []TrafficProfile{audioProfile(8)}
	p.Profiles[0].Bidirectional = true

	c, vr, err := Generate(p)
	require.NoError(t, err)
	require.Len(t, c.Streams, 12)
	assert.Len(t, vr.Violations, len(c.Failures), "violations: %v", vr.Violations)

	domain := func(name string) int {
		node, present := c.Topology.Node(name)
		require.True(t, present)
		return node.Domain
	}
	for idx, strm := range c.Streams {
		if idx < 8 {
			assert.Equal(t, "audio", strm.Type)
			assert.Contains(t, []int{5, 6}, strm.Class)
			for _, dest := range strm.Destinations {
				assert.Equal(t, domain(strm.Source), domain(dest), "stream %s", strm.Name)
			}
			continue
		}
		assert.Empty(t, strm.Type)
		for _, dest := range strm.Destinations {
			assert.NotEqual(t, domain(strm.Source), domain(dest), "stream %s", strm.Name)
		}
	}

	// every audio stream comes with its reverse
	for idx := 0; idx < 8; idx += 2 {
		fwd, rev := c.Streams[idx], c.Streams[idx+1]
		assert.Equal(t, rev.Name, fwd.Pair)
		assert.Equal(t, fwd.Name, rev.Pair)
		assert.Equal(t, fwd.Source, rev.Destinations[0])
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name   string
		change func(p *Params)
		target error
		kind   string
	}{
		{"invalid params", func(p *Params) { p.NodeCount = 0 }, ErrInvalidParams, "invalid-params"},
		{"infeasible topology", func(p *Params) { p.PortBudget = 2 }, ErrInfeasibleTopology, "infeasible-topology"},
		{"unsatisfiable stream", func(p *Params) { p.DeadlineRange = Range{Min: 1e-7, Max: 2e-7} },
			ErrUnsatisfiableStream, "unsatisfiable-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.change(p)
			c, vr, err := Generate(p)
			assert.ErrorIs(t, err, tt.target)
			assert.Nil(t, c)
			assert.Nil(t, vr)
			assert.Equal(t, tt.kind, ErrorKind(err))
		})
	}
	assert.Equal(t, "capacity-exceeded", ErrorKind(&AdmissionError{Stream: "S0", Err: ErrCapacityExceeded}))
}

func TestCaseGenMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := CreateMetrics(reg)
	require.NoError(t, err)
	cg := CreateCaseGen(zaptest.NewLogger(t), m)

	_, vr, err := cg.Generate(sixNodeParams())
	require.NoError(t, err)
	require.True(t, vr.Pass)

	bad := DefaultParams()
	bad.PortBudget = 2
	_, _, err = cg.Generate(bad)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cases.WithLabelValues("pass")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cases.WithLabelValues("infeasible-topology")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Admissions.WithLabelValues("admitted")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.Cases))

	// registering again hands back the same collectors
	again, err := CreateMetrics(reg)
	require.NoError(t, err)
	cd := routedCase(t).Transform()
	cd.Streams[0].Deadline = 1e-5
	_, err = CreateCaseGen(nil, again).ValidateDesc(&cd)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations.WithLabelValues(TimingCheck)))
}

func TestCaseGenTrace(t *testing.T) {
	cg := CreateCaseGen(zaptest.NewLogger(t), nil)
	cg.Trace = true
	c, _, err := cg.Generate(sixNodeParams())
	require.NoError(t, err)
	require.NotNil(t, c.Trace)
	require.True(t, c.Trace.Active())

	for _, phase := range []string{TopologyPhase, StreamPhase, RoutePhase, ValidatePhase} {
		assert.NotEmpty(t, c.Trace.Traces[phase], "phase %s", phase)
	}
	records := c.Trace.Records()
	for idx := range records {
		assert.Equal(t, idx, records[idx].Seq)
	}
	assert.Equal(t, TopologyPhase, records[0].TracePhase)

	dir := t.TempDir()
	for _, global := range []bool{false, true} {
		filename := filepath.Join(dir, fmt.Sprintf("trace-%v.yaml", global))
		require.NoError(t, c.Trace.WriteToFile(filename, global))
	}
}
