package tsncase

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"
)

func generatedTopo(t *testing.T, p *Params) *Topology {
	t.Helper()
	topo, err := GenerateTopology("strm", p, rand.New(rand.NewPCG(p.Seed, 1)))
	require.NoError(t, err)
	return topo
}

func TestGenerateStreams(t *testing.T) {
	p := DefaultParams()
	p.StreamCount = 30
	p.MulticastRatio = 0.3
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(p.Seed, 2)))
	require.NoError(t, err)
	require.Len(t, streams, 30)

	periods := HarmonicPeriods(p.PeriodRange)
	multicast := 0
	for idx, strm := range streams {
		assert.Equal(t, fmt.Sprintf("S%d", idx), strm.Name)

		src, present := topo.Node(strm.Source)
		require.True(t, present)
		assert.True(t, src.IsEndStation())

		require.NotEmpty(t, strm.Destinations)
		assert.LessOrEqual(t, len(strm.Destinations), p.MaxDestinations)
		seen := []string{}
		for _, dest := range strm.Destinations {
			node, present := topo.Node(dest)
			require.True(t, present)
			assert.True(t, node.IsEndStation())
			assert.NotEqual(t, strm.Source, dest)
			assert.False(t, slices.Contains(seen, dest))
			seen = append(seen, dest)

			latency, _ := topo.LatencyDistance(strm.Source, dest, strm.FrameSize)
			assert.LessOrEqual(t, latency, strm.Deadline)
		}
		if strm.IsMulticast() {
			multicast += 1
		}

		assert.Contains(t, periods, strm.Period)
		assert.LessOrEqual(t, strm.Deadline, strm.Period)
		assert.GreaterOrEqual(t, strm.Deadline, p.DeadlineRange.Min)
		assert.GreaterOrEqual(t, float64(strm.FrameSize), p.FrameSizeRange.Min)
		assert.LessOrEqual(t, float64(strm.FrameSize), p.FrameSizeRange.Max)
		assert.GreaterOrEqual(t, strm.Class, 0)
		assert.Less(t, strm.Class, NumClasses)
	}
	assert.Positive(t, multicast)
}

func TestGenerateStreamsDeterministic(t *testing.T) {
	p := DefaultParams()
	topo := generatedTopo(t, p)

	s1, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(9, 2)))
	require.NoError(t, err)
	s2, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(9, 2)))
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestGenerateStreamsUnsatisfiable(t *testing.T) {
	p := DefaultParams()
	p.DeadlineRange = Range{Min: 1e-7, Max: 2e-7}
	topo := generatedTopo(t, p)

	_, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(p.Seed, 2)))
	assert.ErrorIs(t, err, ErrUnsatisfiableStream)

	// a single end-station cannot be both ends of a stream
	lonely := CreateTopology("lonely")
	_, err = lonely.AddEndStation("E0", 1e9)
	require.NoError(t, err)
	_, err = GenerateStreams(lonely, DefaultParams(), rand.New(rand.NewPCG(1, 2)))
	assert.ErrorIs(t, err, ErrUnsatisfiableStream)
}

func TestGenerateStreamsClassDistribution(t *testing.T) {
	p := DefaultParams()
	p.StreamCount = 20
	p.ClassDistribution = []float64{0, 0, 0, 0, 0, 1, 0, 3}
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(4, 2)))
	require.NoError(t, err)
	for _, strm := range streams {
		assert.Contains(t, []int{5, 7}, strm.Class)
	}
}

func TestGenerateStreamsLeastUsed(t *testing.T) {
	p := DefaultParams()
	p.StreamCount = 10
	p.SourceSelection = LeastUsedSelection
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(4, 2)))
	require.NoError(t, err)

	// 5 end-stations, 10 streams: every end-station sources exactly two
	counts := make(map[string]int)
	for _, strm := range streams {
		counts[strm.Source] += 1
	}
	assert.Len(t, counts, 5)
	for _, count := range counts {
		assert.Equal(t, 2, count)
	}
}

func TestGenerateStreamsUniformPeriods(t *testing.T) {
	p := DefaultParams()
	p.UniformPeriods = true
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(4, 2)))
	require.NoError(t, err)
	for _, strm := range streams {
		assert.GreaterOrEqual(t, strm.Period, p.PeriodRange.Min)
		assert.LessOrEqual(t, strm.Period, p.PeriodRange.Max)
	}
}

func TestGenerateStreamsDeadlineWithinRange(t *testing.T) {
	for _, uniform := range []bool{false, true} {
		p := DefaultParams()
		p.StreamCount = 40
		p.UniformPeriods = uniform
		p.PeriodRange = Range{Min: 0.001, Max: 0.016}
		p.DeadlineRange = Range{Min: 0.002, Max: 0.010}
		require.NoError(t, p.Validate())
		topo := generatedTopo(t, p)

		streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(6, 2)))
		require.NoError(t, err)
		for _, strm := range streams {
			// periods too short for any deadline of the range are never drawn
			assert.GreaterOrEqual(t, strm.Period, p.DeadlineRange.Min, "stream %s", strm.Name)
			assert.GreaterOrEqual(t, strm.Deadline, p.DeadlineRange.Min, "stream %s", strm.Name)
			assert.LessOrEqual(t, strm.Deadline, math.Min(strm.Period, p.DeadlineRange.Max), "stream %s", strm.Name)
		}
	}
}

func TestGenerateStreamsProfiles(t *testing.T) {
	p := DefaultParams()
	audio := audioProfile(5)
	audio.RedundantCount = 2
	audio.RedundantPaths = 1
	audio.Bidirectional = true
	video := TrafficProfile{Name: "video", Count: 3, Classes: []int{3},
		PeriodRange: Range{Min: 0.008, Max: 0.032}, DeadlineRange: Range{Min: 0.004, Max: 0.010},
		FrameSizeRange: Range{Min: 500, Max: 1500}}
	p.Profiles = []TrafficProfile{audio, video}
	require.NoError(t, p.Validate())
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(8, 2)))
	require.NoError(t, err)
	require.Len(t, streams, 8)

	for idx, strm := range streams {
		tp := audio
		if idx >= 5 {
			tp = video
		}
		assert.Equal(t, tp.Name, strm.Type)
		assert.Contains(t, tp.Classes, strm.Class)
		assert.Contains(t, PeriodChoices(tp.PeriodRange, tp.DeadlineRange.Min, false), strm.Period)
		assert.GreaterOrEqual(t, strm.Deadline, tp.DeadlineRange.Min)
		assert.LessOrEqual(t, float64(strm.FrameSize), tp.FrameSizeRange.Max)
	}

	// audio streams come in pairs, the fifth has no slot left for its reverse
	assert.Equal(t, "S1", streams[0].Pair)
	assert.Equal(t, "S0", streams[1].Pair)
	assert.Equal(t, streams[0].Destinations[0], streams[1].Source)
	assert.Equal(t, []string{streams[0].Source}, streams[1].Destinations)
	assert.Equal(t, "S3", streams[2].Pair)
	assert.Empty(t, streams[4].Pair)
	assert.Empty(t, streams[5].Pair)

	// the first two audio streams drawn are redundant, a reverse inherits from its pair
	redundancy := []int{}
	for _, strm := range streams {
		redundancy = append(redundancy, strm.Redundancy)
	}
	assert.Equal(t, []int{1, 1, 0, 0, 0, 0, 0, 0}, redundancy)
}

func TestGenerateStreamsRatios(t *testing.T) {
	p := DefaultParams()
	p.RedundantRatio = 1
	p.RedundantPaths = 2
	p.BidirectionalRatio = 1
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(3, 2)))
	require.NoError(t, err)
	require.Len(t, streams, p.StreamCount)
	for idx, strm := range streams {
		assert.Equal(t, 2, strm.Redundancy)
		assert.Empty(t, strm.Type)
		pair := idx + 1
		if idx%2 == 1 {
			pair = idx - 1
		}
		assert.Equal(t, fmt.Sprintf("S%d", pair), strm.Pair)
	}
}

func TestGenerateStreamsDomains(t *testing.T) {
	p := DefaultParams()
	p.NodeCount = 12
	p.Domains = 2
	p.CrossDomainStreams = 3
	require.NoError(t, p.Validate())
	topo := generatedTopo(t, p)

	streams, err := GenerateStreams(topo, p, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, err)
	require.Len(t, streams, p.StreamCount)

	domain := func(name string) int {
		node, present := topo.Node(name)
		require.True(t, present)
		return node.Domain
	}
	for idx, strm := range streams {
		cross := idx >= p.StreamCount-p.CrossDomainStreams
		for _, dest := range strm.Destinations {
			assert.Equal(t, cross, domain(strm.Source) != domain(dest), "stream %s", strm.Name)
		}
	}

	// one domain alone has nowhere to send cross-domain streams
	single := DefaultParams()
	single.CrossDomainStreams = 2
	_, err = GenerateStreams(generatedTopo(t, single), single, rand.New(rand.NewPCG(2, 2)))
	assert.ErrorIs(t, err, ErrUnsatisfiableStream)
}

func TestStreamReverse(t *testing.T) {
	strm := CreateStream("S0", "E0", []string{"E1"}, 1e-3, 500, 1e-3, 2)
	strm.Redundancy = 1
	rev := strm.Reverse("S1")
	assert.Equal(t, "S1", strm.Pair)
	assert.Equal(t, "S0", rev.Pair)
	assert.Equal(t, "E1", rev.Source)
	assert.Equal(t, []string{"E0"}, rev.Destinations)
	assert.Equal(t, 1, rev.Redundancy)
	assert.Equal(t, strm.Bandwidth(), rev.Bandwidth())
}

func TestHarmonicPeriods(t *testing.T) {
	periods := HarmonicPeriods(Range{Min: 0.004, Max: 0.032})
	require.Len(t, periods, 4)
	assert.InDelta(t, 0.032, periods[3], 1e-15)
	assert.Empty(t, HarmonicPeriods(Range{Min: 0, Max: 1}))
}

func TestStreamBandwidthMethod(t *testing.T) {
	strm := CreateStream("S0", "E0", []string{"E1"}, 200e-6, 1500, 1e-3, 3)
	assert.InDelta(t, 60e6, strm.Bandwidth(), 1e-3)
	assert.False(t, strm.IsMulticast())
}
