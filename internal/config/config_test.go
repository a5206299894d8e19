package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iti/tsncase"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	def := tsncase.DefaultParams()
	assert.Equal(t, def.NodeCount, cfg.Generation.NodeCount)
	assert.Equal(t, def.BridgeRatio, cfg.Generation.BridgeRatio)
	assert.Equal(t, def.PeriodRange, cfg.Generation.PeriodRange)
	assert.Equal(t, def.ClassDistribution, cfg.Generation.ClassDistribution)
	assert.Equal(t, def.AdmissionMode, cfg.Generation.AdmissionMode)
	assert.NoError(t, cfg.Generation.Validate())

	assert.Equal(t, 1, cfg.Output.Count)
	assert.Equal(t, ".yaml", cfg.Output.Extension())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "tsncase.yaml")
	content := `
generation:
  node_count: 6
  seed: 42
  stream_count: 4
  deadline_range:
    min: 0.003
    max: 0.008
  admission_mode: all-or-nothing
output:
  count: 3
  format: json
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	cfg, err := Load(cfgFile)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Generation.NodeCount)
	assert.Equal(t, uint64(42), cfg.Generation.Seed)
	assert.Equal(t, 4, cfg.Generation.StreamCount)
	assert.Equal(t, tsncase.Range{Min: 0.003, Max: 0.008}, cfg.Generation.DeadlineRange)
	assert.Equal(t, "all-or-nothing", cfg.Generation.AdmissionMode)

	// untouched keys keep their defaults
	assert.Equal(t, tsncase.DefaultParams().PeriodRange, cfg.Generation.PeriodRange)
	assert.Equal(t, 3, cfg.Output.Count)
	assert.Equal(t, ".json", cfg.Output.Extension())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TSNCASE_GENERATION_NODE_COUNT", "12")
	t.Setenv("TSNCASE_LOGGING_FORMAT", "json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Generation.NodeCount)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "tsncase.yaml")
	content := `
generation:
  node_count: 12
  domains: 2
  domain_interconnect: square
  stream_count: 6
  cross_domain_streams: 2
  profiles:
    - name: control
      count: 4
      classes: [6, 7]
      period_range: {min: 0.001, max: 0.004}
      deadline_range: {min: 0.001, max: 0.002}
      frame_size_range: {min: 64, max: 128}
      redundant_count: 2
      redundant_paths: 1
      bidirectional: true
`
	require.NoError(t, os.WriteFile(cfgFile, []byte(content), 0o644))

	cfg, err := Load(cfgFile)
	require.NoError(t, err)

	gen := cfg.Generation
	assert.Equal(t, 2, gen.Domains)
	assert.Equal(t, tsncase.SquareInterconnect, gen.DomainInterconnect)
	assert.Equal(t, 1, gen.DomainLinks)
	require.Len(t, gen.Profiles, 1)
	profile := gen.Profiles[0]
	assert.Equal(t, "control", profile.Name)
	assert.Equal(t, []int{6, 7}, profile.Classes)
	assert.Equal(t, tsncase.Range{Min: 0.001, Max: 0.002}, profile.DeadlineRange)
	assert.True(t, profile.Bidirectional)
	assert.NoError(t, gen.Validate())
}
