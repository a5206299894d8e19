// Package config provides configuration management for the tsncase command line tool.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/iti/tsncase"
)

// Config holds all configuration for the application.
type Config struct {
	Generation tsncase.Params `mapstructure:"generation"`
	Output     OutputConfig   `mapstructure:"output"`
	Logging    LoggingConfig  `mapstructure:"logging"`
}

// OutputConfig holds batch generation and output configuration.
type OutputConfig struct {
	Count       int    `mapstructure:"count"`
	Workers     int    `mapstructure:"workers"`
	Dir         string `mapstructure:"dir"`
	Format      string `mapstructure:"format"`
	Bundle      bool   `mapstructure:"bundle"`
	Trace       bool   `mapstructure:"trace"`
	MetricsFile string `mapstructure:"metrics_file"`
}

// Extension returns the file extension matching the output format.
func (c OutputConfig) Extension() string {
	if c.Format == "json" {
		return ".json"
	}
	return ".yaml"
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("tsncase")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Environment variables
	v.SetEnvPrefix("TSNCASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	p := tsncase.DefaultParams()

	// Generation, topology
	v.SetDefault("generation.name", p.Name)
	v.SetDefault("generation.seed", p.Seed)
	v.SetDefault("generation.node_count", p.NodeCount)
	v.SetDefault("generation.bridge_ratio", p.BridgeRatio)
	v.SetDefault("generation.degree_target", p.DegreeTarget)
	v.SetDefault("generation.layout_template", p.LayoutTemplate)
	v.SetDefault("generation.port_budget", p.PortBudget)
	v.SetDefault("generation.port_capacity", p.PortCapacity)
	v.SetDefault("generation.class_partition", p.ClassPartition)
	v.SetDefault("generation.backbone_bandwidth", p.BackboneBandwidth)
	v.SetDefault("generation.access_bandwidth", p.AccessBandwidth)
	v.SetDefault("generation.backbone_delay.min", p.BackboneDelay.Min)
	v.SetDefault("generation.backbone_delay.max", p.BackboneDelay.Max)
	v.SetDefault("generation.access_delay.min", p.AccessDelay.Min)
	v.SetDefault("generation.access_delay.max", p.AccessDelay.Max)
	v.SetDefault("generation.topology_attempts", p.TopologyAttempts)
	v.SetDefault("generation.overrides", p.Overrides)
	v.SetDefault("generation.domains", p.Domains)
	v.SetDefault("generation.domain_interconnect", p.DomainInterconnect)
	v.SetDefault("generation.domain_links", p.DomainLinks)

	// Generation, streams
	v.SetDefault("generation.stream_count", p.StreamCount)
	v.SetDefault("generation.class_distribution", p.ClassDistribution)
	v.SetDefault("generation.period_range.min", p.PeriodRange.Min)
	v.SetDefault("generation.period_range.max", p.PeriodRange.Max)
	v.SetDefault("generation.uniform_periods", p.UniformPeriods)
	v.SetDefault("generation.deadline_range.min", p.DeadlineRange.Min)
	v.SetDefault("generation.deadline_range.max", p.DeadlineRange.Max)
	v.SetDefault("generation.frame_size_range.min", p.FrameSizeRange.Min)
	v.SetDefault("generation.frame_size_range.max", p.FrameSizeRange.Max)
	v.SetDefault("generation.multicast_ratio", p.MulticastRatio)
	v.SetDefault("generation.max_destinations", p.MaxDestinations)
	v.SetDefault("generation.source_selection", p.SourceSelection)
	v.SetDefault("generation.stream_attempts", p.StreamAttempts)
	v.SetDefault("generation.cross_domain_streams", p.CrossDomainStreams)
	v.SetDefault("generation.bidirectional_ratio", p.BidirectionalRatio)
	v.SetDefault("generation.redundant_ratio", p.RedundantRatio)
	v.SetDefault("generation.redundant_paths", p.RedundantPaths)
	v.SetDefault("generation.profiles", p.Profiles)

	// Generation, routes
	v.SetDefault("generation.admission_mode", p.AdmissionMode)
	v.SetDefault("generation.cost_weight", p.CostWeight)

	// Output
	v.SetDefault("output.count", 1)
	v.SetDefault("output.workers", 4)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "yaml")
	v.SetDefault("output.bundle", false)
	v.SetDefault("output.trace", false)
	v.SetDefault("output.metrics_file", "")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}
