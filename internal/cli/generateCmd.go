package cli

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iti/tsncase"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a batch of test cases",
	Long: `Generate test cases from the configured parameters.  Case i of the batch uses
seed+i and is named test_case_i.  Each case is written to its own file in the output
directory, or all of them to one bundle file.`,
	RunE: runGenerate,
}

func init() {
	addGenerateFlags(generateCmd)
}

func addGenerateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("params", "p", "", "Path to a parameter file (yaml or json), replacing the configured generation parameters")
	flags.IntP("count", "n", 0, "Number of cases to generate")
	flags.IntP("workers", "w", 0, "Number of cases generated in parallel")
	flags.Uint64P("seed", "s", 0, "Seed of the first case")
	flags.StringP("out", "o", "", "Output directory")
	flags.StringP("format", "f", "", "Output format, yaml or json")
	flags.Bool("bundle", false, "Write all cases to one bundle file")
	flags.Bool("trace", false, "Write a generation trace beside each case")
	flags.String("metrics-file", "", "Write generation metrics in Prometheus text format to this file")
}

// applyGenerateFlags lets flags given on the command line override the configuration
func applyGenerateFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if paramsFile, _ := flags.GetString("params"); paramsFile != "" {
		p, err := tsncase.ReadParams(paramsFile, tsncase.UseYAML(paramsFile), nil)
		if err != nil {
			return fmt.Errorf("reading parameters %s: %w", paramsFile, err)
		}
		cfg.Generation = *p
	}
	if flags.Changed("count") {
		cfg.Output.Count, _ = flags.GetInt("count")
	}
	if flags.Changed("workers") {
		cfg.Output.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("seed") {
		cfg.Generation.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("out") {
		cfg.Output.Dir, _ = flags.GetString("out")
	}
	if flags.Changed("format") {
		cfg.Output.Format, _ = flags.GetString("format")
	}
	if flags.Changed("bundle") {
		cfg.Output.Bundle, _ = flags.GetBool("bundle")
	}
	if flags.Changed("trace") {
		cfg.Output.Trace, _ = flags.GetBool("trace")
	}
	if flags.Changed("metrics-file") {
		cfg.Output.MetricsFile, _ = flags.GetString("metrics-file")
	}

	if cfg.Output.Format != "yaml" && cfg.Output.Format != "json" {
		return fmt.Errorf("output format %q not yaml or json", cfg.Output.Format)
	}
	if cfg.Output.Count < 1 {
		return fmt.Errorf("case count %d must be at least 1", cfg.Output.Count)
	}
	if cfg.Output.Workers < 1 {
		cfg.Output.Workers = 1
	}
	if ok, err := tsncase.CheckDirectories([]string{cfg.Output.Dir}); !ok {
		return err
	}
	if ok, err := tsncase.CheckOutputFiles([]string{cfg.Output.MetricsFile}); !ok {
		return fmt.Errorf("metrics file: %w", err)
	}
	return nil
}

// batchParams gives the parameters of case idx of the batch
func batchParams(base *tsncase.Params, idx int) *tsncase.Params {
	p := base.Clone()
	p.Seed = base.Seed + uint64(idx)
	p.Name = fmt.Sprintf("test_case_%d", idx)
	return p
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if err := applyGenerateFlags(cmd); err != nil {
		return err
	}
	out := cfg.Output

	registry := prometheus.NewRegistry()
	metrics, err := tsncase.CreateMetrics(registry)
	if err != nil {
		return err
	}
	cg := tsncase.CreateCaseGen(logger, metrics)
	cg.Trace = out.Trace

	cases := make([]*tsncase.Case, out.Count)
	results := make([]*tsncase.ValidationResult, out.Count)
	genErrs := make([]error, out.Count)

	// a failed case does not stop the batch, so workers never return an error.
	// Each worker writes only its own index.
	var g errgroup.Group
	g.SetLimit(out.Workers)
	for idx := 0; idx < out.Count; idx++ {
		p := batchParams(&cfg.Generation, idx)
		g.Go(func() error {
			cases[idx], results[idx], genErrs[idx] = cg.Generate(p)
			return nil
		})
	}
	_ = g.Wait()

	var bundle *tsncase.CaseDict
	if out.Bundle {
		bundle = tsncase.CreateCaseDict(cfg.Generation.Name)
	}

	passed, failed, errored := 0, 0, 0
	for idx, c := range cases {
		if genErrs[idx] != nil {
			errored += 1
			logger.Error("case not generated", zap.Int("index", idx),
				zap.String("kind", tsncase.ErrorKind(genErrs[idx])), zap.Error(genErrs[idx]))
			continue
		}
		if results[idx].Pass {
			passed += 1
		} else {
			failed += 1
		}

		name := c.Params.Name
		if bundle != nil {
			if err := bundle.AddCase(c, false); err != nil {
				return err
			}
		} else if err := c.WriteToFile(filepath.Join(out.Dir, name+out.Extension())); err != nil {
			return fmt.Errorf("writing case %s: %w", name, err)
		}
		if c.Trace != nil {
			if err := c.Trace.WriteToFile(filepath.Join(out.Dir, name+"-trace"+out.Extension()), true); err != nil {
				return fmt.Errorf("writing trace of case %s: %w", name, err)
			}
		}
	}
	if bundle != nil {
		bundleFile := filepath.Join(out.Dir, "cases"+out.Extension())
		if err := bundle.WriteToFile(bundleFile); err != nil {
			return fmt.Errorf("writing bundle %s: %w", bundleFile, err)
		}
	}

	if out.MetricsFile != "" {
		if err := prometheus.WriteToTextfile(out.MetricsFile, registry); err != nil {
			return fmt.Errorf("writing metrics %s: %w", out.MetricsFile, err)
		}
	}

	logger.Info("batch generated", zap.Int("cases", out.Count), zap.Int("passed", passed),
		zap.Int("failed", failed), zap.Int("errors", errored), zap.String("dir", out.Dir))
	fmt.Fprintf(cmd.OutOrStdout(), "%d cases: %d pass, %d fail validation, %d not generated\n",
		out.Count, passed, failed, errored)

	if errored > 0 {
		return fmt.Errorf("%d of %d cases could not be generated", errored, out.Count)
	}
	return nil
}
