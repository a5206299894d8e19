package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/iti/tsncase"
)

var validateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate test cases read from files",
	Long: `Validate each case found in the files named, which may hold a single case or a
bundle of cases.  Every violation is printed; the command fails if any case does.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

// readCases returns the case descriptions held in the file, keyed by a label for reporting
func readCases(filename string) (map[string]*tsncase.CaseDesc, error) {
	dict, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	useYAML := tsncase.UseYAML(filename)

	rtn := make(map[string]*tsncase.CaseDesc)
	bundle, err := tsncase.ReadCaseDict(filename, useYAML, dict)
	if err == nil && len(bundle.Cases) > 0 {
		for name := range bundle.Cases {
			cd, _ := bundle.RecoverCase(name)
			rtn[filename+":"+name] = cd
		}
		return rtn, nil
	}

	cd, err := tsncase.ReadCaseDesc(filename, useYAML, dict)
	if err != nil {
		return nil, err
	}
	rtn[filename] = cd
	return rtn, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if ok, err := tsncase.CheckReadableFiles(args); !ok {
		return err
	}
	cg := tsncase.CreateCaseGen(logger, nil)
	w := cmd.OutOrStdout()

	failures := 0
	for _, filename := range args {
		cases, err := readCases(filename)
		if err != nil {
			return fmt.Errorf("reading %s: %w", filename, err)
		}
		labels := make([]string, 0, len(cases))
		for label := range cases {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		for _, label := range labels {
			vr, err := cg.ValidateDesc(cases[label])
			if err != nil {
				failures += 1
				fmt.Fprintf(w, "%s: MALFORMED %v\n", label, err)
				continue
			}
			if !vr.Pass {
				failures += 1
			}
			printResult(w, label, vr)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d cases failed validation", failures)
	}
	return nil
}

func printResult(w io.Writer, label string, vr *tsncase.ValidationResult) {
	if vr.Pass {
		fmt.Fprintf(w, "%s: PASS\n", label)
		return
	}
	fmt.Fprintf(w, "%s: FAIL (%d violations)\n", label, len(vr.Violations))
	for _, v := range vr.Violations {
		fmt.Fprintf(w, "  [%s] %s\n", v.Check, v.Detail)
	}
}
