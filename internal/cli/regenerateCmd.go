package cli

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iti/tsncase"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate FILE",
	Short: "Rebuild a case from its identifier and parameters",
	Long: `Read a case file, rebuild the case from the identifier and parameters it records,
and report whether the rebuilt case is identical to the recorded one.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegenerate,
}

func init() {
	addRegenerateFlags(regenerateCmd)
}

func addRegenerateFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("out", "o", "", "Write the rebuilt case to this file")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	filename := args[0]
	outFile, _ := cmd.Flags().GetString("out")
	if ok, err := tsncase.CheckOutputFiles([]string{outFile}); !ok {
		return fmt.Errorf("rebuilt case file: %w", err)
	}
	recorded, err := tsncase.ReadCaseDesc(filename, tsncase.UseYAML(filename), nil)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}

	cg := tsncase.CreateCaseGen(logger, nil)
	c, err := cg.Regenerate(recorded.ID, &recorded.Params)
	if err != nil {
		return err
	}

	if outFile != "" {
		if err := c.WriteToFile(outFile); err != nil {
			return fmt.Errorf("writing %s: %w", outFile, err)
		}
	}

	rebuilt := c.Transform()
	same, err := sameCase(recorded, &rebuilt)
	if err != nil {
		return err
	}
	logger.Info("case regenerated", zap.String("case_id", c.ID), zap.Bool("identical", same))
	if !same {
		return fmt.Errorf("case %s regenerated differently from %s", c.ID, filename)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: case %s regenerated identically\n", filename, c.ID)
	return nil
}

// sameCase compares two case descriptions by their json encodings
func sameCase(cd1, cd2 *tsncase.CaseDesc) (bool, error) {
	b1, err := json.Marshal(cd1)
	if err != nil {
		return false, err
	}
	b2, err := json.Marshal(cd2)
	if err != nil {
		return false, err
	}
	return bytes.Equal(b1, b2), nil
}
