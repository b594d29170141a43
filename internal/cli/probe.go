package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gembridge/internal/launch"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the wrapped CLI binary is present and responsive",
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	version, err := launch.Probe(cmd.Context(), cfg.Binary)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Binary, version)
	return nil
}
