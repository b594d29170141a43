package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gembridge/internal/oneshot"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Run a single prompt without keeping a session",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().String("model", "", "Model to use")
	askCmd.Flags().StringArray("file", nil, "File to reference in the prompt (repeatable)")
	askCmd.Flags().Bool("yolo", false, "Pre-grant tool approvals")
	askCmd.Flags().String("dir", "", "Working directory for the child process")
	askCmd.Flags().Duration("timeout", 0, "Per-call timeout (default 2m)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = cfg.Model
	}
	files, _ := cmd.Flags().GetStringArray("file")
	yolo, _ := cmd.Flags().GetBool("yolo")
	dir, _ := cmd.Flags().GetString("dir")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	runner := oneshot.New(cfg.Binary, logger)
	res, err := runner.Run(cmd.Context(), oneshot.Request{
		Prompt:  strings.Join(args, " "),
		Model:   model,
		Dir:     dir,
		Files:   files,
		Yolo:    yolo,
		Timeout: timeout,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	logger.Debug("one-shot done", "elapsed_s", fmt.Sprintf("%.1f", res.ElapsedS))
	return nil
}
