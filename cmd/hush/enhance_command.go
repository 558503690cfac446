package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hush/internal/config"
	"hush/internal/enhance"
	"hush/internal/history"
	"hush/internal/logging"
	"hush/internal/preflight"
	"hush/internal/services"
)

type enhanceResult struct {
	Input  string `json:"input"`
	Output string `json:"output,omitempty"`
	Stage  string `json:"failed_stage,omitempty"`
	Kind   string `json:"error_kind,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newEnhanceCommand(ctx *commandContext) *cobra.Command {
	var keepOriginal bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "enhance <file>...",
		Short: "Remove background noise from one or more media files",
		Long: fmt.Sprintf(`Remove background noise from the audio of each file, one after another.

By default the enhanced file replaces the original once every stage has
succeeded. With --keep-original the result is written next to the input as
<name>.enhanced<ext>.

Accepted extensions: %s`, strings.Join(enhance.SupportedExtensions(), " ")),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if keepOriginal {
				copied := *cfg
				copied.Output.Mode = config.OutputModeSibling
				cfg = &copied
			}
			logger, err := ctx.logger(cmd, cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			opts := []enhance.Option{enhance.WithPreflight(preflight.Verify)}
			if cfg.History.Enabled {
				store, err := history.Open(cfg)
				if err != nil {
					logging.WarnWithContext(logger, "job history unavailable", "history_open_failed",
						logging.Error(err),
						logging.String(logging.FieldImpact, "jobs in this run will not appear in 'hush history'"),
					)
				} else {
					defer store.Close()
					opts = append(opts, enhance.WithRecorder(store))
				}
			}
			pipeline := enhance.New(cfg, ctx.toolRunner(cfg, logger), logger, opts...)

			// Jobs from one invocation share a correlation id in the logs.
			batchCtx := services.WithRequestID(cmd.Context(), uuid.NewString())
			results := make([]enhanceResult, 0, len(args))
			failed := 0
			for _, input := range args {
				if batchCtx.Err() != nil {
					break
				}
				output, err := pipeline.Enhance(batchCtx, input)
				result := enhanceResult{Input: input, Output: output}
				if err != nil {
					failed++
					result.Error = err.Error()
					var stageErr *enhance.StageError
					if errors.As(err, &stageErr) {
						result.Stage = stageErr.Stage
						result.Kind = string(stageErr.Kind)
					}
				}
				results = append(results, result)
			}

			if jsonOutput {
				if err := writeJSON(cmd, results); err != nil {
					return err
				}
			} else {
				printEnhanceResults(cmd, results)
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepOriginal, "keep-original", false, "Write <name>.enhanced<ext> instead of replacing the input")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	return cmd
}

func printEnhanceResults(cmd *cobra.Command, results []enhanceResult) {
	out := cmd.OutOrStdout()
	for _, result := range results {
		if result.Error == "" {
			fmt.Fprintf(out, "enhanced %s -> %s\n", result.Input, result.Output)
			continue
		}
		fmt.Fprintf(out, "failed   %s: %s\n", result.Input, result.Error)
	}
}
