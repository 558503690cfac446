package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hush/internal/history"
)

type historyEntry struct {
	JobID        string    `json:"job_id"`
	Input        string    `json:"input"`
	Output       string    `json:"output,omitempty"`
	MediaKind    string    `json:"media_kind,omitempty"`
	Status       string    `json:"status"`
	FailedStage  string    `json:"failed_stage,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Segments     int       `json:"segments"`
	AppliedGain  float64   `json:"applied_gain"`
	InputBytes   int64     `json:"input_bytes"`
	OutputBytes  int64     `json:"output_bytes"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent enhancement jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				entries := make([]historyEntry, 0, len(runs))
				for _, run := range runs {
					entries = append(entries, historyEntry{
						JobID:        run.JobID,
						Input:        run.InputPath,
						Output:       run.OutputPath,
						MediaKind:    run.MediaKind,
						Status:       string(run.Status),
						FailedStage:  run.FailedStage,
						ErrorKind:    run.ErrorKind,
						ErrorMessage: run.ErrorMessage,
						Segments:     run.Segments,
						AppliedGain:  run.AppliedGain,
						InputBytes:   run.InputBytes,
						OutputBytes:  run.OutputBytes,
						StartedAt:    run.StartedAt,
						DurationMs:   run.Duration().Milliseconds(),
					})
				}
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, historyRow(run))
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Started", "Input", "Kind", "Status", "Took", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print jobs as JSON")
	return cmd
}

func historyRow(run history.Run) []string {
	status := string(run.Status)
	if run.Status == history.StatusFailed && run.FailedStage != "" {
		status = fmt.Sprintf("failed (%s)", run.FailedStage)
	}
	took := "-"
	if d := run.Duration(); d > 0 {
		took = d.Round(100 * time.Millisecond).String()
	}
	size := humanize.IBytes(uint64(max(run.InputBytes, 0)))
	if run.OutputBytes > 0 {
		size = fmt.Sprintf("%s → %s", size, humanize.IBytes(uint64(run.OutputBytes)))
	}
	return []string{
		shortID(run.JobID),
		humanize.Time(run.StartedAt),
		filepath.Base(run.InputPath),
		run.MediaKind,
		status,
		took,
		size,
	}
}
