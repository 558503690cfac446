package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hush/internal/deps"
	"hush/internal/preflight"
	"hush/internal/staging"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check external tools and the staging directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			var lines []string
			lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			lines = append(lines, dependencyLines(statuses, colorize)...)
			lines = append(lines, "")

			lines = append(lines, renderSectionHeader("Staging", colorize)...)
			access := preflight.CheckDirectoryAccess("Directory", cfg.Paths.StagingDir)
			lines = append(lines, checkLine(access, colorize))
			if free, err := preflight.FreeBytes(cfg.Paths.StagingDir); err == nil {
				lines = append(lines, renderStatusLine("Free space", statusInfo, humanize.IBytes(free), colorize))
			} else {
				lines = append(lines, renderStatusLine("Free space", statusWarn, err.Error(), colorize))
			}
			dirs, err := staging.ListDirectories(cfg.Paths.StagingDir)
			if err != nil {
				lines = append(lines, renderStatusLine("Job directories", statusWarn, err.Error(), colorize))
			} else {
				kind := statusOK
				message := fmt.Sprintf("%d", len(dirs))
				if len(dirs) > 0 {
					kind = statusWarn
					message += " (run 'hush staging list')"
				}
				lines = append(lines, renderStatusLine("Job directories", kind, message, colorize))
			}
			lines = append(lines, "")

			lines = append(lines, renderSectionHeader("Configuration", colorize)...)
			configPath := ctx.configPath
			if configPath == "" {
				configPath = "(defaults)"
			}
			lines = append(lines,
				renderStatusLine("Config file", statusInfo, configPath, colorize),
				renderStatusLine("Staging dir", statusInfo, cfg.Paths.StagingDir, colorize),
				renderStatusLine("Log file", statusInfo, cfg.LogFilePath(), colorize),
				renderStatusLine("History", statusInfo, historyLabel(cfg.History.Enabled, cfg.HistoryPath()), colorize),
				renderStatusLine("Output mode", statusInfo, cfg.Output.Mode, colorize),
			)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tools missing", len(missing))
			}
			return nil
		},
	}
}

func historyLabel(enabled bool, path string) string {
	if !enabled {
		return "disabled"
	}
	return path
}
