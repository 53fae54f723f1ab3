package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/univ-scheduler-api/internal/scheduler"
	"github.com/noah-isme/univ-scheduler-api/pkg/config"
	"github.com/noah-isme/univ-scheduler-api/pkg/logger"
)

type runFlags struct {
	workspace   string
	entriesIn   string
	entriesOut  string
	iterations  int
	seed        int64
	strictness  int
	parallelism int
}

type runSummary struct {
	Outcome       scheduler.Outcome       `json:"outcome"`
	Scheduled     int                     `json:"scheduled"`
	Unscheduled   int                     `json:"unscheduled"`
	Removed       int                     `json:"removed"`
	Penalty       float64                 `json:"penalty"`
	Seed          int64                   `json:"seed"`
	BestIteration int                     `json:"bestIteration"`
	Iterations    int                     `json:"iterations"`
	Truncated     bool                    `json:"truncated,omitempty"`
	Failures      []scheduler.Unscheduled `json:"failures,omitempty"`
}

func newRunCommand() *cobra.Command {
	flags := runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "generate a timetable for a workspace file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logr, err := cliLogger(cmd)
			if err != nil {
				return err
			}
			defer logr.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWorkspace(ctx, flags, cmd, logr, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.workspace, "workspace", "w", "", "workspace JSON file")
	cmd.Flags().StringVar(&flags.entriesIn, "entries", "", "CSV of already committed entries")
	cmd.Flags().StringVarP(&flags.entriesOut, "out", "o", "", "write the resulting schedule to this CSV")
	cmd.Flags().IntVarP(&flags.iterations, "iterations", "n", 0, "override the number of passes")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "override the random seed")
	cmd.Flags().IntVar(&flags.strictness, "strictness", 0, "override strictness (1-10)")
	cmd.Flags().IntVar(&flags.parallelism, "parallelism", 0, "concurrent passes (0 uses every CPU)")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func newValidateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "check a workspace file against the engine's input rules",
		Long: "Decodes the workspace, resolves its calendar and checks every reference " +
			"the engine would check before a run, without scheduling anything.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(path)
			if err != nil {
				return err
			}
			preview, err := scheduler.Validate(ws.request())
			if err != nil {
				return fmt.Errorf("invalid workspace: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d requirements (%d occurrences), %d rooms, %d teachers, %d groups, %d working days, %d slots\n",
				preview.Requirements, preview.Occurrences, len(ws.Classrooms), len(ws.Teachers), len(ws.Groups), preview.WorkingDays, preview.Pairs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "workspace", "w", "", "workspace JSON file")
	_ = cmd.MarkFlagRequired("workspace")
	return cmd
}

func cliLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	return logger.New(&config.Config{
		Env: config.EnvDevelopment,
		Log: config.LogConfig{Level: level, Format: "console"},
	})
}

func loadWorkspace(path string) (*workspace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeWorkspace(f)
}

func runWorkspace(ctx context.Context, flags runFlags, cmd *cobra.Command, logr *zap.Logger, out io.Writer) error {
	ws, err := loadWorkspace(flags.workspace)
	if err != nil {
		return err
	}
	req := ws.request()
	if cmd.Flags().Changed("iterations") {
		req.Options.Iterations = flags.iterations
	}
	if cmd.Flags().Changed("seed") {
		req.Options.Seed = flags.seed
	}
	if cmd.Flags().Changed("strictness") {
		req.Options.Strictness = flags.strictness
	}

	var existing []scheduler.Entry
	if flags.entriesIn != "" {
		if existing, err = readEntries(flags.entriesIn); err != nil {
			return err
		}
	}
	store := scheduler.NewMemoryStore(existing...)

	sugar := logr.Sugar()
	req.OnState = func(s scheduler.State) { sugar.Debugw("state", "state", s) }
	req.OnProgress = func(p scheduler.Progress) { sugar.Debugw("progress", "current", p.Current, "total", p.Total) }

	res, err := scheduler.NewEngine(logr, flags.parallelism).Run(ctx, req, store)
	if err != nil {
		return err
	}
	sugar.Infow("run finished", "outcome", res.Outcome, "scheduled", res.Scheduled, "unscheduled", res.Unscheduled, "penalty", res.Penalty, "seed", res.Seed)

	if flags.entriesOut != "" && res.Outcome == scheduler.OutcomeCompleted {
		if err := writeEntries(flags.entriesOut, store.Entries()); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(runSummary{
		Outcome:       res.Outcome,
		Scheduled:     res.Scheduled,
		Unscheduled:   res.Unscheduled,
		Removed:       len(res.Removed),
		Penalty:       res.Penalty,
		Seed:          res.Seed,
		BestIteration: res.BestIteration,
		Iterations:    res.Iterations,
		Truncated:     res.Truncated,
		Failures:      res.FailedEntries,
	})
}
