package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/engine"
	"github.com/jkaninda/fundi/internal/report"
	"github.com/jkaninda/fundi/internal/tester"
)

// Exit codes for the run command.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitError   = 2
)

var (
	runConfigPath string
	runTaskPath   string
	runOutputPath string
	runBackend    string
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a task file through the discipline pipeline",
	RunE:  runRun,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, rootCmd} {
		cmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Config file path (or FUNDI_CONFIG env var)")
		cmd.Flags().StringVarP(&runTaskPath, "task", "t", "", "Task file to evaluate (YAML or JSON)")
		cmd.Flags().StringVarP(&runOutputPath, "output", "o", "", "Write the JSON report to this path")
		cmd.Flags().StringVar(&runBackend, "backend", "", "Force a sandbox backend: docker or process")
		cmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	}
}

func runRun(_ *cobra.Command, _ []string) error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if runTaskPath == "" {
		return fmt.Errorf("a task file is required (use --task)")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runBackend != "" {
		cfg.Sandbox.Backend = runBackend
	}
	if runOutputPath != "" {
		cfg.Report.OutputPath = runOutputPath
	}

	task, err := engine.LoadTaskFile(runTaskPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := executeTask(ctx, cfg, logger, task)
	if err != nil {
		return err
	}

	printSummary(rep)
	if !rep.Passed {
		os.Exit(ExitFailure)
	}
	return nil
}

// executeTask owns component lifetimes so Cleanup runs before the caller
// decides the exit code.
func executeTask(ctx context.Context, cfg *config.Config, logger *slog.Logger, task *engine.Task) (*report.Report, error) {
	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer sc.Cleanup()

	rep, err := sc.Engine.Run(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("running task %s: %w", task.ID, err)
	}

	// The report always lands on disk; --output overrides the workspace
	// default location.
	outPath := cfg.Report.OutputPath
	if outPath == "" {
		outPath = sc.Workspace.ReportPath(rep.RunID.String())
	}
	if err := report.WriteFile(outPath, rep); err != nil {
		return nil, err
	}
	logger.Info("report written", slog.String("path", outPath))
	return rep, nil
}

func loadConfig() (*config.Config, error) {
	path := goutils.Env("FUNDI_CONFIG", runConfigPath)
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func printSummary(rep *report.Report) {
	passed := 0
	for _, st := range rep.Subtasks {
		if st.Status == tester.StatusPassed {
			passed++
		}
	}
	fmt.Printf("run %s: %d/%d subtasks passed", rep.RunID, passed, len(rep.Subtasks))
	if rep.Degraded {
		fmt.Print(" (degraded: process sandbox)")
	}
	fmt.Println()
	for _, st := range rep.Subtasks {
		line := fmt.Sprintf("  [%s] %s %s", st.Status, st.SubtaskID, st.Discipline)
		if st.Attempts > 1 {
			line += fmt.Sprintf(" (attempts: %d)", st.Attempts)
		}
		if st.Message != "" && st.Status != tester.StatusPassed {
			line += ": " + st.Message
		}
		fmt.Println(line)
	}
}
