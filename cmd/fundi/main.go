// Fundi — sandboxed code execution and multi-discipline test engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fundi",
	Short: "Fundi — sandboxed code execution and multi-discipline test engine.",
	Long: `Fundi executes untrusted code artifacts in isolated sandboxes and judges
them under six test disciplines: basic execution, unit, integration,
performance, coverage, and security. Failing artifacts can be revised and
retried through a feedback loop, and every run produces an order-preserving
report.`,
	RunE:          runRun, // Default to running a task.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
