// Package cli implements the modelcore command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tutu",
	Short: "TuTu — Run AI models locally",
	Long: `TuTu is the local-first AI runtime.
Run large language models on your machine with zero network, zero accounts.

A single node owns a memory-governed worker pool per model: workers spawn
and scale on demand, idle ones are evicted under pressure, and a circuit
breaker isolates a model that keeps failing to load or infer.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
