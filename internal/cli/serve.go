package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tutu-network/modelcore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the model-serving runtime",
	Long:  `Start the resident runtime: memory governor, worker pools, and maintenance loop, until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}

	return d.Serve(context.Background())
}
