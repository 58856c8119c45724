package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tutu-network/modelcore/internal/daemon"
)

func init() {
	rootCmd.AddCommand(stopCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop MODEL",
	Short: "Unload a model from memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	d.StopModel(args[0])
	fmt.Printf("Stopped model %s\n", args[0])
	return nil
}
