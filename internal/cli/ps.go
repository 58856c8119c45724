package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tutu-network/modelcore/internal/daemon"
	"github.com/tutu-network/modelcore/internal/domain"
)

func init() {
	rootCmd.AddCommand(psCmd)
}

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List models currently loaded in memory",
	RunE:  runPs,
}

func runPs(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	loaded := d.LoadedModels()
	if len(loaded) == 0 {
		fmt.Println("No models currently loaded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tWORKERS\tIDLE\tQUEUE\tSIZE\tBREAKER\tLAST USED")
	for _, m := range loaded {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			m.RegistryKey,
			m.WorkerCount,
			m.IdleCount,
			m.QueueDepth,
			domain.HumanSize(int64(m.PerWorkerMB)*1024*1024),
			m.BreakerState,
			lastUsedDisplay(m.LastUsedUnix),
		)
	}
	return w.Flush()
}

func lastUsedDisplay(unixSecs int64) string {
	if unixSecs == 0 {
		return "-"
	}
	return time.Unix(unixSecs, 0).Format("15:04:05")
}
