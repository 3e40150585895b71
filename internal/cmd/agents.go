package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the team roster",
	Long: `List the agents currently registered in your team.

Examples:
  crosstalk agents
  crosstalk agents --json`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	tr, err := restoredTransport()
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	agents, err := tr.ListAgents(ctx)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(agents)
	}

	if len(agents) == 0 {
		fmt.Println("No agents connected.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCONNECTED\tLAST SEEN\tPENDING")
	for _, a := range agents {
		connected := "-"
		if !a.ConnectedAt.IsZero() {
			connected = a.ConnectedAt.Local().Format("Jan 02 15:04")
		}
		lastSeen := "-"
		if !a.LastSeen.IsZero() {
			lastSeen = a.LastSeen.Local().Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", a.Name, connected, lastSeen, a.PendingMessages)
	}
	return w.Flush()
}
