package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// Send command flags
var (
	sendType string
)

var sendCmd = &cobra.Command{
	Use:   "send <to> <content>",
	Short: "Send a message to a teammate",
	Long: `Send a message to one agent or to the whole team.

The recipient is an agent name or "broadcast". A broadcast reaches every
team member except the sender. Recipients without a live connection get
the message buffered until they next drain it.

Message types: api_spec, file_change, decision, todo, question

Examples:
  crosstalk send bob "use POST /v2/items; body matches items.schema.json" --type api_spec
  crosstalk send broadcast "switching auth to sessions" --type decision
  crosstalk send alice "does the exporter retry on 503?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

func runSend(cmd *cobra.Command, args []string) error {
	to := args[0]
	content := strings.Join(args[1:], " ")
	if !crosstalk.ValidMessageType(crosstalk.MessageType(sendType)) {
		return fmt.Errorf("unknown message type %q (valid: %v)", sendType, crosstalk.MessageTypes())
	}

	tr, err := restoredTransport()
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := tr.Send(ctx, to, sendType, content)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(res)
	}

	if res.DeliveredTo == 0 {
		fmt.Printf("Sent %s (no agents connected to receive it)\n", res.MessageID)
		return nil
	}
	noun := "agent"
	if res.DeliveredTo != 1 {
		noun = "agents"
	}
	fmt.Printf("Sent %s to %d %s\n", res.MessageID, res.DeliveredTo, noun)
	return nil
}
