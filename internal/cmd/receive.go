package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosstalkhq/crosstalk/internal/crosstalk"
)

// Receive command flags
var (
	receiveWait time.Duration
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Drain pending messages",
	Long: `Connect as the saved agent and drain pending messages.

The command stays connected for the --wait window so that buffered
messages and anything sent during the window are collected, then prints
what arrived. On the hub transport an agent is only addressable while
connected, so a longer window gives teammates more chance to reach you.

Examples:
  crosstalk receive               # collect for 2 seconds
  crosstalk receive --wait 30s    # stay reachable for half a minute
  crosstalk receive --json`,
	RunE: runReceive,
}

func runReceive(cmd *cobra.Command, args []string) error {
	tr, err := restoredTransport()
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	// Poll the local buffer until the window closes. An interrupt ends the
	// window early but still reports what arrived.
	deadline := time.After(receiveWait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var msgs []crosstalk.Message
collect:
	for {
		select {
		case <-deadline:
			break collect
		case <-sigCh:
			break collect
		case <-ticker.C:
			batch, err := tr.FlushMessages(ctx)
			if err != nil {
				return err
			}
			msgs = append(msgs, batch...)
		}
	}
	if batch, err := tr.FlushMessages(ctx); err == nil {
		msgs = append(msgs, batch...)
	}

	if outputJSON {
		if msgs == nil {
			msgs = []crosstalk.Message{}
		}
		return printJSON(msgs)
	}

	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	for _, m := range msgs {
		target := ""
		if m.To == crosstalk.Broadcast {
			target = " to all"
		}
		fmt.Printf("[%s] %s%s (%s): %s\n",
			m.CreatedAt.Local().Format("15:04:05"), m.From, target, m.Type, m.Content)
	}
	return nil
}
