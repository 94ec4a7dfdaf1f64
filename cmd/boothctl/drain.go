package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/booth-service/internal/client"

	"github.com/spf13/cobra"
)

var drainWait time.Duration

var drainCmd = &cobra.Command{
	Use:   "drain ROOM",
	Short: "Upload and announce queued captures for a room, then exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := client.OpenQueue(flags.queuePath)
		if err != nil {
			return err
		}
		defer q.Close()
		if q.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), drainWait)
		defer cancel()

		var result error
		b := client.NewBooth(client.BoothConfig{
			ServerURL: flags.server,
			Room:      args[0],
			API:       newAPI(),
			Queue:     q,
			Hooks: client.Hooks{OnDrained: func(delivered, pending int, err error) {
				fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, pending %d\n", delivered, pending)
				result = err
				cancel()
			}},
		})
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return result
	},
}

func init() {
	drainCmd.Flags().DurationVar(&drainWait, "wait", 30*time.Second, "give up after this long")
}
