package main

import (
	"errors"
	"fmt"

	"github.com/cwrk-planet/booth-service/internal/client"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Estimate the offset between the local clock and the service clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		off, err := estimate(cmd.Context())
		if errors.Is(err, client.ErrSyncUnavailable) {
			fmt.Fprintf(cmd.OutOrStdout(), "offset: 0 ms (sync unavailable: %v)\n", err)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "offset: %d ms\n", int64(off))
		return nil
	},
}
