package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new room code",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := newAPI().CreateRoom(cmd.Context())
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), code)
		return nil
	},
}
