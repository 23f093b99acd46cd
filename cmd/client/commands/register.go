package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func registerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account with the auth service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
			defer cancel()

			if err := authed.Register(ctx, username, password); err != nil {
				return err
			}
			fmt.Printf("Registered %s\n", username)
			return nil
		},
	}
	return cmd
}
