package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/app/coord"
)

// answer: wait for offers and answer each of them.
func answerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "answer",
		Short: "Wait for incoming calls and answer them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(cmd, func(ctx context.Context, c *coord.Coordinator) error {
				fmt.Fprintln(cmd.OutOrStdout(), "waiting for calls")
				return nil
			})
		},
	}
}
