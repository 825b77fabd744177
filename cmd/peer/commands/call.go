package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/peercall/internal/app/coord"
	"github.com/dkeye/peercall/internal/domain"
)

// call: offer a session to whoever shares the room.
func callCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Start a call by sending an offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(cmd, func(ctx context.Context, c *coord.Coordinator) error {
				sid, err := c.CreateOffer(ctx, domain.SessionID(session))
				if err != nil {
					return fmt.Errorf("create offer: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "calling, session %s\n", sid)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id to offer (default: random)")
	return cmd
}
