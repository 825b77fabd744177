package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	discover bool
	audio    bool
)

func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "peer",
		Short:         "Peer-to-peer call client driven by a signaling server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		},
	}

	pf := root.PersistentFlags()
	pf.String("signal-url", "", "signaling websocket URL (default from config)")
	pf.String("room", "", "relay room to join")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.Int("max-retries", 0, "signaling reconnect attempts before giving up")
	pf.StringSlice("ice-servers", nil, "STUN/TURN server URLs")
	pf.BoolVar(&discover, "discover", false, "find the signaling server over mDNS")
	pf.BoolVar(&audio, "audio", false, "send an opus track of silence")

	root.AddCommand(callCmd(), answerCmd())
	return root
}
