package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-can-safety-gateway/internal/logging"
)

type rootOptions struct {
	logLevel string
	param    int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "safety-replay",
		Short: "Offline tools for the CAN safety gateway",
		Long: `safety-replay drives the hyundai_community safety profile with recorded
candump traffic, using the log timestamps as the clock.

Commands:
  replay    Replay a candump log and summarize verdicts and routes
  checksum  Seal a payload with the checksum of its message`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Profile log level: debug|info|warn|error")
	cmd.PersistentFlags().IntVar(&opts.param, "param", 0, "Safety profile parameter bits")

	cmd.AddCommand(newReplayCmd(opts), newChecksumCmd())
	return cmd
}

// logger writes profile logs to the command's stderr.
func (o *rootOptions) logger(cmd *cobra.Command) *slog.Logger {
	return logging.New("text", logging.ParseLevel(o.logLevel), cmd.ErrOrStderr())
}
