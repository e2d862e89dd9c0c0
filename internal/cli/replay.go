package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reserva/internal/events"
	"reserva/internal/submission"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Send queued offline reservations to the backend once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(submission.AlwaysOnline{})
			if err != nil {
				return err
			}
			a.bus.Subscribe(submission.SettleStored(ctx, a.sessionStore()), events.TypeReplayed)
			delivered, replayErr := p.Replay(ctx)
			left, err := a.queue.Len(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, still queued %d\n", delivered, left)
			return replayErr
		},
	}
}
