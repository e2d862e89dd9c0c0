package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"reserva/internal/access"
	"reserva/internal/availability"
	"reserva/internal/bot"
	"reserva/internal/database"
	"reserva/internal/events"
	"reserva/internal/metrics"
	"reserva/internal/panel"
	"reserva/internal/submission"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram reservation bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			if cfg.Telegram.BotToken == "" || cfg.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
				return fmt.Errorf("set telegram.bot_token in config")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			a.avail.Load(ctx, availabilityLoader(cfg, a.client))
			if cfg.Availability.File != "" {
				if err := availability.Watch(ctx, cfg.Availability.File, cfg.WatchInterval(), a.avail, logger); err != nil {
					logger.Warn().Err(err).Msg("availability file watch disabled")
				}
			}

			var pipeline *submission.Pipeline
			monitor := submission.NewMonitor(a.client, submission.ReplayerFunc(func(ctx context.Context) (int, error) {
				return pipeline.Replay(ctx)
			}), cfg.HealthInterval(), logger)
			if pipeline, err = a.pipeline(monitor); err != nil {
				return err
			}

			b, err := bot.New(cfg.Telegram.BotToken, bot.Deps{
				Availability: a.avail,
				Capacity:     a.client,
				Panel: panel.Settings{
					AllowedLocations: cfg.PanelLocations(),
					MinPartySize:     cfg.Booking.PanelMinPartySize,
					Debounce:         cfg.PanelDebounce(),
				},
				Sessions:       a.sessionStore(),
				Pipeline:       pipeline,
				Journal:        a.journal,
				Access:         access.NewService(a.db, cfg.Managers, logger),
				Queue:          a.queue,
				Managers:       cfg.Managers,
				SessionTimeout: cfg.SessionTimeout(),
				ResetDelay:     cfg.ResetDelay(),
			}, logger)
			if err != nil {
				return fmt.Errorf("create bot: %w", err)
			}
			a.bus.Subscribe(b.HandleDelivered, events.TypeReplayed)
			a.avail.Subscribe(func(*availability.Config) { b.RefreshAvailability() })

			go monitor.Start(ctx)

			backup := database.NewBackupService(a.db, database.BackupConfig{
				Enabled:       cfg.Backup.Enabled,
				Interval:      cfg.BackupInterval(),
				StoragePath:   cfg.Backup.Path,
				RetentionDays: cfg.Backup.RetentionDays,
			}, logger)
			go backup.Start(ctx)

			if keep := cfg.JournalRetention(); keep > 0 {
				if n, err := a.journal.DeleteOlderThan(ctx, keep); err != nil {
					logger.Warn().Err(err).Msg("journal pruning failed")
				} else if n > 0 {
					logger.Info().Int64("deleted", n).Msg("pruned journal")
				}
			}

			if cfg.Monitoring.HealthCheckPort == 0 {
				cfg.Monitoring.HealthCheckPort = 8080
			}
			go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, a, monitor, logger)

			if cfg.Monitoring.PrometheusEnabled {
				if cfg.Monitoring.PrometheusPort == 0 {
					cfg.Monitoring.PrometheusPort = 9090
				}
				metrics.Register()
				go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
			}

			logger.Info().Msg("reservation bot started")
			b.Start(ctx)
			return nil
		},
	}
}
