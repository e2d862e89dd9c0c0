package cli

import (
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"reserva/internal/model"
)

func newResolveCmd(opts *rootOptions) *cobra.Command {
	var (
		date    string
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the availability decision for a date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := model.ParseDate(date)
			if err != nil {
				return err
			}
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}

			var rdb *redis.Client
			if cfg.Redis.Address != "" {
				rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
				defer rdb.Close()
			}
			client := newWebhookClient(cfg, rdb)
			if refresh && client != nil {
				if err := client.InvalidateCache(cmd.Context()); err != nil {
					logger.Warn().Err(err).Msg("availability cache not cleared")
				}
			}
			store := newAvailabilityStore(cfg, logger)
			store.Load(cmd.Context(), availabilityLoader(cfg, client))

			decision, err := store.Resolve(d)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(decision, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date to resolve (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "drop the cached remote config before loading")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
