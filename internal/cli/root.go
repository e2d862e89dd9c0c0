// Package cli wires the reserva commands.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"reserva/internal/config"
)

var (
	Version   = "dev"
	CommitSHA = "none"
)

type rootOptions struct {
	configPath string
	envFile    string
	debug      bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "reserva",
		Short:         "Reservation intake bot with offline queueing",
		Version:       fmt.Sprintf("%s (%s)", Version, CommitSHA),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnv(opts.envFile)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $RESERVA_CONFIG_PATH or "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newReplayCmd(opts))
	root.AddCommand(newResolveCmd(opts))
	root.AddCommand(newExportCmd(opts))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnv reads the dotenv file. A missing file is not an error.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setup loads the config and builds the process logger.
func (o *rootOptions) setup() (*config.Config, *zerolog.Logger, error) {
	path := o.configPath
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level := zerolog.InfoLevel
	if o.debug || cfg.Telegram.Debug {
		level = zerolog.DebugLevel
	}
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return cfg, &logger, nil
}
