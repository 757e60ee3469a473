package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/go-go-golems/agent-relay/pkg/config"
	"github.com/go-go-golems/agent-relay/pkg/logging"
	"github.com/go-go-golems/agent-relay/pkg/server"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat UI and the /ws/{session_id} relay endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(v, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return errors.Wrap(err, "build server")
			}
			return srv.Run(ctx)
		},
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

// loadServeConfig resolves the configuration and re-applies the logging settings,
// which the env file may have changed since the root command set them up.
func loadServeConfig(v *viper.Viper, fs *pflag.FlagSet) (config.Config, error) {
	cfg, warnings, err := config.Load(v, fs)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "load config")
	}
	if err := logging.Init(cfg.Logging, os.Stderr); err != nil {
		return config.Config{}, err
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	return cfg, nil
}
