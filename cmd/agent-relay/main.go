package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/agent-relay/pkg/config"
	"github.com/go-go-golems/agent-relay/pkg/logging"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	config.UseEnv(v)
	rootCmd := &cobra.Command{
		Use:           "agent-relay",
		Short:         "Relay browser websocket sessions to a streaming agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return logging.Init(logging.Settings{
				Level:      v.GetString("log-level"),
				Format:     v.GetString("log-format"),
				WithCaller: v.GetBool("with-caller"),
			}, os.Stderr)
		},
	}
	config.AddLoggingFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCommand(v), newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			log.Debug().Msg("version requested")
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
