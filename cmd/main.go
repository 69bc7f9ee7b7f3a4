package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xdimtech/go-avatarlink/pkg/config"
	"github.com/xdimtech/go-avatarlink/pkg/logging"
)

var (
	configPath string
	logger     = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "avatarlink",
		Short: "Stream avatar animation events over websocket",
		Long: `avatarlink moves facial animation frames and gesture triggers from an
animation backend to a renderer over a websocket link.

  serve   run a renderer endpoint that confirms every event it receives
  stream  connect to a renderer and stream emotion frames to it`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(configPath); err != nil {
				return err
			}
			l, err := logging.New(config.Get().Log)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default conf/biz.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		streamCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
