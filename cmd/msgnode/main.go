package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kcenon/messaging-system-go/pkg/config"
)

var (
	cfg *config.Config
	log *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "msgnode",
		Short:         "messaging-system-go node: server, bridge and client commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initNode()
		},
	}
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(bridgeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "msgnode:", err)
		os.Exit(1)
	}
}

// initNode loads .env and the messaging config exactly once, regardless of
// how many subcommands a single invocation touches.
func initNode() error {
	if cfg != nil {
		return nil
	}
	_ = godotenv.Load()

	loaded, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	log = logrus.New()
	if level, parseErr := logrus.ParseLevel(cfg.Logging.Level); parseErr == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
