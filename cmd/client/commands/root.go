package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/toy-private-chat/internal/auth"
	"github.com/omochice/toy-private-chat/internal/config"
	"github.com/omochice/toy-private-chat/internal/logging"
)

var (
	cfg    config.Client
	authed *auth.HTTP

	relayURL string
	authURL  string
	logLevel string
	username string
	password string
)

// Execute runs the client CLI.
func Execute() error {
	root := &cobra.Command{
		Use:          "client",
		Short:        "One-to-one chat client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadClient(); err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("relay") {
				cfg.RelayURL = relayURL
			}
			if flags.Changed("auth") {
				cfg.AuthURL = authURL
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := logging.SetLevel(cfg.LogLevel); err != nil {
				return err
			}
			authed = auth.NewHTTP(cfg.AuthURL, cfg.AuthTimeout)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay websocket URL (e.g. ws://127.0.0.1:8080/ws)")
	root.PersistentFlags().StringVar(&authURL, "auth", "", "auth service base URL (e.g. http://127.0.0.1:8080)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&username, "user", "u", "", "username")
	root.PersistentFlags().StringVarP(&password, "password", "p", "", "password")

	root.AddCommand(chatCmd(), registerCmd())
	return root.Execute()
}

func requestTimeout() time.Duration {
	if cfg.AuthTimeout > 0 {
		return cfg.AuthTimeout
	}
	return 10 * time.Second
}
