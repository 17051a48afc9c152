package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Vovarama1992/relay-ai-bridge/internal/config"
)

const (
	serviceName = "relay-ai-bridge"
	version     = "1.0.0"
)

var (
	v      = config.New()
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Multi-platform chat relay in front of an OpenAI-compatible backend",
	Long: `relay connects Telegram, Discord and WhatsApp chats to a chat-completion
backend. Each conversation keeps a bounded, expiring history in the
configured store.

Configuration comes from the environment (and a .env file); flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		logger, err = config.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("port", 8000, "HTTP listen port (PORT)")
	flags.String("store", "redis", "conversation store: redis|postgres|memory (STORE_BACKEND)")
	flags.String("log-level", "info", "debug|info|warn|error (LOG_LEVEL)")
	flags.String("log-format", "json", "json|console (LOG_FORMAT)")
	flags.String("profile", "", "YAML file with prompts, commands and triggers (RELAY_PROFILE_FILE)")

	// An explicitly set flag wins over the environment; unset flags fall
	// through to env and defaults.
	for key, name := range map[string]string{
		"PORT":               "port",
		"STORE_BACKEND":      "store",
		"LOG_LEVEL":          "log-level",
		"LOG_FORMAT":         "log-format",
		"RELAY_PROFILE_FILE": "profile",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
