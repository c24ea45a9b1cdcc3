package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"solace.app/companion/internal/config"
	"solace.app/companion/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Journaling companion API server",
	Long: `Serves the journaling companion API: journal entries, AI reflections and
chat conversations grounded in the user's own journal.

Configuration is read from a .env file and the environment. GEMINI_API_KEY
and JWT_SECRET are required.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, reindexCmd, tokenCmd)
}

// loadConfig loads configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("Command failed")
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
