package main

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every journal entry into the vector index",
	Long: `Embeds every stored journal entry again and writes it to the configured
vector index. Use it after switching VECTOR_BACKEND or EMBEDDING_MODEL.

Embedding calls are limited to REINDEX_RATE_PER_MINUTE.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.ReindexRatePerMinute)), 1)
		start := time.Now()
		n, err := a.journal.Reindex(cmd.Context(), limiter)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"indexed":  n,
			"duration": time.Since(start).String(),
		}).Info("Reindex complete")
		return nil
	},
}
