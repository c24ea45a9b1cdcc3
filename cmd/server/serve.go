package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"solace.app/companion/internal/api"
	"solace.app/companion/internal/auth"
)

// Worst case for one message: five attempts plus 1+2+4+8 seconds of backoff
// (retry.DefaultPolicy does not wait after the last attempt).
const backoffBudget = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
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

		router := api.NewRouter(api.NewAPIHandler(a.chats, a.journal, auth.NewAuthenticator(cfg.JWTSecret)))
		serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

		srv := &http.Server{
			Addr:         serverAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5*cfg.GenerationTimeout + backoffBudget + 15*time.Second,
			IdleTimeout:  120 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			log.WithField("addr", serverAddr).Info("Starting server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		select {
		case err := <-serverErr:
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		case <-cmd.Context().Done():
		}
		log.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		// Let in-flight title jobs finish before the store closes.
		a.chats.Wait()
		log.Info("Server exiting gracefully")
		return nil
	},
}
