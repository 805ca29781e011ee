package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Maphikza/btc-wallet-sendflow/internal/api"
	"github.com/Maphikza/btc-wallet-sendflow/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the send flow over HTTP",
	Long: `Serve send flows over HTTP with bearer token authentication.
Without a configured jwt_secret a key is generated and a token is printed.
With user_pubkey set, tokens can also be obtained by signing a challenge
from /api/challenge and posting it to /api/verify.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := newRuntime(settings)
		exitOnError("Error starting send flow", err)
		defer rt.close()

		key := []byte(settings.JWTSecret)
		if len(key) == 0 {
			key, err = api.GenerateJWTKey()
			exitOnError("Error generating JWT key", err)
			token, err := api.IssueToken(key, "local", 24*time.Hour)
			exitOnError("Error issuing token", err)
			fmt.Printf("Bearer token (valid 24h): %s\n", token)
		}

		a := api.NewAPI(api.API{
			Engine:        rt.engine,
			Host:          rt.host,
			JWTKey:        key,
			AllowedOrigin: settings.AllowedOrigin,
			Gatherer:      prometheus.DefaultGatherer,
			UserPubKey:    settings.UserPubKey,
			Challenges:    rt.db,
		})
		srv := a.Server(settings.APIPort)

		go func() {
			log.Printf("Send flow API listening on %s", srv.Addr)
			logger.Info("Send flow API listening on", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("HTTP server failed: %v", err)
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down server:", err)
		}
		fmt.Println("Server stopped.")
	},
}
