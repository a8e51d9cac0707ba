package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xp-integrity-service/internal/config"
	"xp-integrity-service/internal/jobs"
	transport "xp-integrity-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the XP grant server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.log

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	scheduler := jobs.New(log)
	interval := config.TTLDuration(cfg.Leaderboard.ReconcileInterval, 5*time.Minute)
	lookback := config.TTLDuration(cfg.Leaderboard.ReconcileLookback, 24*time.Hour)
	if err := scheduler.AddReconcile(rt.reconciler, interval, lookback); err != nil {
		return err
	}
	for name, store := range rt.sweepers {
		if err := scheduler.AddSweep(name, store, time.Minute); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	proxies, err := transport.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}
	xpHandler := transport.NewXPHandler(rt.service, proxies, log)
	wsHandler := transport.NewWSHandler(rt.service, rt.feed, proxies, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/xp-grant", xpHandler.ServeGrant)
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/metrics", rt.metrics.Handler())

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting xp integrity service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
