package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmagar/dash-sub004/internal/config"
	"github.com/jmagar/dash-sub004/internal/fleet"
	"github.com/jmagar/dash-sub004/internal/logger"
)

var serveListenFlag string

// serveCmd runs the engine and the agent websocket endpoint.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet management server",
	Long: `Start the fleet engine: health monitoring for every known host, the
process poll loops, and the websocket endpoint agents register against.

Examples:
  fleetd serve
  fleetd serve --listen :9000
  fleetd serve --config /etc/fleet/fleet.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if serveListenFlag != "" {
		cfg.Listen = serveListenFlag
	}

	log := logger.NewEnvLogger("fleetd")
	engine := fleet.New(*cfg, fleet.WithLogger(log))
	defer engine.Close()

	// Every known host comes under monitoring at boot.
	hosts, err := engine.Hosts().ListHosts()
	if err != nil {
		return err
	}
	for _, h := range hosts {
		if err := engine.StartHostMonitoring(h.ID); err != nil {
			log.Warn("could not start monitoring host %s: %v", h.ID, err)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/agent", engine.AgentEndpoint())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info("received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "", "bind address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
