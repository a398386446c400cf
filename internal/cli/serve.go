package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gzhole/eduguard/internal/metrics"
	"github.com/gzhole/eduguard/internal/server"
)

var (
	serveListen   string
	serveMetrics  bool
	serveAuditAPI bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the guard over HTTP",
	Long: `Start the HTTP API used by platform services:

  POST /v1/check/input     check a learner prompt
  POST /v1/check/output    check a model response
  GET  /v1/access/{user}   feature availability for a role and tier
  GET  /v1/audit/recent    most recent security events (--audit-api only)
  GET  /metrics            Prometheus metrics
  GET  /healthz            liveness

  eduguard serve --listen 127.0.0.1:8088`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveMetrics, "metrics", true, "Expose /metrics")
	serveCmd.Flags().BoolVar(&serveAuditAPI, "audit-api", false, "Expose /v1/audit/recent (unauthenticated; bind to a private address)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, nil, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			a.log.Error().Err(err).Msg("audit log did not drain")
		}
	}()

	scfg := server.Config{
		Addr:         cfg.Listen,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		AuditAPI:     serveAuditAPI,
	}
	if serveMetrics {
		if err := metrics.RegisterPending(prometheus.DefaultRegisterer, a.audit.Pending); err != nil {
			return err
		}
		scfg.Metrics = server.DefaultMetrics()
	}
	return server.New(a.guard, a.audit, scfg, a.log).ListenAndServe(ctx)
}
