package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geoge23/fats/pkg/builder"
	"github.com/geoge23/fats/pkg/container"
	"github.com/geoge23/fats/pkg/generation"
	"github.com/geoge23/fats/pkg/ingress"
	"github.com/geoge23/fats/pkg/log"
	"github.com/geoge23/fats/pkg/metrics"
	"github.com/geoge23/fats/pkg/network"
	"github.com/geoge23/fats/pkg/proxy"
	"github.com/geoge23/fats/pkg/reconciler"
	"github.com/geoge23/fats/pkg/scheduler"
	"github.com/geoge23/fats/pkg/secrets"
	"github.com/geoge23/fats/pkg/storage"
)

// reconcileInterval is how often the scheduler runs a reconciliation
// pass absent an early wake from an upload.
const reconcileInterval = 3 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fats control plane: ingress, reconciler, and proxy",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "/var/lib/fats", "Directory holding the sqlite database")
	serveCmd.Flags().String("work-dir", "", "Directory uploads are extracted under (defaults to a temp directory)")
	serveCmd.Flags().String("bin-dir", "/var/lib/fats/bin", "Directory the plan-generator binary is cached in")
	serveCmd.Flags().String("mgmt-addr", ":9000", "Address the mgmt API (tar-upload, secret) listens on")
	serveCmd.Flags().String("proxy-addr", ":8080", "Address the reverse proxy listens on")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9100", "Address the metrics/health endpoints listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dataDir, _ := cmd.Flags().GetString("data-dir")
	workDir, _ := cmd.Flags().GetString("work-dir")
	binDir, _ := cmd.Flags().GetString("bin-dir")
	mgmtAddr, _ := cmd.Flags().GetString("mgmt-addr")
	proxyAddr, _ := cmd.Flags().GetString("proxy-addr")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if workDir == "" {
		dir, err := os.MkdirTemp("", "fats-work-*")
		if err != nil {
			return fmt.Errorf("creating work directory: %w", err)
		}
		workDir = dir
	}
	for _, dir := range []string{dataDir, workDir, binDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	store, err := storage.Open(filepath.Join(dataDir, "fats.db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	netMgr := network.NewManager()
	if err := netMgr.AttachSelf(ctx); err != nil {
		log.Logger.Warn().Err(err).Msg("failed to attach self to fats network; continuing without it")
	}

	genRegistry := generation.NewRegistry(store)
	containers := container.NewManager(netMgr)
	recon := reconciler.New(store, containers, genRegistry)
	secretsMgr := secrets.NewManager(store)
	b := builder.New(builder.Config{Store: store, WorkRoot: workDir, BinDir: binDir})

	sched := scheduler.New()
	reconcileSchedule := sched.Register("reconcile", reconcileInterval, recon.Run)
	sched.Start(ctx)
	defer sched.Stop()

	ingressSrv := ingress.New(b, secretsMgr, sched, reconcileSchedule)
	proxySrv := proxy.New(store)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "ready")
	metrics.RegisterComponent("scheduler", true, "ready")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}

	mgmtServer := &http.Server{Addr: mgmtAddr, Handler: ingressSrv.Handler()}
	proxyServer := &http.Server{Addr: proxyAddr, Handler: proxySrv}

	errCh := make(chan error, 3)
	go func() { errCh <- serveAndLog(metricsServer, "metrics") }()
	go func() { errCh <- serveAndLog(mgmtServer, "mgmt") }()
	go func() { errCh <- serveAndLog(proxyServer, "proxy") }()

	log.Logger.Info().
		Str("mgmt_addr", mgmtAddr).
		Str("proxy_addr", proxyAddr).
		Str("metrics_addr", metricsAddr).
		Msg("fats is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("server error")
	}

	// Uploads and builds are left to finish; the scheduler does not
	// cancel an in-flight reconciliation pass. Shutdown here only
	// stops accepting new connections.
	_ = mgmtServer.Shutdown(context.Background())
	_ = proxyServer.Close()
	_ = metricsServer.Close()

	return nil
}

func serveAndLog(server *http.Server, name string) error {
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
