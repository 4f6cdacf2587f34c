package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nicktill/sysincident/pkg/clock"
	"github.com/nicktill/sysincident/pkg/config"
	"github.com/nicktill/sysincident/pkg/server"
	"github.com/nicktill/sysincident/pkg/server/monitor"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	v, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, v, logger, nil); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
	logger.Info("server exited cleanly")
}

// run wires the service together and blocks until ctx is done. The bound
// listen address is sent on ready once the server accepts connections.
func run(ctx context.Context, v *viper.Viper, logger *zap.Logger, ready chan<- net.Addr) error {
	store, err := server.InitializeStore(ctx, v, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tel, err := server.InitializeTelemetry(v, reg, logger)
	if err != nil {
		return err
	}
	defer tel.Close()

	flags := config.NewViperFlags(v)
	core := server.InitializeCore(v, store, flags, tel.Sink, logger)

	tickInterval := v.GetDuration("scorer.tick_interval")
	tickTimeout := v.GetDuration("scorer.tick_timeout")
	addr := server.ServerConfig(v).Addr()

	// Nothing below may read v: the watcher goroutine rewrites it.
	if file := v.ConfigFileUsed(); file != "" {
		logger.Info("config loaded", zap.String("file", file))
		flags.Watch(func(e fsnotify.Event) {
			logger.Info("config file changed",
				zap.String("file", e.Name),
				zap.Bool(config.FlagTickVolumeAnomalyDetection, flags.Bool(config.FlagTickVolumeAnomalyDetection)),
			)
		})
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	hub := server.NewHub(logger.Named("ws"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(bgCtx)
	}()

	tickMonitor := monitor.NewTickMonitor()
	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunTicks(bgCtx, clock.Aligned(bgCtx, tickInterval), core.Scorer, tickMonitor, hub,
			tickTimeout, logger.Named("ticks"))
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.RunBadgerGC(bgCtx, store, config.BadgerGCInterval, logger.Named("gc"))
	}()

	router := mux.NewRouter()
	server.SetupRoutes(router, server.Routes{
		Core:     core,
		Store:    store,
		Monitor:  tickMonitor,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger.Named("http"),
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	if ready != nil {
		ready <- ln.Addr()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		cancel()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	// Stop background tasks before waiting on them.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all background tasks stopped")
	case <-time.After(5 * time.Second):
		logger.Warn("some background tasks did not stop in time")
	}

	return nil
}
