package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/yegram/yegram/shared/metrics"
	"github.com/yegram/yegram/signal/server"
	"github.com/yegram/yegram/util"
	"github.com/yegram/yegram/version"
)

const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start Yegram relay server",
	RunE:  execute,
}

func execute(cmd *cobra.Command, args []string) error {
	err := cobraConfig.Validate()
	if err != nil {
		log.Debugf("invalid config: %s", err)
		return fmt.Errorf("invalid config: %s", err)
	}

	err = util.InitLogWithFormat(cobraConfig.LogLevel, cobraConfig.LogFile, cobraConfig.LogFormat)
	if err != nil {
		log.Debugf("failed to initialize log: %s", err)
		return fmt.Errorf("failed to initialize log: %s", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Resource creation phase (fail fast before starting any goroutines)

	metricsServer, err := metrics.NewServer(cobraConfig.MetricsPort, "")
	if err != nil {
		log.Debugf("setup metrics: %v", err)
		return fmt.Errorf("setup metrics: %v", err)
	}

	otel.SetMeterProvider(metricsServer.Provider())

	listener, err := net.Listen("tcp", cobraConfig.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cobraConfig.ListenAddress, err)
	}

	srv, err := server.NewServer(context.Background(), metricsServer.Meter, cobraConfig.serverOptions()...)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to create relay server: %w", err)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Infof("starting Yegram relay %s", version.YegramVersion())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("running metrics server: %s%s", metricsServer.Addr, metricsServer.Endpoint)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Infof("relay listening on %s", listener.Addr())
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Infof("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownServers(shutdownCtx, metricsServer, httpServer, srv)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("relay stopped with error: %s", err)
		return err
	}
	log.Infof("relay stopped")
	return nil
}

func shutdownServers(ctx context.Context, metricsServer *metrics.Metrics, httpServer *http.Server, srv *server.Server) error {
	var errs error

	// close websockets first, hijacked connections are not tracked by the http server
	if err := srv.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close relay connections: %w", err))
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close relay server: %w", err))
	}

	log.Infof("shutting down metrics server")
	if err := metricsServer.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("failed to close metrics server: %w", err))
	}

	return errs
}
