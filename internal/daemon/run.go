package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fadcrypt/fadcrypt/internal/config"
	"github.com/fadcrypt/fadcrypt/internal/metrics"
	"github.com/fadcrypt/fadcrypt/internal/monitor"
	"github.com/fadcrypt/fadcrypt/internal/protect"
	"github.com/fadcrypt/fadcrypt/internal/protocol"
	"github.com/fadcrypt/fadcrypt/internal/syslog"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// Run starts the daemon and blocks until ctx is cancelled or a component
// fails. Startup failures wrap protocol.ErrFatalStartup.
func Run(ctx context.Context, cfg *config.Config) error {
	if err := requirePrivileges(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrFatalStartup, err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0755); err != nil {
		return fmt.Errorf("%w: lock directory: %v", protocol.ErrFatalStartup, err)
	}
	lock := flock.New(cfg.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("%w: lock %s: %v", protocol.ErrFatalStartup, cfg.LockFile, err)
	}
	if !locked {
		return fmt.Errorf("%w: another instance holds %s", protocol.ErrFatalStartup, cfg.LockFile)
	}
	defer lock.Unlock()

	backend, err := protect.New(cfg.ImmutableMethod, protect.WithChattrPath(cfg.ChattrPath))
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrFatalStartup, err)
	}

	m := metrics.New()
	mon, err := monitor.New(monitor.Config{
		DecisionSocket:  cfg.DecisionSocket,
		DecisionTimeout: cfg.DecisionTimeout.Duration,
		StopTimeout:     cfg.MonitorStopTimeout.Duration,
		MaxFrameSize:    cfg.MaxFrameSize,
		Metrics:         m,
		Exempt:          cfg.MonitorExempt,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrFatalStartup, err)
	}

	srv := NewServer(cfg, backend, mon, NewTrustPolicy(cfg.Trust), m)
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrFatalStartup, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	var metricsServer *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("metrics server: %w", err)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		notifyStopping()

		srv.Close()
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}
		if err := mon.Stop(); err != nil {
			syslog.L.Error(err).WithMessage("access monitor shutdown").Write()
		}
		return nil
	})

	notifyReady()
	syslog.L.Info().WithMessage("daemon started").
		WithFields(map[string]any{
			"socket":  srv.Addr(),
			"backend": backend.Name(),
			"trust":   cfg.Trust.Mode,
		}).Write()

	err = g.Wait()
	syslog.L.Info().WithMessage("daemon stopped").Write()
	return err
}
