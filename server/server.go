package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/logger"
	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/liveauction/api"
	"github.com/cloudx-io/liveauction/attest"
	"github.com/cloudx-io/liveauction/clock"
	"github.com/cloudx-io/liveauction/config"
	"github.com/cloudx-io/liveauction/engine"
	"github.com/cloudx-io/liveauction/notify"
	"github.com/cloudx-io/liveauction/storage/sqlstore"
)

const shutdownTimeout = 10 * time.Second

// Server wires the engine to its storage, clock and listeners.
type Server struct {
	cfg config.Config
}

func NewServer(cfg config.Config) *Server {
	return &Server{cfg: cfg}
}

// Start runs until ctx ends or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	store, err := sqlstore.Open(ctx, s.cfg.DatabaseType, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", s.cfg.DatabaseType, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Failed to close store: %v", err)
		}
	}()
	logger.Infof("Storage initialized (%s)", s.cfg.DatabaseType)

	var source clock.Source
	if s.cfg.TimeSourceURL != "" {
		source = clock.NewHTTPSource(s.cfg.TimeSourceURL)
	} else {
		logger.Warningf("No trusted time source configured, the clock will report stale")
	}
	clk := clock.New(source, clock.WithMaxAge(s.cfg.ClockMaxAge))
	if source != nil {
		if err := clk.Sync(ctx); err != nil {
			logger.Warningf("Initial clock sync failed: %v (continuing with local time)", err)
		}
		go clk.Run(ctx, s.cfg.ClockSyncInterval)
		logger.Infof("Clock sync started (interval: %s, max age: %s)", s.cfg.ClockSyncInterval, s.cfg.ClockMaxAge)
	}

	hub := notify.NewHub()
	opts := []engine.Option{
		engine.WithDispatcher(notify.NewDispatcher(store, notify.LogNotifier{}, hub)),
		engine.WithBannerVisibility(s.cfg.BannerVisibility),
		engine.WithStaleCancelMargin(s.cfg.StaleCancelMargin),
	}
	if s.cfg.AttestWinners {
		nsm, err := attest.NitroAttester()
		if err != nil {
			logger.Errorf("NSM initialization failed: %v (winner records will be unattested)", err)
		} else {
			opts = append(opts, engine.WithAttester(engine.EnclaveAttester{Enclave: nsm}))
			logger.Infof("Winner attestation enabled")
		}
	}
	eng := engine.New(store, clk, opts...)

	go engine.NewSweeper(eng, s.cfg.SweepInterval).Run(ctx)
	logger.Infof("Claim sweeper started (interval: %s)", s.cfg.SweepInterval)

	router := api.NewRouter(api.NewHandler(eng, hub), s.cfg.MaxWorkers)

	listeners := []net.Listener{}
	tcp, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
	}
	listeners = append(listeners, tcp)
	logger.Infof("HTTP server listening on %s", s.cfg.HTTPAddr)

	if s.cfg.VsockPort != 0 {
		vl, err := vsock.Listen(s.cfg.VsockPort, nil)
		if err != nil {
			_ = tcp.Close()
			return fmt.Errorf("failed to create vsock listener: %w", err)
		}
		listeners = append(listeners, vl)
		logger.Infof("HTTP server listening on vsock port %d", s.cfg.VsockPort)
	}

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l net.Listener) {
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(l)
	}

	select {
	case <-ctx.Done():
		logger.Infof("Shutting down")
	case err = <-errCh:
		logger.Errorf("Listener failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Errorf("Failed to shut down cleanly: %v", shutdownErr)
	}
	return err
}
