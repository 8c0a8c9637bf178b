package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"healthalert/internal/api"
	"healthalert/internal/channel"
	"healthalert/internal/clock"
	"healthalert/internal/config"
	"healthalert/internal/directory"
	"healthalert/internal/dispatch"
	"healthalert/internal/domain"
	"healthalert/internal/escalate"
	"healthalert/internal/logging"
	"healthalert/internal/registry"
	"healthalert/internal/render"
	"healthalert/internal/resolver"
	"healthalert/internal/store"
	"healthalert/internal/tracker"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable alert engine service.
type Service struct {
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func()
	store      store.Store
	registry   *registry.Registry
	escalator  *escalate.Engine
	dispatcher *dispatch.Dispatcher
	deferred   dispatch.Queue
	httpSrv    *http.Server
	readyFlag  atomic.Bool
	clock      clock.Clock
}

// NewService builds service instance from config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	backend, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	renderer, err := render.NewRenderer(cfg.Template)
	if err != nil {
		_ = backend.Close()
		closeLog()
		return nil, err
	}

	dir := directory.NewStaticDirectory(cfg.Directory)
	res := resolver.New(dir)
	trk := tracker.New(backend, clk)
	adapters := buildAdapters(cfg.Channels)
	dispatcher := dispatch.NewDispatcher(cfg.Dispatch, adapters, renderer, trk, backend, dir, nil, logger, clk)
	reg := registry.New(backend, res, dispatcher, clk, logger)
	escalator := escalate.New(backend, res, dispatcher, cfg.Escalation, clk, logger)

	service := &Service{
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		store:      backend,
		registry:   reg,
		escalator:  escalator,
		dispatcher: dispatcher,
		clock:      clk,
	}

	if err := service.buildDeferredQueue(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	service.buildHTTPServer(trk)

	return service, nil
}

// Run starts service lifecycle and blocks until shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.API.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	escalationInterval := time.Duration(s.cfg.Service.EscalationScanSec) * time.Second
	escalationTicker := time.NewTicker(escalationInterval)
	defer escalationTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-escalationTicker.C:
				if _, err := s.escalator.Evaluate(shutdownCtx, s.clock.Now()); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("escalation scan failed", "error", err.Error())
				}
			}
		}
	}()

	scheduleInterval := time.Duration(s.cfg.Service.ScheduleScanSec) * time.Second
	scheduleTicker := time.NewTicker(scheduleInterval)
	defer scheduleTicker.Stop()
	go func() {
		for {
			select {
			case <-shutdownCtx.Done():
				return
			case <-scheduleTicker.C:
				now := s.clock.Now()
				if _, err := s.registry.PromoteScheduled(shutdownCtx, now); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("schedule sweep failed", "error", err.Error())
				}
				if _, err := s.registry.ExpireOverdue(shutdownCtx, now); err != nil && !errors.Is(err, context.Canceled) {
					s.logger.Error("expiry sweep failed", "error", err.Error())
				}
			}
		}
	}()

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.deferred != nil {
		if err := s.deferred.Close(); err != nil {
			s.logger.Error("deferred queue close failed", "error", err.Error())
			markErr(fmt.Errorf("deferred queue close: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.deferred != nil {
		_ = s.deferred.Close()
		s.deferred = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.store != nil {
		_ = s.store.Close()
		s.store = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires router with alert and health endpoints.
// Params: tracker for acknowledgment routes.
// Returns: none; server stored on the service.
func (s *Service) buildHTTPServer(trk *tracker.Tracker) {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.API.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.API.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.API.Enabled {
		router := api.New(s.registry, trk, s.escalator, s.cfg.API.MaxBodyBytes, s.logger).Router()
		mux.Handle("/alerts", router)
		mux.Handle("/alerts/", router)
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildDeferredQueue initializes quiet-hours deferral storage by mode.
// Params: none.
// Returns: setup error.
func (s *Service) buildDeferredQueue() error {
	if isSingleMode(s.cfg) {
		queue := dispatch.NewMemoryQueue(s.dispatcher.RunDeferred, s.logger)
		s.deferred = queue
		s.dispatcher.SetDeferred(queue)
		return nil
	}
	url := strings.Join(s.cfg.Store.URL, ",")
	queue, err := dispatch.NewNATSQueue(url, s.cfg.Dispatch.Deferred, s.dispatcher.RunDeferred, s.logger)
	if err != nil {
		return err
	}
	s.deferred = queue
	s.dispatcher.SetDeferred(queue)
	return nil
}

// buildAdapters creates one sender per enabled channel.
// Params: channels config snapshot.
// Returns: deduplication-wrapped adapter list.
func buildAdapters(cfg config.ChannelsConfig) []channel.Adapter {
	var adapters []channel.Adapter
	add := func(enabled bool, adapter channel.Adapter) {
		if enabled {
			adapters = append(adapters, channel.NewDeduper(adapter))
		}
	}
	add(cfg.SMS.Enabled, channel.NewGatewaySender(domain.ChannelSMS, cfg.SMS))
	add(cfg.Voice.Enabled, channel.NewGatewaySender(domain.ChannelVoice, cfg.Voice))
	add(cfg.Push.Enabled, channel.NewGatewaySender(domain.ChannelPush, cfg.Push))
	add(cfg.Email.Enabled, channel.NewEmailSender(cfg.Email))
	add(cfg.Chat.Enabled, channel.NewChatSender(cfg.Chat))
	return adapters
}

// buildStore creates runtime state backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (store.Store, error) {
	if isSingleMode(cfg) {
		return store.NewMemoryStore(), nil
	}
	return store.NewNATSStore(cfg.Store)
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}
