// Package app wires the configured implementations into a running service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vetdispatch/api"
	"vetdispatch/config"
	"vetdispatch/core/dispatch"
	"vetdispatch/core/geo"
	coremetrics "vetdispatch/core/metrics"
	"vetdispatch/core/model"
	"vetdispatch/core/notify"
	"vetdispatch/core/patient"
	"vetdispatch/core/stats"
	"vetdispatch/infra/directory"
	"vetdispatch/infra/logger"
	"vetdispatch/infra/metrics"
	"vetdispatch/infra/mqtt"
	"vetdispatch/infra/store/memory"
	"vetdispatch/infra/store/postgres"
	"vetdispatch/internal/eventbus"
)

// Service owns the engine, the HTTP API, the reaper and the metrics server.
type Service struct {
	Engine *dispatch.Engine
	Ledger *patient.Ledger

	handler    *api.Handler
	reaper     *dispatch.Reaper
	gateway    *mqtt.Gateway
	bus        *eventbus.Bus
	log        logger.Logger
	listenAddr string
	promAddr   string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var (
		requestStore dispatch.Store
		patientStore patient.Store
	)
	switch cfg.Store.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := postgres.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		store := postgres.NewStore(db)
		requestStore, patientStore = store, store
	default:
		store := memory.New()
		requestStore, patientStore = store, store
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusAddr != "" {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxURL != "" {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	svc := &Service{bus: bus, log: logg, listenAddr: cfg.API.ListenAddr, promAddr: cfg.Metrics.PrometheusAddr}

	var gateway notify.Gateway
	if cfg.MQTT.Broker != "" {
		// The receipt handler closes over svc so it can reach the engine
		// created below.
		onStatus := func(requestID, vetID string, status model.DeliveryStatus, at time.Time) {
			if svc.Engine == nil {
				return
			}
			if err := svc.Engine.HandleDeliveryStatus(context.Background(), requestID, vetID, status, at); err != nil {
				logg.Warnf("delivery receipt for request %s: %v", requestID, err)
			}
		}
		gw, err := mqtt.NewGateway(cfg.MQTT, onStatus)
		if err != nil {
			return nil, fmt.Errorf("mqtt gateway: %w", err)
		}
		svc.gateway = gw
		gateway = gw
	} else {
		logg.Warnf("no MQTT broker configured, notifications are recorded but not delivered")
		gateway = notify.NewMockGateway()
	}

	ledger := patient.NewLedger(patientStore, gateway, logger.New("patient"))
	matcher := geo.NewMatcher(directory.NewRegistry(cfg.Directory), logger.New("matcher"))
	engine, err := dispatch.NewEngine(requestStore, matcher, gateway, ledger, cfg.Dispatch, sink, bus, logger.New("dispatch"))
	if err != nil {
		return nil, fmt.Errorf("dispatch engine: %w", err)
	}

	svc.Engine = engine
	svc.Ledger = ledger
	svc.reaper = dispatch.NewReaper(engine, time.Duration(cfg.Dispatch.ReaperIntervalSeconds)*time.Second, logger.New("reaper"))
	svc.handler = api.NewHandler(engine, ledger, stats.NewService(requestStore, patientStore), logger.New("api"))
	return svc, nil
}

// Run starts the API server, the reaper and the metrics server, blocking
// until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	go s.reaper.Run(ctx)
	if s.promAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.listenAddr, Handler: s.handler.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("API listening on %s", s.listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.gateway != nil {
		s.gateway.Disconnect()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	return nil
}
