// Package app is the high-level coordinator wiring config, the rule
// store, the asset registry, the alarm engine, the bus transport, the
// action worker pool and the mailbox HTTP surface together. Adapted
// from the teacher's internal/processor.Processor: the same
// init*/Run/shutdown shape, replacing the log-ingest pipeline with the
// alarm engine's bus-reader/ticker pair.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flexalert/internal/actions"
	"flexalert/internal/alert"
	"flexalert/internal/audit"
	"flexalert/internal/bus"
	"flexalert/internal/cache"
	"flexalert/internal/config"
	"flexalert/internal/engine"
	"flexalert/internal/logger"
	"flexalert/internal/mailbox"
	"flexalert/internal/metrics"
	"flexalert/internal/middleware"
	"flexalert/internal/registry"
	"flexalert/internal/rulestore"
	"flexalert/internal/snapshot"
	"flexalert/internal/wire"
	"flexalert/internal/worker"
)

const (
	assetsTopic       = "fty-asset"
	metricsTopic      = "fty-metric"
	sensorMetricTopic = "fty-metric-sensor"
	licensingTopic    = "fty-licensing"
	republishAddress  = "asset-agent"
	consumerGroup     = "flexalert"
)

// App is the high-level coordinator. Its lifecycle mirrors the
// teacher's Processor: New builds it from config, Run blocks until ctx
// is canceled, then shuts every collaborator down in turn.
type App struct {
	cfg *config.Config

	rules    *rulestore.Store
	registry *registry.Registry
	cache    *cache.Cache
	eng      *engine.Engine

	alertProducer     *bus.AlertProducer
	republishProducer *bus.RepublishProducer
	consumers         []*bus.Consumer

	dispatcher *actions.Dispatcher
	pool       *worker.Pool
	jobs       chan alert.Envelope

	auditLog  *audit.FileAggregator
	snapStore snapshot.Store

	httpServer *http.Server
	wg         sync.WaitGroup
}

// New builds an App from cfg. It opens the rule store, audit log and
// snapshot file eagerly (all local disk I/O); the bus connections are
// opened lazily in Run so New itself never blocks on a broker.
func New(cfg *config.Config) (*App, error) {
	rules, err := rulestore.Open(cfg.RulesDir)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}

	auditLog, err := audit.Open(filepath.Join(cfg.RulesDir, "audit.log"))
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	a := &App{
		cfg:        cfg,
		rules:      rules,
		registry:   registry.New(),
		cache:      cache.New(),
		auditLog:   auditLog,
		snapStore:  snapshot.Open(filepath.Join(cfg.RulesDir, ".bindings.json")),
		dispatcher: actions.New(emailConfigFromEnv()),
		jobs:       make(chan alert.Envelope, 256),
	}
	return a, nil
}

// emailConfigFromEnv reads SMTP settings from the environment; a
// missing SMTP_HOST disables EMAIL dispatch (Dispatcher.sendEmail logs
// and counts a failure rather than panicking).
func emailConfigFromEnv() *actions.EmailConfig {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil
	}
	port := 587
	fmt.Sscanf(os.Getenv("SMTP_PORT"), "%d", &port)
	return &actions.EmailConfig{
		SMTPHost: host,
		SMTPPort: port,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     os.Getenv("SMTP_FROM"),
		UseTLS:   os.Getenv("SMTP_USE_TLS") == "true",
		To:       splitNonEmpty(os.Getenv("SMTP_TO")),
	}
}

func splitNonEmpty(csv string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Run starts every background component and blocks until ctx is
// canceled, then performs an orderly shutdown.
func (a *App) Run(ctx context.Context) error {
	log := logger.WithComponent("app")
	log.Info().Str("rules_dir", a.cfg.RulesDir).Int("rules_loaded", a.rules.Len()).Msg("flexalert starting")

	if bindings, err := a.snapStore.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load binding snapshot, starting cold")
	} else {
		a.registry.Seed(bindings)
		log.Info().Int("assets", len(bindings)).Msg("binding snapshot loaded, registry seeded ahead of live asset events")
	}

	if err := a.initBus(); err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	defer a.closeBus()

	a.eng = engine.New(a.rules, a.registry, a.cache, a.alertProducer, a.republishProducer, &chanDispatcher{jobs: a.jobs}, a.auditLog)

	a.pool = worker.NewPool(worker.Config{Dispatcher: a.dispatcher, Jobs: a.jobs, Workers: 4})
	a.pool.Start()
	defer a.pool.Stop()

	a.startConsumers(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runTicker(ctx)
	}()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("init http server: %w", err)
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		log.Info().Str("addr", a.cfg.MailboxAddr).Msg("starting mailbox HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("mailbox HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	return a.shutdown()
}

// chanDispatcher adapts a channel send to engine.ActionDispatcher,
// decoupling tick-time alert emission from action delivery (spec.md §5
// "Suspension points"): Dispatch never blocks the tick loop — a full
// queue drops the job and is counted, matching the teacher's envelope
// channel's non-blocking send in internal/handlers/ingest.go.
type chanDispatcher struct {
	jobs chan alert.Envelope
}

func (d *chanDispatcher) Dispatch(env alert.Envelope) {
	select {
	case d.jobs <- env:
	default:
		logger.WithComponent("app").Warn().Str("rule", env.RuleName).Msg("action queue full, dropping alert actions")
		metrics.ActionsDispatchedTotal.WithLabelValues("queue", "failed").Inc()
	}
}

func (a *App) initBus() error {
	brokers := a.cfg.Brokers()

	alertProducer, err := bus.NewAlertProducer(brokers, bus.ProducerConfig{})
	if err != nil {
		return fmt.Errorf("alert producer: %w", err)
	}
	a.alertProducer = alertProducer

	republishProducer, err := bus.NewRepublishProducer(brokers, republishAddress)
	if err != nil {
		return fmt.Errorf("republish producer: %w", err)
	}
	a.republishProducer = republishProducer

	assetsTopicName := firstNonEmpty(a.cfg.AssetsPattern, assetsTopic)
	metricsTopicName := firstNonEmpty(a.cfg.MetricsPattern, metricsTopic)

	a.consumers = []*bus.Consumer{
		bus.NewConsumer(brokers, assetsTopicName, consumerGroup),
		bus.NewConsumer(brokers, metricsTopicName, consumerGroup),
		bus.NewConsumer(brokers, sensorMetricTopic, consumerGroup),
		bus.NewConsumer(brokers, licensingTopic, consumerGroup),
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (a *App) closeBus() {
	log := logger.WithComponent("app")
	if a.alertProducer != nil {
		if err := a.alertProducer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close alert producer")
		}
	}
	if a.republishProducer != nil {
		if err := a.republishProducer.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close republish producer")
		}
	}
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close bus consumer")
		}
	}
}

// startConsumers launches one goroutine per stream (§4.F Task I).
func (a *App) startConsumers(ctx context.Context) {
	handlers := []bus.Handler{a.handleAssetMessage, a.handleMetricMessage, a.handleSensorMetricMessage, a.handleMetricMessage}
	for i, c := range a.consumers {
		c, handle := c, handlers[i]
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := c.Run(ctx, handle); err != nil {
				logger.WithComponent("app").Error().Err(err).Msg("bus consumer exited with error")
			}
		}()
	}
}

func (a *App) handleAssetMessage(ctx context.Context, msg bus.Message) error {
	ev, err := wire.DecodeAsset(msg.Value)
	if err != nil {
		return err
	}
	a.eng.HandleAsset(ev)
	return nil
}

func (a *App) handleMetricMessage(ctx context.Context, msg bus.Message) error {
	m, err := wire.DecodeMetric(msg.Value)
	if err != nil {
		return err
	}
	a.eng.UpsertMetric(m.Quantity, m.Asset, m.Value, time.Now(), m.TTL)
	return nil
}

func (a *App) handleSensorMetricMessage(ctx context.Context, msg bus.Message) error {
	ev, err := wire.DecodeSensorMetric(msg.Value)
	if err != nil {
		return err
	}
	ev.Timestamp = time.Now()
	a.eng.HandleSensorMetric(ctx, ev)
	return nil
}

func (a *App) runTicker(ctx context.Context) {
	interval := time.Duration(a.cfg.PollingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.eng.Tick(ctx)
		}
	}
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	mb := mailbox.New(a.eng, a.requestRepublish)
	mux.Handle("/mailbox/rules/list2", middleware.Chain(http.HandlerFunc(mb.List2Rules), middleware.Recovery, middleware.Logging))
	mux.Handle("/mailbox/rules/", middleware.Chain(http.HandlerFunc(a.routeRuleByName(mb)), middleware.Recovery, middleware.Logging))
	mux.Handle("/mailbox/rules", middleware.Chain(http.HandlerFunc(a.routeRulesCollection(mb)), middleware.Recovery, middleware.Logging))

	mux.HandleFunc("/health", a.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpServer = &http.Server{
		Addr:         a.cfg.MailboxAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return nil
}

// requestRepublish satisfies mailbox.New's republish callback. It
// writes the bus request synchronously with a 5s timeout; the mailbox
// invokes it from its own goroutine, so the reply does not block on it
// (§4.G "Post-ADD effect").
func (a *App) requestRepublish(inames []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.republishProducer.Republish(ctx, inames); err != nil {
		logger.WithComponent("app").Warn().Err(err).Strs("assets", inames).Msg("failed to request republish after ADD")
	}
}

func (a *App) routeRulesCollection(mb *mailbox.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			mb.ListRules(w, r)
		case http.MethodPost:
			mb.AddRule(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *App) routeRuleByName(mb *mailbox.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			mb.GetRule(w, r)
		case http.MethodDelete:
			mb.DeleteRule(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","rules_loaded":%d,"assets_tracked":%d}`, a.rules.Len(), len(a.registry.Assets()))
}

func (a *App) shutdown() error {
	log := logger.WithComponent("app")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	bindings := make(map[string][]string)
	for _, iname := range a.registry.Assets() {
		bindings[iname] = a.registry.Binding(iname)
	}
	if err := a.snapStore.Save(bindings); err != nil {
		log.Error().Err(err).Msg("failed to save binding snapshot")
	}
	if err := a.snapStore.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close snapshot store")
	}

	if err := a.auditLog.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close audit log")
	}

	a.wg.Wait()
	log.Info().Msg("flexalert stopped gracefully")
	return nil
}
