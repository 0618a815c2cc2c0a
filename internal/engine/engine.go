// Package engine is the alarm engine loop (spec.md §4.F): it owns the
// rule store, metric cache, and asset registry behind a single lock
// (§5 "Scheduling model" — cooperative single-owner, no nested
// locking), and drives both the bus-reader task's event handlers and
// the periodic ticker's evaluation sweep.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"flexalert/internal/alert"
	"flexalert/internal/audit"
	"flexalert/internal/cache"
	"flexalert/internal/logger"
	"flexalert/internal/metrics"
	"flexalert/internal/registry"
	"flexalert/internal/rule"
	"flexalert/internal/rulestore"
	"flexalert/internal/script"
)

// AlertPublisher publishes an alert envelope to the bus.
type AlertPublisher interface {
	Publish(ctx context.Context, env alert.Envelope) error
}

// Republisher requests the external asset service re-announce assets.
type Republisher interface {
	Republish(ctx context.Context, inames []string) error
}

// ActionDispatcher hands off an emitted alert's actions for delivery,
// decoupled from the tick loop (internal/app's chanDispatcher implements
// this by queuing onto the channel internal/worker.Pool drains).
type ActionDispatcher interface {
	Dispatch(env alert.Envelope)
}

// Engine is the single owner of engine state (§5). Every public method
// except the Rules and Registry accessors takes the internal lock; none
// call another locking method of the Engine while holding it.
type Engine struct {
	mu sync.Mutex

	rules    *rulestore.Store
	registry *registry.Registry
	cache    *cache.Cache
	evalCtx  map[string]*script.Evaluator

	publisher  AlertPublisher
	republish  Republisher
	dispatcher ActionDispatcher
	auditLog   audit.Aggregator
}

// New returns an Engine over the given collaborators. publisher,
// republish, dispatcher and auditLog may be nil in tests that only
// exercise state transitions.
func New(rules *rulestore.Store, reg *registry.Registry, c *cache.Cache, publisher AlertPublisher, republish Republisher, dispatcher ActionDispatcher, auditLog audit.Aggregator) *Engine {
	return &Engine{
		rules:      rules,
		registry:   reg,
		cache:      c,
		evalCtx:    make(map[string]*script.Evaluator),
		publisher:  publisher,
		republish:  republish,
		dispatcher: dispatcher,
		auditLog:   auditLog,
	}
}

// HandleAsset processes one asset announcement/deletion (§4.D), then
// cascade-deletes any rule whose declared asset matches, dropping the
// now-stale evaluator for each.
func (e *Engine) HandleAsset(ev registry.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cascade := e.registry.Announce(ev, e.rules.All())
	for _, name := range cascade {
		if err := e.rules.Delete(name); err != nil {
			log := logger.WithComponent("engine")
			log.Error().Err(err).Str("rule", name).
				Msg("failed to cascade-delete rule after asset removal")
			continue
		}
		e.dropEvaluatorLocked(name)
	}
}

// UpsertMetric applies the cache upsert policy (§4.C): the sample is
// only written if some rule bound to asset declares quantity, else
// dropped silently.
func (e *Engine) UpsertMetric(quantity, assetIname, value string, ts time.Time, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.upsertMetricLocked(quantity, assetIname, value, ts, ttl)
}

func (e *Engine) upsertMetricLocked(quantity, assetIname, value string, ts time.Time, ttl time.Duration) {
	for _, ruleName := range e.registry.Binding(assetIname) {
		r, ok := e.rules.Get(ruleName)
		if ok && r.HasMetric(quantity) {
			e.cache.Upsert(cache.Sample{Asset: assetIname, Quantity: quantity, Value: value, Timestamp: ts, TTL: ttl})
			return
		}
	}
}

// SensorMetricEvent is a frame off the sensor-metrics stream (§4.F).
type SensorMetricEvent struct {
	Quantity  string
	Asset     string // the publishing sensor interface's iname
	Value     string
	Timestamp time.Time
	TTL       time.Duration
	Port      string // aux "port"
	ExtPort   bool   // aux "ext-port" present
	SName     string // aux "sname" - the sensor's own iname
}

// isGPI reports whether ev is recognized on the sensor-metrics stream:
// aux port containing "GPI", or ext-port present (§4.F).
func (ev SensorMetricEvent) isGPI() bool {
	return ev.ExtPort || containsGPI(ev.Port)
}

func containsGPI(port string) bool {
	for i := 0; i+3 <= len(port); i++ {
		if port[i:i+3] == "GPI" {
			return true
		}
	}
	return false
}

// HandleSensorMetric implements §4.F's sensor-metrics stream handling:
// only GPI-recognized samples are cached, under the truncated quantity
// and the sensor's own iname; if that sensor is not in the binding
// index, a republish is requested (non-blocking).
func (e *Engine) HandleSensorMetric(ctx context.Context, ev SensorMetricEvent) {
	if !ev.isGPI() {
		return
	}

	e.mu.Lock()
	quantity := cache.TruncatePortQuantity(ev.Quantity)
	sname := ev.SName
	bound := len(e.registry.Binding(sname)) > 0
	e.upsertMetricLocked(quantity, sname, ev.Value, ev.Timestamp, ev.TTL)
	e.mu.Unlock()

	if !bound && e.republish != nil {
		go func() {
			if err := e.republish.Republish(ctx, []string{sname}); err != nil {
				log := logger.WithComponent("engine")
				log.Warn().Err(err).Str("asset", sname).
					Msg("failed to request republish for unbound sensor")
			}
		}()
	}
}

func (e *Engine) dropEvaluatorLocked(ruleName string) {
	if ev, ok := e.evalCtx[ruleName]; ok {
		ev.Close()
		delete(e.evalCtx, ruleName)
	}
}

// evaluatorLocked returns the (lazily compiled) evaluator for r,
// creating one if none is cached under r.Name (InvalidateRule drops the
// cached one when a rule is replaced). Must be called with e.mu held.
func (e *Engine) evaluatorLocked(r *rule.Rule) *script.Evaluator {
	ev, ok := e.evalCtx[r.Name]
	if ok {
		return ev
	}
	ev = script.New(r.Evaluation, r.Metrics, r.Variables)
	e.evalCtx[r.Name] = ev
	return ev
}

// InvalidateRule drops the cached evaluator for ruleName so the next
// tick recompiles from the current (replaced) rule source. Called by
// the mailbox after ADD replaces an existing rule.
func (e *Engine) InvalidateRule(ruleName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropEvaluatorLocked(ruleName)
}

// tickResult is one rule/asset evaluation outcome, used internally to
// separate the locked computation phase from unlocked publish/dispatch
// I/O (§5 "Suspension points" — no blocking I/O while holding the
// state lock is required, but we additionally choose not to hold it
// across outbound sends).
type tickResult struct {
	env     alert.Envelope
	outcome audit.Outcome
	rule    string
	asset   string
	detail  string
}

// Tick runs one evaluation sweep (§4.F Task II, steps 3-4): sweep
// expired samples, then for every rule, for every asset bound to it,
// evaluate if all declared metrics are present.
func (e *Engine) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	results := e.runTickLocked(start)

	for _, r := range results {
		audit.Log(e.auditLog, audit.Record{Time: start, Rule: r.rule, Asset: r.asset, Outcome: r.outcome, Detail: r.detail})
		if r.outcome != audit.OutcomeOK {
			continue
		}
		if e.publisher != nil {
			if err := e.publisher.Publish(ctx, r.env); err != nil {
				log := logger.WithComponent("engine")
				log.Error().Err(err).Str("rule", r.rule).Msg("failed to publish alert")
			}
		}
		if e.dispatcher != nil {
			e.dispatcher.Dispatch(r.env)
		}
	}
}

func (e *Engine) runTickLocked(now time.Time) []tickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cache.Sweep(now)

	var results []tickResult
	for _, r := range e.rules.All() {
		for _, assetIname := range e.registry.AssetsForRule(r.Name) {
			results = append(results, e.evaluateOneLocked(r, assetIname))
		}
	}
	return results
}

func (e *Engine) evaluateOneLocked(r *rule.Rule, assetIname string) tickResult {
	values := make([]string, len(r.Metrics))
	var minTTL time.Duration
	for i, q := range r.Metrics {
		sample, ok := e.cache.Get(q, assetIname)
		if !ok {
			metrics.RulesEvaluatedTotal.WithLabelValues("unknown").Inc()
			return tickResult{rule: r.Name, asset: assetIname, outcome: audit.OutcomeUnknown, detail: "missing metric " + q}
		}
		values[i] = sample.Value
		if i == 0 || sample.TTL < minTTL {
			minTTL = sample.TTL
		}
	}

	displayName := assetIname
	if a, ok := e.registry.Asset(assetIname); ok && a.DisplayName != "" {
		displayName = a.DisplayName
	}

	evalr := e.evaluatorLocked(r)
	msg, code, err := evalr.Eval(assetIname, displayName, values)
	if err != nil {
		metrics.RulesEvaluatedTotal.WithLabelValues("error").Inc()
		return tickResult{rule: r.Name, asset: assetIname, outcome: audit.OutcomeError, detail: err.Error()}
	}

	metrics.RulesEvaluatedTotal.WithLabelValues("ok").Inc()
	severity := alert.SeverityForCode(code)
	state := alert.StateForCode(code)
	metrics.AlertsEmittedTotal.WithLabelValues(string(severity), string(state)).Inc()

	env := alert.Envelope{
		RuleName: r.Name,
		Asset:    r.EffectiveAsset(assetIname),
		State:    state,
		Severity: severity,
		Message:  msg,
		TTL:      ceilDiv(int(minTTL/time.Second)*5, 2),
		Actions:  r.ActionsFor(code),
	}
	return tickResult{env: env, rule: r.Name, asset: assetIname, outcome: audit.OutcomeOK}
}

// ceilDiv computes ceil(a/b) for non-negative a, positive b.
func ceilDiv(a, b int) int {
	return int(math.Ceil(float64(a) / float64(b)))
}

// Rules exposes the underlying store for the mailbox handlers
// (internal/mailbox), which need direct ADD/DELETE/GET/LIST access
// alongside the engine's registry-rebind side effects.
func (e *Engine) Rules() *rulestore.Store { return e.rules }

// Registry exposes the underlying asset registry for the mailbox's
// LIST2 "in" location filter (§4.G).
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Rebind recomputes bindings for every known asset against the current
// rule set, and drops any evaluator for a rule no longer present.
// Called by the mailbox after ADD/DELETE so ticks reflect the new rule
// set without waiting on the next asset announcement.
func (e *Engine) Rebind() {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.rules.All()
	for _, iname := range e.registry.Assets() {
		e.registry.Rebind(iname, rules)
	}
	for name := range e.evalCtx {
		if _, ok := e.rules.Get(name); !ok {
			e.dropEvaluatorLocked(name)
		}
	}
}
