// Package audit persists per-tick rule evaluation outcomes (spec.md
// §4.F, §7, "Audit log format" in SPEC_FULL.md). It is adapted from the
// teacher's internal/storage.Aggregator interface: the same
// Persist/Close boundary, now carrying a typed Record instead of an
// opaque byte payload, backed by an append-only file rather than a
// wire-protocol SQL client (no pack example wires a real ClickHouse or
// Postgres driver behind that interface — see DESIGN.md).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"flexalert/internal/logger"
)

// Outcome is the short code recorded for one rule/tick pairing.
type Outcome string

const (
	OutcomeOK      Outcome = "OK"
	OutcomeUnknown Outcome = "UNKNOWN"
	OutcomeError   Outcome = "ERROR"
)

// Record is one audited tick outcome for a single rule.
type Record struct {
	Time    time.Time `json:"time"`
	Rule    string    `json:"rule"`
	Asset   string    `json:"asset"`
	Outcome Outcome   `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Aggregator persists audit records and is closed on shutdown. Kept as
// the teacher's internal/storage.Aggregator interface shape so a real
// ClickHouse/Postgres backend can be dropped in without touching
// internal/engine.
type Aggregator interface {
	Persist(rec Record) error
	Close() error
}

// FileAggregator appends one JSON line per record to a file. It is the
// stand-in backend wired by internal/app; see DESIGN.md for why a real
// SQL client is not invented here.
type FileAggregator struct {
	mu   sync.Mutex
	file *os.File
}

// Open appends to (creating if necessary) the audit log at path.
func Open(path string) (*FileAggregator, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAggregator{file: f}, nil
}

func (a *FileAggregator) Persist(rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	doc = append(doc, '\n')
	if _, err := a.file.Write(doc); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (a *FileAggregator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// Log records the outcome through agg (if non-nil) and always emits a
// structured log line, matching the original agent's audit_log.h
// behavior of one line per tick outcome per rule.
func Log(agg Aggregator, rec Record) {
	log := logger.WithComponent("audit")
	ev := log.Info()
	if rec.Outcome == OutcomeError {
		ev = log.Warn()
	}
	ev.Str("rule", rec.Rule).Str("asset", rec.Asset).Str("outcome", string(rec.Outcome)).
		Str("detail", rec.Detail).Msg("tick outcome")

	if agg == nil {
		return
	}
	if err := agg.Persist(rec); err != nil {
		log.Error().Err(err).Str("rule", rec.Rule).Msg("failed to persist audit record")
	}
}
