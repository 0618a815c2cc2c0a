// Package mailbox implements the rule-management protocol (§4.G):
// LIST/LIST2/GET/ADD/DELETE, exposed as a small JSON HTTP API rather
// than literal message-bus frames: each handler parses, validates and
// responds, and never blocks the reply on a side effect.
package mailbox

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"flexalert/internal/engine"
	"flexalert/internal/logger"
	"flexalert/internal/metrics"
	"flexalert/internal/rule"
	"flexalert/internal/rulestore"
)

// autoconfigSender is the identity that triggers ADD-merge semantics
// for sensorgpio rules (§4.G "ADD merge semantics").
const autoconfigSender = "fty-autoconfig"

// Handler serves the mailbox HTTP surface over a *engine.Engine.
type Handler struct {
	eng       *engine.Engine
	republish func(inames []string)
}

// New returns a Handler. republish may be nil, in which case the
// post-ADD republish side effect is skipped (used in tests that only
// exercise persistence).
func New(eng *engine.Engine, republish func(inames []string)) *Handler {
	return &Handler{eng: eng, republish: republish}
}

// listResponse is the JSON shape returned by LIST and LIST2: an array
// of rules, each wrapped in the "flexible" envelope the wire format
// uses elsewhere (§4.A). LIST also echoes its type and rule_class.
type listResponse struct {
	Type      string             `json:"type,omitempty"`
	RuleClass string             `json:"rule_class,omitempty"`
	Rules     []flexibleEnvelope `json:"rules"`
}

type flexibleEnvelope struct {
	Flexible json.RawMessage `json:"flexible"`
}

func wrapRule(r *rule.Rule) (flexibleEnvelope, error) {
	data, err := r.Serialize()
	if err != nil {
		return flexibleEnvelope{}, err
	}
	return flexibleEnvelope{Flexible: data}, nil
}

// ListRules implements LIST (§4.G): `type` and `rule_class` are query
// parameters; `rule_class` is accepted and ignored beyond being echoed.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	listType := r.URL.Query().Get("type")
	if listType != "" && listType != "all" && listType != "flexible" {
		h.writeErr(w, http.StatusBadRequest, "LIST", ErrInvalidType)
		return
	}

	var out []flexibleEnvelope
	for _, rl := range h.eng.Rules().All() {
		env, err := wrapRule(rl)
		if err != nil {
			logger.WithComponent("mailbox").Error().Err(err).Str("rule", rl.Name).Msg("failed to serialize rule for LIST")
			continue
		}
		out = append(out, env)
	}
	metrics.MailboxRequestsTotal.WithLabelValues("LIST", "ok").Inc()
	h.writeJSON(w, http.StatusOK, listResponse{Type: listType, RuleClass: r.URL.Query().Get("rule_class"), Rules: out})
}

// list2Request is the JSON filter body for LIST2 (§4.G filter schema).
type list2Request struct {
	Type         string `json:"type"`
	RuleClass    string `json:"rule_class"`
	AssetType    string `json:"asset_type"`
	AssetSubType string `json:"asset_sub_type"`
	In           string `json:"in"`
	Category     string `json:"category"`
}

// List2Rules implements LIST2 (§4.G): a JSON filter body, replying with
// the matching rules.
func (h *Handler) List2Rules(w http.ResponseWriter, r *http.Request) {
	var req list2Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErr(w, http.StatusBadRequest, "LIST2", ErrInvalidInput)
		return
	}

	filter := &Filter{
		Type: req.Type, RuleClass: req.RuleClass, AssetType: req.AssetType,
		AssetSubType: req.AssetSubType, In: req.In, Category: req.Category,
	}
	if err := filter.Validate(); err != nil {
		h.writeErr(w, http.StatusBadRequest, "LIST2", err)
		return
	}

	var out []flexibleEnvelope
	for _, rl := range h.eng.Rules().All() {
		if !filter.Matches(rl, h.eng.Registry()) {
			continue
		}
		env, err := wrapRule(rl)
		if err != nil {
			logger.WithComponent("mailbox").Error().Err(err).Str("rule", rl.Name).Msg("failed to serialize rule for LIST2")
			continue
		}
		out = append(out, env)
	}
	metrics.MailboxRequestsTotal.WithLabelValues("LIST2", "ok").Inc()
	h.writeJSON(w, http.StatusOK, listResponse{Rules: out})
}

// GetRule implements GET (§4.G): name -> OK,<rule-json> or
// ERROR,NOT_FOUND.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	name := ruleNameFromPath(r.URL.Path)
	rl, ok := h.eng.Rules().Get(name)
	if !ok {
		h.writeErr(w, http.StatusNotFound, "GET", ErrNotFound)
		return
	}
	env, err := wrapRule(rl)
	if err != nil {
		h.writeErr(w, http.StatusInternalServerError, "GET", err)
		return
	}
	metrics.MailboxRequestsTotal.WithLabelValues("GET", "ok").Inc()
	h.writeJSON(w, http.StatusOK, env)
}

// addRequest is the ADD body: a rule-json (possibly envelope-wrapped,
// handled by rule.ParseJSON) plus an optional old_name (§4.G).
type addRequest struct {
	OldName string          `json:"old_name"`
	Rule    json.RawMessage `json:"rule"`
}

// AddRule implements ADD (§4.G), including merge-preserve and
// old_name-replace semantics.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	rawBody, oldName, err := parseAddBody(r)
	if err != nil {
		h.writeErr(w, http.StatusBadRequest, "ADD", ErrInvalidJSON)
		return
	}

	newRule, err := rule.ParseJSON(rawBody)
	if err != nil {
		h.writeErr(w, http.StatusBadRequest, "ADD", err)
		return
	}

	sender := r.Header.Get("X-Sender-Identity")
	suppressExists := strings.Contains(newRule.Name, "sensorgpio")

	// Merge-preserve (§4.G, flexible_alert.cc:1032-1036): looked up by the
	// *new* rule's own name, independent of old_name — this is what makes
	// autoconfig's routine re-ADD of the same sensorgpio@asset rule keep the
	// user's configured result_actions instead of wiping them every refresh.
	if existing, ok := h.eng.Rules().Get(newRule.Name); ok {
		if sender == autoconfigSender && strings.Contains(existing.Name, "sensorgpio") {
			mergePreserveActions(newRule, existing)
		}
	}

	if oldName != "" {
		if _, ok := h.eng.Rules().Get(oldName); ok {
			if err := h.eng.Rules().Delete(oldName); err != nil {
				h.writeErr(w, http.StatusInternalServerError, "ADD", err)
				return
			}
		}
	}

	allowReplace := suppressExists
	if err := h.eng.Rules().Add(newRule, allowReplace); err != nil {
		status := http.StatusInternalServerError
		if err == rulestore.ErrAlreadyExists {
			status = http.StatusConflict
		}
		h.writeErr(w, status, "ADD", err)
		return
	}

	h.eng.InvalidateRule(newRule.Name)
	h.eng.Rebind()

	env, err := wrapRule(newRule)
	if err != nil {
		h.writeErr(w, http.StatusInternalServerError, "ADD", err)
		return
	}
	metrics.MailboxRequestsTotal.WithLabelValues("ADD", "ok").Inc()
	h.writeJSON(w, http.StatusOK, env)

	// Post-ADD effect (§4.G): request republish for the assets the new
	// rule lists, asynchronously — the reply above does not block on it.
	if h.republish != nil && len(newRule.Assets) > 0 {
		assets := append([]string(nil), newRule.Assets...)
		go h.republish(assets)
	}
}

// mergePreserveActions unconditionally replaces newRule's result_actions
// with old's (rule_merge, rule.cc:584-593) — autoconfig's rule payload
// never carries user-configured actions, so whatever it sends is
// discarded in favor of what was already there.
func mergePreserveActions(newRule, old *rule.Rule) {
	newRule.ResultActions = old.ResultActions
}

// parseAddBody accepts either the wrapped shape ({"rule":..., "old_name":...})
// or a bare rule document at the top level (§8 scenario 4 posts the rule
// JSON directly with no wrapper).
func parseAddBody(r *http.Request) (ruleDoc json.RawMessage, oldName string, err error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}

	var req addRequest
	if err := json.Unmarshal(raw, &req); err == nil && len(req.Rule) > 0 {
		return req.Rule, req.OldName, nil
	}

	return raw, "", nil
}

// DeleteRule implements DELETE (§4.G).
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	name := ruleNameFromPath(r.URL.Path)
	if err := h.eng.Rules().Delete(name); err != nil {
		status := http.StatusInternalServerError
		if err == rulestore.ErrDoesNotExist {
			status = http.StatusNotFound
		}
		metrics.MailboxRequestsTotal.WithLabelValues("DELETE", "error").Inc()
		h.writeJSON(w, status, deleteResponse{Name: name, Status: "ERROR", Error: err.Error()})
		return
	}
	h.eng.InvalidateRule(name)
	h.eng.Rebind()
	metrics.MailboxRequestsTotal.WithLabelValues("DELETE", "ok").Inc()
	h.writeJSON(w, http.StatusOK, deleteResponse{Name: name, Status: "OK"})
}

type deleteResponse struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func ruleNameFromPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithComponent("mailbox").Error().Err(err).Msg("failed to encode mailbox response")
	}
}

func (h *Handler) writeErr(w http.ResponseWriter, status int, verb string, err error) {
	metrics.MailboxRequestsTotal.WithLabelValues(verb, "error").Inc()
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type errorResponse struct {
	Error string `json:"error"`
}
