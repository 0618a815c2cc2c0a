// Package registry holds the asset inventory and the asset->rule
// binding index (spec.md §3, §4.D).
package registry

import (
	"sort"
	"sync"

	"flexalert/internal/metrics"
	"flexalert/internal/rule"
)

// Registry owns Asset records and the binding index. It is safe for
// concurrent use, though the engine (internal/engine) is expected to be
// the registry's single owner and serialize access itself (§5).
type Registry struct {
	mu          sync.Mutex
	assets      map[string]Asset
	binding     map[string][]string // asset iname -> ordered rule names
	knownBefore map[string]bool     // iname ever seen, even if later purged
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		assets:      make(map[string]Asset),
		binding:     make(map[string][]string),
		knownBefore: make(map[string]bool),
	}
}

// Announce processes an asset event per §4.D. rules is a snapshot of
// every rule currently in the store, used to rebuild the binding set.
// It returns the rule names that must be cascade-deleted as a result
// (non-active status or delete operation).
func (r *Registry) Announce(ev Event, rules []*rule.Rule) (cascadeDelete []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.IsAnnouncement() && ev.IsActive() {
		r.announceActive(ev, rules)
		return nil
	}

	return r.purgeLocked(ev.Iname, rules)
}

func (r *Registry) announceActive(ev Event, rules []*rule.Rule) {
	asset, existed := r.assets[ev.Iname]
	if !existed {
		asset = Asset{Iname: ev.Iname}
	}
	asset.Status = ev.Status
	asset.Type = ev.Type
	asset.Subtype = ev.Subtype
	asset.Model = ev.Model
	if groups := ev.groups(); groups != nil {
		asset.Groups = groups
	}
	if name := ev.displayName(); name != "" {
		asset.DisplayName = name
	}

	// Parent-chain update policy (§4.D): overwrite only if the asset was
	// previously unknown, or the event carries any aux attributes at all
	// (inventory messages may carry only ext attrs with an empty chain;
	// overwriting with that would corrupt location filters otherwise).
	if !r.knownBefore[ev.Iname] || ev.hasAnyAux() {
		asset.ParentChain = ev.parentChain()
	}

	bound := bindingFor(asset, rules)
	if len(bound) == 0 {
		delete(r.assets, ev.Iname)
		delete(r.binding, ev.Iname)
	} else {
		r.assets[ev.Iname] = asset
		r.binding[ev.Iname] = bound
	}
	r.knownBefore[ev.Iname] = true

	metrics.AssetsTracked.Set(float64(len(r.assets)))
}

// purgeLocked removes iname from every index and returns the names of
// rules whose declared asset (the "@asset-iname" suffix of the rule
// name) is iname — the caller is responsible for actually deleting
// those rules from the store (§4.D, §4.E).
func (r *Registry) purgeLocked(iname string, rules []*rule.Rule) []string {
	delete(r.assets, iname)
	delete(r.binding, iname)
	metrics.AssetsTracked.Set(float64(len(r.assets)))

	var cascade []string
	for _, rl := range rules {
		if rl.Asset() == iname {
			cascade = append(cascade, rl.Name)
		}
	}
	return cascade
}

// Rebind recomputes binding[iname] from scratch against rules. It is
// used after a rule add/delete/replace so bindings reflect the new
// rule set without waiting for the next asset announcement, and by the
// property tests that assert rebuild idempotency.
func (r *Registry) Rebind(iname string, rules []*rule.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, ok := r.assets[iname]
	if !ok {
		return
	}
	bound := bindingFor(asset, rules)
	if len(bound) == 0 {
		delete(r.assets, iname)
		delete(r.binding, iname)
		metrics.AssetsTracked.Set(float64(len(r.assets)))
		return
	}
	r.binding[iname] = bound
}

// Seed installs a previously persisted binding index (internal/snapshot)
// so Tick can start evaluating already-bound (rule, asset) pairs before
// the first post-restart asset re-announcement arrives, rather than
// waiting out a full re-announcement storm. Seeded assets carry no
// metadata beyond their iname; existing assets are left untouched, and
// each seeded asset's first live announcement overwrites it in full,
// taking the "previously unknown" branch of the parent-chain update
// policy since knownBefore is not set here.
func (r *Registry) Seed(bindings map[string][]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for iname, names := range bindings {
		if len(names) == 0 {
			continue
		}
		if _, exists := r.assets[iname]; exists {
			continue
		}
		r.assets[iname] = Asset{Iname: iname}
		bound := make([]string, len(names))
		copy(bound, names)
		r.binding[iname] = bound
	}
	metrics.AssetsTracked.Set(float64(len(r.assets)))
}

// Binding returns the ordered rule names bound to asset, or nil if the
// asset is untracked.
func (r *Registry) Binding(iname string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.binding[iname]
	out := make([]string, len(b))
	copy(out, b)
	return out
}

// Asset returns the tracked asset record, if any.
func (r *Registry) Asset(iname string) (Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[iname]
	return a, ok
}

// Assets returns a snapshot of every tracked asset iname.
func (r *Registry) Assets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.assets))
	for iname := range r.assets {
		out = append(out, iname)
	}
	sort.Strings(out)
	return out
}

// AssetsForRule returns every tracked asset iname currently bound to
// ruleName — used by the engine's tick to pick the assets each rule is
// evaluated against (§4.F).
func (r *Registry) AssetsForRule(ruleName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for iname, names := range r.binding {
		for _, n := range names {
			if n == ruleName {
				out = append(out, iname)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// bindingFor computes the ordered set of rule names bound to asset by
// scanning the full rule set and applying isRuleForThisAsset. Rule
// names are returned sorted for determinism; re-running this against
// the same inputs always yields the same set (§8 testable property).
func bindingFor(asset Asset, rules []*rule.Rule) []string {
	var names []string
	for _, rl := range rules {
		if isRuleForThisAsset(rl, asset) {
			names = append(names, rl.Name)
		}
	}
	sort.Strings(names)
	return names
}

// isRuleForThisAsset implements the §4.D predicate: evaluated in order,
// first match wins, short-circuits true.
func isRuleForThisAsset(rl *rule.Rule, asset Asset) bool {
	if asset.Subtype == "sensorgpio" {
		return rl.HasAsset(asset.Iname) && rl.HasModel(asset.Model)
	}
	if rl.HasAsset(asset.Iname) {
		return true
	}
	for _, g := range asset.Groups {
		if rl.HasGroup(g) {
			return true
		}
	}
	if rl.HasModel(asset.Model) {
		return true
	}
	if rl.HasType(asset.Type) || rl.HasType(asset.Subtype) {
		return true
	}
	return false
}
