// Package rule models a flexible alert rule: its predicates (which
// assets/groups/models/types it applies to), its result-bucket action
// map, and the script source evaluated against fresh metric values.
//
// A Rule is immutable once loaded — edits replace it wholesale in the
// store (internal/rulestore), never mutate it in place.
package rule

import (
	"fmt"
)

// Bucket is one of the five severity slots a rule's actions are keyed by.
type Bucket string

const (
	BucketOK           Bucket = "ok"
	BucketLowWarning   Bucket = "low_warning"
	BucketLowCritical  Bucket = "low_critical"
	BucketHighWarning  Bucket = "high_warning"
	BucketHighCritical Bucket = "high_critical"
)

// buckets lists the fixed, ordered set of valid result buckets.
var buckets = []Bucket{BucketLowCritical, BucketLowWarning, BucketOK, BucketHighWarning, BucketHighCritical}

func isValidBucket(b Bucket) bool {
	for _, v := range buckets {
		if v == b {
			return true
		}
	}
	return false
}

// BucketForResult maps an evaluator result code to its bucket (§4.A).
func BucketForResult(code int) (Bucket, bool) {
	switch code {
	case -2:
		return BucketLowCritical, true
	case -1:
		return BucketLowWarning, true
	case 0:
		return BucketOK, true
	case 1:
		return BucketHighWarning, true
	case 2:
		return BucketHighCritical, true
	default:
		return "", false
	}
}

// Rule is a declarative filter bound to a script evaluator.
type Rule struct {
	Name         string
	Description  string
	LogicalAsset string

	// Predicate lists. Order is preserved for Metrics (it is the script's
	// parameter order) and, for round-trip fidelity, for the others too.
	Metrics []string
	Assets  []string
	Groups  []string
	Models  []string
	Types   []string

	// ResultActions maps a bucket to its ordered action list. Actions are
	// either a plain tag ("EMAIL", "SMS", "AUTOMATION") or a flattened
	// "GPO_INTERACTION:<asset>:<mode>" string.
	ResultActions map[Bucket][]string

	Variables map[string]string

	Evaluation string
}

// New returns an empty Rule with its maps initialized.
func New() *Rule {
	return &Rule{
		ResultActions: make(map[Bucket][]string),
		Variables:     make(map[string]string),
	}
}

// HasAsset reports whether iname is in the rule's asset predicate list.
func (r *Rule) HasAsset(iname string) bool { return contains(r.Assets, iname) }

// HasGroup reports whether name is in the rule's group predicate list.
func (r *Rule) HasGroup(name string) bool { return contains(r.Groups, name) }

// HasMetric reports whether quantity is required by this rule.
func (r *Rule) HasMetric(quantity string) bool { return contains(r.Metrics, quantity) }

// HasModel reports whether model is in the rule's model predicate list.
func (r *Rule) HasModel(model string) bool { return contains(r.Models, model) }

// HasType reports whether t is in the rule's type predicate list.
func (r *Rule) HasType(t string) bool { return contains(r.Types, t) }

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

// ActionsFor maps an evaluator result code to its action list (§4.A).
// For a valid code the returned slice is never nil, but may be empty;
// a code outside -2..2 returns nil.
func (r *Rule) ActionsFor(code int) []string {
	bucket, ok := BucketForResult(code)
	if !ok {
		return nil
	}
	actions := r.ResultActions[bucket]
	if actions == nil {
		return []string{}
	}
	return actions
}

// EffectiveAsset returns the asset an alert should be attributed to:
// LogicalAsset when the rule sets a non-empty one, else evaluatedAsset.
// An empty LogicalAsset is treated as unset (original_source/rule.cc
// rule_logical_asset behavior — see SPEC_FULL.md supplemented feature 1).
func (r *Rule) EffectiveAsset(evaluatedAsset string) string {
	if r.LogicalAsset != "" {
		return r.LogicalAsset
	}
	return evaluatedAsset
}

// Asset returns the asset iname suffix of the rule's name
// ("prefix@asset-iname" by convention), or "" if the name carries no
// "@" (original_source/rule.cc rule_asset assumes one is present; we
// degrade to an empty asset rather than panic — SPEC_FULL.md item 2).
func (r *Rule) Asset() string {
	for i := len(r.Name) - 1; i >= 0; i-- {
		if r.Name[i] == '@' {
			return r.Name[i+1:]
		}
	}
	return ""
}

// Prefix returns the portion of the rule's name before the last "@".
func (r *Rule) Prefix() string {
	for i := len(r.Name) - 1; i >= 0; i-- {
		if r.Name[i] == '@' {
			return r.Name[:i]
		}
	}
	return r.Name
}

// SetResultActions validates bucket keys and installs the action map,
// failing fast on an invalid bucket name. ParseJSON performs the same
// bucket check itself and does not call this.
func (r *Rule) SetResultActions(actions map[Bucket][]string) error {
	for b := range actions {
		if !isValidBucket(b) {
			return fmt.Errorf("%w: unknown result bucket %q", ErrInvalidJSON, b)
		}
	}
	r.ResultActions = actions
	return nil
}
