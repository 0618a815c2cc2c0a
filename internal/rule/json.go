package rule

import (
	"encoding/json"
	"fmt"
	"sort"

	"flexalert/internal/logger"
)

// wireRule is the on-disk / on-wire shape described in SPEC_FULL.md and
// spec.md §6. All fields are optional except name and evaluation for an
// executable rule — ParseJSON itself does not enforce that; callers that
// need an executable rule check Name/Evaluation explicitly.
type wireRule struct {
	Name         string                     `json:"name"`
	Description  string                     `json:"description"`
	LogicalAsset string                     `json:"logical_asset"`
	Metrics      []string                   `json:"metrics"`
	Assets       []string                   `json:"assets"`
	Groups       []string                   `json:"groups"`
	Models       []string                   `json:"models"`
	Types        []string                   `json:"types"`
	Results      map[string]wireResultEntry `json:"results"`
	Variables    map[string]string          `json:"variables"`
	Evaluation   string                     `json:"evaluation"`
}

type wireResultEntry struct {
	Action []json.RawMessage `json:"action"`
}

type wireAction struct {
	Action string `json:"action"`
	Asset  string `json:"asset,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

type envelope struct {
	Flexible *json.RawMessage `json:"flexible"`
}

// ParseJSON parses a rule from doc, which may be the rule object itself
// or an envelope of the form {"flexible": <rule>} (§4.A).
func ParseJSON(doc []byte) (*Rule, error) {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	body := doc
	if env.Flexible != nil {
		body = *env.Flexible
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var wr wireRule
	for _, field := range []string{"metrics", "assets", "groups", "models", "types"} {
		if msg, ok := raw[field]; ok {
			var probe interface{}
			if err := json.Unmarshal(msg, &probe); err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidJSON, field, err)
			}
			if _, isArray := probe.([]interface{}); !isArray {
				return nil, fmt.Errorf("%w: field %q must be an array", ErrInvalidJSON, field)
			}
		}
	}
	if err := json.Unmarshal(body, &wr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	r := New()
	r.Name = wr.Name
	r.Description = wr.Description
	r.LogicalAsset = wr.LogicalAsset
	r.Metrics = orEmpty(wr.Metrics)
	r.Assets = orEmpty(wr.Assets)
	r.Groups = orEmpty(wr.Groups)
	r.Models = orEmpty(wr.Models)
	r.Types = orEmpty(wr.Types)
	r.Evaluation = wr.Evaluation
	if wr.Variables != nil {
		r.Variables = wr.Variables
	}

	actions := make(map[Bucket][]string, len(wr.Results))
	for bucketName, entry := range wr.Results {
		bucket := Bucket(bucketName)
		if !isValidBucket(bucket) {
			return nil, fmt.Errorf("%w: unknown result bucket %q", ErrInvalidJSON, bucketName)
		}
		list := make([]string, 0, len(entry.Action))
		for _, raw := range entry.Action {
			tag, err := decodeAction(raw)
			if err != nil {
				return nil, err
			}
			list = append(list, tag)
		}
		actions[bucket] = list
	}
	r.ResultActions = actions

	return r, nil
}

// decodeAction accepts both a plain legacy tag string and a structured
// {"action":"EMAIL"} / {"action":"GPO_INTERACTION","asset":A,"mode":M}
// object, collapsing GPO_INTERACTION to "GPO_INTERACTION:<asset>:<mode>".
func decodeAction(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var wa wireAction
	if err := json.Unmarshal(raw, &wa); err != nil {
		return "", fmt.Errorf("%w: invalid action entry: %v", ErrInvalidJSON, err)
	}
	if wa.Action == "" {
		return "", fmt.Errorf("%w: action entry missing \"action\"", ErrInvalidJSON)
	}
	if wa.Action == "GPO_INTERACTION" {
		return fmt.Sprintf("GPO_INTERACTION:%s:%s", wa.Asset, wa.Mode), nil
	}
	return wa.Action, nil
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// Serialize is the inverse of ParseJSON: round-trip stable at the
// semantic level (key order is not part of the contract; values, list
// orderings, and action expansions are). Structured action objects are
// always emitted, upgrading any legacy input.
func (r *Rule) Serialize() ([]byte, error) {
	wr := wireRule{
		Name:         r.Name,
		Description:  r.Description,
		LogicalAsset: r.LogicalAsset,
		Metrics:      orEmpty(r.Metrics),
		Assets:       orEmpty(r.Assets),
		Groups:       orEmpty(r.Groups),
		Models:       orEmpty(r.Models),
		Types:        orEmpty(r.Types),
		Variables:    r.Variables,
		Evaluation:   r.Evaluation,
	}
	if wr.Variables == nil {
		wr.Variables = map[string]string{}
	}

	results := make(map[string]wireResultEntry, len(r.ResultActions))
	bucketNames := make([]string, 0, len(r.ResultActions))
	for b := range r.ResultActions {
		bucketNames = append(bucketNames, string(b))
	}
	sort.Strings(bucketNames)
	for _, bn := range bucketNames {
		bucket := Bucket(bn)
		tags := r.ResultActions[bucket]
		entries := make([]json.RawMessage, 0, len(tags))
		for _, tag := range tags {
			raw, err := encodeAction(tag)
			if err != nil {
				return nil, err
			}
			entries = append(entries, raw)
		}
		results[bn] = wireResultEntry{Action: entries}
	}
	wr.Results = results

	return json.Marshal(wr)
}

func encodeAction(tag string) (json.RawMessage, error) {
	asset, mode, isGPO := splitGPOInteraction(tag)
	if isGPO {
		return json.Marshal(wireAction{Action: "GPO_INTERACTION", Asset: asset, Mode: mode})
	}
	if !isKnownSimpleAction(tag) {
		logger.Logger.Warn().Str("action", tag).Msg("rule serializes unknown action tag")
	}
	return json.Marshal(wireAction{Action: tag})
}

func isKnownSimpleAction(tag string) bool {
	switch tag {
	case "EMAIL", "SMS", "AUTOMATION":
		return true
	default:
		return false
	}
}

// splitGPOInteraction parses "GPO_INTERACTION:<asset>:<mode>" back into
// its parts. The asset ends at the first ":" after the prefix; the mode
// is everything after it and may itself contain ":". A tag with no
// second ":" yields the whole remainder as asset and an empty mode.
func splitGPOInteraction(tag string) (asset, mode string, ok bool) {
	const prefix = "GPO_INTERACTION:"
	if len(tag) <= len(prefix) || tag[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := tag[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:], true
		}
	}
	return rest, "", true
}
