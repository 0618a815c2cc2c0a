package mailbox

import (
	"strings"

	"flexalert/internal/registry"
	"flexalert/internal/rule"
)

// assetTypes and deviceSubtypes are the closed enums referenced by
// LIST2's asset_type/asset_sub_type filters (§4.G). "device" is not a
// real asset type — it is the alias meaning "any known device
// sub-type" (§4.G "asset_type... special alias").
var assetTypes = map[string]bool{
	"datacenter": true, "room": true, "row": true, "rack": true,
	"device": true, "group": true, "client": true,
}

var deviceSubtypes = map[string]bool{
	"ups": true, "epdu": true, "pdu": true, "server": true, "genset": true,
	"sts": true, "switch": true, "storage": true, "vm": true, "router": true,
	"sensor": true, "sensorgpio": true, "feed": true, "rackcontroller": true,
}

func isKnownAssetType(t string) bool { return assetTypes[t] }
func isKnownDeviceSubtype(t string) bool { return deviceSubtypes[t] }

// locationPrefixes are the valid prefixes of a LIST2 "in" filter's
// asset iname, before its last "-" (§4.G).
var locationPrefixes = map[string]bool{
	"datacenter": true, "room": true, "row": true, "rack": true,
}

// Filter is the parsed, validated LIST2 request body.
type Filter struct {
	Type          string
	RuleClass     string
	AssetType     string
	AssetSubType  string
	In            string
	Category      string
	categoryTokens []string
}

// Validate checks each non-empty field, returning the matching error
// tag (§4.G errors table) on the first violation found, in
// filter-declaration order. Type, AssetType and AssetSubType are
// checked against their closed sets and In against its location
// prefixes; Category only has to split into at least one non-empty
// token, and its tokens are not checked against the category set.
func (f *Filter) Validate() error {
	if f.Type != "" && f.Type != "all" && f.Type != "flexible" {
		return ErrInvalidType
	}
	if f.AssetType != "" && !isKnownAssetType(f.AssetType) {
		return ErrInvalidAssetType
	}
	if f.AssetSubType != "" && !isKnownDeviceSubtype(f.AssetSubType) {
		return ErrInvalidAssetSubType
	}
	if f.In != "" {
		prefix := f.In
		if idx := strings.LastIndex(f.In, "-"); idx >= 0 {
			prefix = f.In[:idx]
		} else {
			prefix = ""
		}
		if !locationPrefixes[prefix] {
			return ErrInvalidIn
		}
	}
	if f.Category != "" {
		var tokens []string
		for _, tok := range strings.Split(f.Category, ",") {
			if tok != "" {
				tokens = append(tokens, tok)
			}
		}
		if len(tokens) == 0 {
			return ErrInvalidCategory
		}
		f.categoryTokens = tokens
	}
	return nil
}

// Matches reports whether r satisfies the filter, given reg to resolve
// the "in" location predicate against the rule's asset's parent chain.
func (f *Filter) Matches(r *rule.Rule, reg *registry.Registry) bool {
	if f.AssetType != "" {
		assetType := assetTypeFromRuleName(r.Name)
		if f.AssetType == "device" {
			if !isKnownDeviceSubtype(assetType) {
				return false
			}
		} else if f.AssetType != assetType {
			return false
		}
	}

	if f.AssetSubType != "" {
		if assetTypeFromRuleName(r.Name) != f.AssetSubType {
			return false
		}
	}

	if f.In != "" {
		asset := assetFromRuleName(r.Name)
		if !isInLocation(reg, asset, f.In) {
			return false
		}
	}

	if len(f.categoryTokens) > 0 {
		ruleTokens := categoryTokensForRuleName(r.Name)
		found := false
		for _, want := range f.categoryTokens {
			for _, have := range ruleTokens {
				if want == have {
					found = true
					break
				}
			}
		}
		if !found {
			return false
		}
	}

	return true
}

// isInLocation reports whether assetIname's parent chain (or the asset
// itself) contains loc.
func isInLocation(reg *registry.Registry, assetIname, loc string) bool {
	if assetIname == loc {
		return true
	}
	a, ok := reg.Asset(assetIname)
	if !ok {
		return false
	}
	for _, parent := range a.ParentChain {
		if parent == loc {
			return true
		}
	}
	return false
}
