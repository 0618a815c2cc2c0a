package registry

import (
	"testing"

	"flexalert/internal/rule"
)

func ruleWithAssets(name string, assets ...string) *rule.Rule {
	r := rule.New()
	r.Name = name
	r.Assets = assets
	return r
}

func TestAnnounceBuildsBinding(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1234", "ups-1234")}

	reg.Announce(Event{
		Operation: "update",
		Iname:     "ups-1234",
		Status:    "active",
		Ext:       map[string]string{"name": "my_ups"},
	}, rules)

	got := reg.Binding("ups-1234")
	if len(got) != 1 || got[0] != "load@ups-1234" {
		t.Fatalf("Binding() = %v, want [load@ups-1234]", got)
	}
	asset, ok := reg.Asset("ups-1234")
	if !ok || asset.DisplayName != "my_ups" {
		t.Fatalf("Asset() = %+v, ok=%v", asset, ok)
	}
}

func TestAnnounceWithNoBindingRemovesAsset(t *testing.T) {
	reg := New()
	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active"}, nil)

	if _, ok := reg.Asset("ups-1"); ok {
		t.Error("asset with no matching rule should not be tracked")
	}
}

func TestDeleteCascadesRulesByAsset(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1234", "ups-1234")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1234", Status: "active"}, rules)

	cascade := reg.Announce(Event{Operation: "delete", Iname: "ups-1234"}, rules)
	if len(cascade) != 1 || cascade[0] != "load@ups-1234" {
		t.Fatalf("cascade = %v, want [load@ups-1234]", cascade)
	}
	if _, ok := reg.Asset("ups-1234"); ok {
		t.Error("asset should be purged after delete")
	}
}

func TestNonActiveStatusCascades(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1234", "ups-1234")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1234", Status: "active"}, rules)

	cascade := reg.Announce(Event{Operation: "update", Iname: "ups-1234", Status: "retired"}, rules)
	if len(cascade) != 1 {
		t.Fatalf("cascade = %v, want 1 entry", cascade)
	}
}

func TestMultiAssetRulePreservedOnSingleAssetDelete(t *testing.T) {
	reg := New()
	r := rule.New()
	r.Name = "multi@ups-1"
	r.Assets = []string{"ups-1", "ups-2"}
	rules := []*rule.Rule{r}

	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active"}, rules)
	reg.Announce(Event{Operation: "update", Iname: "ups-2", Status: "active"}, rules)

	// Only ups-1 matches the rule's name-derived asset ("multi@ups-1"
	// asset suffix is ups-1); deleting ups-2 must not cascade it away,
	// per the Open Question resolution in spec.md §9.
	cascade := reg.Announce(Event{Operation: "delete", Iname: "ups-2"}, rules)
	if len(cascade) != 0 {
		t.Fatalf("cascade = %v, want none (multi-asset rule preserved)", cascade)
	}
}

func TestParentChainOverwritePolicy(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1", "ups-1")}

	reg.Announce(Event{
		Operation: "inventory", Iname: "ups-1", Status: "active",
		Ext: map[string]string{"parent_name.1": "rack-1", "parent_name.2": "row-1"},
	}, rules)
	asset, _ := reg.Asset("ups-1")
	if len(asset.ParentChain) != 2 {
		t.Fatalf("ParentChain = %v, want 2 entries", asset.ParentChain)
	}

	// Inventory message carrying only unrelated ext attrs still gates a
	// rewrite (hasAnyAux), but with no parent_name keys the chain clears.
	reg.Announce(Event{
		Operation: "inventory", Iname: "ups-1", Status: "active",
		Ext: map[string]string{"name": "my-ups"},
	}, rules)
	asset, _ = reg.Asset("ups-1")
	if len(asset.ParentChain) != 0 {
		t.Fatalf("ParentChain = %v, want cleared when aux present without parent_name keys", asset.ParentChain)
	}
}

func TestIsRuleForThisAssetSensorGPIORequiresAssetAndModel(t *testing.T) {
	asset := Asset{Iname: "gpi-1", Subtype: "sensorgpio", Model: "EMP01"}

	onlyAsset := ruleWithAssets("x@gpi-1", "gpi-1")
	if isRuleForThisAsset(onlyAsset, asset) {
		t.Error("sensorgpio asset should require both asset and model match")
	}

	both := ruleWithAssets("x@gpi-1", "gpi-1")
	both.Models = []string{"EMP01"}
	if !isRuleForThisAsset(both, asset) {
		t.Error("sensorgpio asset with asset+model match should bind")
	}
}

func TestIsRuleForThisAssetGroupMatch(t *testing.T) {
	asset := Asset{Iname: "ups-1", Groups: []string{"critical"}}
	r := rule.New()
	r.Name = "x@y"
	r.Groups = []string{"critical"}
	if !isRuleForThisAsset(r, asset) {
		t.Error("expected group match to bind")
	}
}

func TestIsRuleForThisAssetTypeMatchesSubtype(t *testing.T) {
	asset := Asset{Iname: "ups-1", Type: "device", Subtype: "ups"}
	r := rule.New()
	r.Name = "x@y"
	r.Types = []string{"ups"}
	if !isRuleForThisAsset(r, asset) {
		t.Error("expected subtype match to bind")
	}
}

func TestRebindIsIdempotent(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1", "ups-1")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active"}, rules)

	before := reg.Binding("ups-1")
	reg.Rebind("ups-1", rules)
	reg.Rebind("ups-1", rules)
	after := reg.Binding("ups-1")

	if len(before) != len(after) {
		t.Fatalf("Rebind() changed binding across repeated calls: %v -> %v", before, after)
	}
}

func TestBindingNeverContainsRuleNotInStore(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1", "ups-1")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active"}, rules)

	// Rule removed from the store entirely; rebinding against the empty
	// set must drop it from the binding index.
	reg.Rebind("ups-1", nil)
	if got := reg.Binding("ups-1"); len(got) != 0 {
		t.Fatalf("Binding() = %v, want empty after rule removed from store", got)
	}
}

func TestAssetsForRule(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1", "ups-1")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active"}, rules)

	got := reg.AssetsForRule("load@ups-1")
	if len(got) != 1 || got[0] != "ups-1" {
		t.Fatalf("AssetsForRule() = %v, want [ups-1]", got)
	}
}

func TestSeedPopulatesBindingBeforeAnyAnnouncement(t *testing.T) {
	reg := New()
	reg.Seed(map[string][]string{"ups-1": {"load@ups-1"}})

	if got := reg.AssetsForRule("load@ups-1"); len(got) != 1 || got[0] != "ups-1" {
		t.Fatalf("AssetsForRule() = %v, want [ups-1]", got)
	}
	asset, ok := reg.Asset("ups-1")
	if !ok || asset.Iname != "ups-1" {
		t.Fatalf("Asset() = %+v, ok=%v", asset, ok)
	}
}

func TestSeedDoesNotOverwriteAlreadyKnownAsset(t *testing.T) {
	reg := New()
	rules := []*rule.Rule{ruleWithAssets("load@ups-1", "ups-1")}
	reg.Announce(Event{Operation: "update", Iname: "ups-1", Status: "active", Ext: map[string]string{"name": "my_ups"}}, rules)

	reg.Seed(map[string][]string{"ups-1": {"stale-rule@ups-1"}})

	asset, _ := reg.Asset("ups-1")
	if asset.DisplayName != "my_ups" {
		t.Fatalf("Seed overwrote an already-known asset: %+v", asset)
	}
	if got := reg.Binding("ups-1"); len(got) != 1 || got[0] != "load@ups-1" {
		t.Fatalf("Binding() = %v, want unchanged [load@ups-1]", got)
	}
}

func TestSeedSkipsEmptyBindingLists(t *testing.T) {
	reg := New()
	reg.Seed(map[string][]string{"ups-1": {}})
	if _, ok := reg.Asset("ups-1"); ok {
		t.Fatalf("expected no asset seeded from an empty binding list")
	}
}
