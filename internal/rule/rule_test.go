package rule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONEnvelopeAndBare(t *testing.T) {
	bare := []byte(`{"name":"load@ups-1234","metrics":["status.ups"],"evaluation":"function main(x) return OK,'ok' end"}`)
	r, err := ParseJSON(bare)
	require.NoError(t, err)
	assert.Equal(t, "load@ups-1234", r.Name)
	assert.Equal(t, []string{"status.ups"}, r.Metrics)

	wrapped := []byte(`{"flexible":{"name":"load@ups-1234","metrics":["status.ups"],"evaluation":"function main(x) return OK,'ok' end"}}`)
	r2, err := ParseJSON(wrapped)
	require.NoError(t, err)
	assert.Equal(t, r.Name, r2.Name)
	assert.Equal(t, r.Metrics, r2.Metrics)
}

func TestParseJSONInvalidDocument(t *testing.T) {
	_, err := ParseJSON([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestParseJSONArrayFieldMustBeArray(t *testing.T) {
	_, err := ParseJSON([]byte(`{"name":"x@y","assets":"not-an-array"}`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestParseJSONLegacyAndStructuredActions(t *testing.T) {
	doc := []byte(`{
		"name":"load@ups-1234",
		"evaluation":"function main(x) return OK,'ok' end",
		"results": {
			"ok": {"action": ["EMAIL"]},
			"high_critical": {"action": [{"action":"EMAIL"}, {"action":"GPO_INTERACTION","asset":"epdu-9","mode":"open"}]}
		}
	}`)
	r, err := ParseJSON(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"EMAIL"}, r.ActionsFor(0))
	assert.Equal(t, []string{"EMAIL", "GPO_INTERACTION:epdu-9:open"}, r.ActionsFor(2))
}

func TestParseJSONUnknownBucketRejected(t *testing.T) {
	doc := []byte(`{"name":"x@y","evaluation":"","results":{"bogus":{"action":["EMAIL"]}}}`)
	_, err := ParseJSON(doc)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestSerializeRoundTrip(t *testing.T) {
	r := New()
	r.Name = "load@ups-1234"
	r.Description = "ups overload"
	r.LogicalAsset = "rack-9"
	r.Metrics = []string{"status.ups", "load.default"}
	r.Assets = []string{"ups-1234"}
	r.Groups = []string{"group1"}
	r.Models = []string{"5P"}
	r.Types = []string{"ups"}
	r.Variables = map[string]string{"THRESHOLD": "80"}
	r.Evaluation = "function main(a,b) return OK,'ok' end"
	require.NoError(t, r.SetResultActions(map[Bucket][]string{
		BucketOK:           {"EMAIL"},
		BucketHighCritical: {"GPO_INTERACTION:epdu-9:open", "SMS"},
	}))

	data, err := r.Serialize()
	require.NoError(t, err)

	back, err := ParseJSON(data)
	require.NoError(t, err)

	assertSemanticallyEqual(t, r, back)
}

func TestSerializeUpgradesLegacyToStructured(t *testing.T) {
	doc := []byte(`{"name":"a@b","evaluation":"","results":{"ok":{"action":["EMAIL"]}}}`)
	r, err := ParseJSON(doc)
	require.NoError(t, err)

	data, err := r.Serialize()
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	results := generic["results"].(map[string]interface{})
	ok := results["ok"].(map[string]interface{})
	actionList := ok["action"].([]interface{})
	require.Len(t, actionList, 1)
	actionObj := actionList[0].(map[string]interface{})
	assert.Equal(t, "EMAIL", actionObj["action"])
}

func assertSemanticallyEqual(t *testing.T, want, got *Rule) {
	t.Helper()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Description, got.Description)
	assert.Equal(t, want.LogicalAsset, got.LogicalAsset)
	assert.Equal(t, want.Metrics, got.Metrics)
	assert.Equal(t, want.Assets, got.Assets)
	assert.Equal(t, want.Groups, got.Groups)
	assert.Equal(t, want.Models, got.Models)
	assert.Equal(t, want.Types, got.Types)
	assert.Equal(t, want.Variables, got.Variables)
	assert.Equal(t, want.Evaluation, got.Evaluation)
	assert.Equal(t, want.ResultActions, got.ResultActions)
}

func TestPredicateQueries(t *testing.T) {
	r := New()
	r.Assets = []string{"ups-1"}
	r.Groups = []string{"g1"}
	r.Metrics = []string{"m1"}
	r.Models = []string{"mod1"}
	r.Types = []string{"t1"}

	assert.True(t, r.HasAsset("ups-1"))
	assert.False(t, r.HasAsset("ups-2"))
	assert.True(t, r.HasGroup("g1"))
	assert.True(t, r.HasMetric("m1"))
	assert.True(t, r.HasModel("mod1"))
	assert.True(t, r.HasType("t1"))
}

func TestActionsForUnknownCode(t *testing.T) {
	r := New()
	assert.Nil(t, r.ActionsFor(99))
}

func TestEffectiveAsset(t *testing.T) {
	r := New()
	r.Name = "load@ups-1234"
	assert.Equal(t, "ups-1234", r.EffectiveAsset("ups-1234"))

	r.LogicalAsset = "rack-9"
	assert.Equal(t, "rack-9", r.EffectiveAsset("ups-1234"))

	r.LogicalAsset = ""
	assert.Equal(t, "ups-1234", r.EffectiveAsset("ups-1234"))
}

func TestAssetAndPrefixFromName(t *testing.T) {
	r := New()
	r.Name = "load@ups-1234"
	assert.Equal(t, "ups-1234", r.Asset())
	assert.Equal(t, "load", r.Prefix())

	r.Name = "no-at-sign"
	assert.Equal(t, "", r.Asset())
	assert.Equal(t, "no-at-sign", r.Prefix())
}

func TestBucketForResult(t *testing.T) {
	cases := []struct {
		code int
		want Bucket
		ok   bool
	}{
		{-2, BucketLowCritical, true},
		{-1, BucketLowWarning, true},
		{0, BucketOK, true},
		{1, BucketHighWarning, true},
		{2, BucketHighCritical, true},
		{3, "", false},
		{-3, "", false},
	}
	for _, c := range cases {
		got, ok := BucketForResult(c.code)
		assert.Equal(t, c.ok, ok)
		assert.Equal(t, c.want, got)
	}
}
