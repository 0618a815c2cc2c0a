package mailbox

import "regexp"

// Category tokens (§4.G LIST2 filter schema, closed set).
const (
	CategoryLoad           = "load"
	CategoryPhaseImbalance = "phase_imbalance"
	CategoryTemperature    = "temperature"
	CategoryHumidity       = "humidity"
	CategoryExpiry         = "expiry"
	CategoryInputCurrent   = "input_current"
	CategoryOutputCurrent  = "output_current"
	CategoryBattery        = "battery"
	CategoryInputVoltage   = "input_voltage"
	CategoryOutputVoltage  = "output_voltage"
	CategorySTS            = "sts"
	CategoryOther          = "other"
)

// categoryTokensByPrefix maps a rule-name prefix (the portion before
// the last "@") to its category tokens. Must stay synchronized with
// the original agent's categoryTokensFromRuleName table.
var categoryTokensByPrefix = map[string][]string{
	"realpower.default":             {CategoryLoad},
	"phase_imbalance":                {CategoryPhaseImbalance},
	"average.temperature":           {CategoryTemperature},
	"average.humidity":              {CategoryHumidity},
	"average.temperature-input":     {CategoryTemperature},
	"average.humidity-input":        {CategoryHumidity},
	"licensing.expiration":          {CategoryExpiry},
	"warranty":                      {CategoryExpiry},
	"load.default":                  {CategoryLoad},
	"input.L1.current":              {CategoryInputCurrent},
	"input.L2.current":              {CategoryInputCurrent},
	"input.L3.current":              {CategoryInputCurrent},
	"charge.battery":                {CategoryBattery},
	"runtime.battery":                {CategoryBattery},
	"voltage.input_1phase":          {CategoryInputVoltage},
	"voltage.input_3phase":          {CategoryInputVoltage},
	"input.L1.voltage":              {CategoryInputVoltage},
	"input.L2.voltage":              {CategoryInputVoltage},
	"input.L3.voltage":              {CategoryInputVoltage},
	"temperature.default":           {CategoryTemperature},
	"realpower.default_1phase":      {CategoryLoad},
	"load.input_1phase":             {CategoryLoad},
	"load.input_3phase":             {CategoryLoad},
	"section_load":                  {CategoryLoad},
	"sts-frequency":                 {CategorySTS},
	"sts-preferred-source":          {CategorySTS},
	"sts-voltage":                   {CategorySTS},
	"ambient.humidity":              {CategoryHumidity},
	"ambient.temperature":           {CategoryTemperature},
	"outlet.group.1.current":        {CategoryOutputCurrent},
	"outlet.group.1.voltage":        {CategoryOutputVoltage},
	"ambient.1.humidity.status":     {CategoryHumidity},
	"ambient.1.temperature.status":  {CategoryTemperature},
}

// enumeratedRedirects maps a regexp matching an "outlet.group.N.…" or
// "ambient.N.…" style prefix to its canonical "…1…" entry above.
var enumeratedRedirects = []struct {
	pattern *regexp.Regexp
	target  string
}{
	{regexp.MustCompile(`^outlet\.group\.\d{1,4}\.current$`), "outlet.group.1.current"},
	{regexp.MustCompile(`^outlet\.group\.\d{1,4}\.voltage$`), "outlet.group.1.voltage"},
	{regexp.MustCompile(`^ambient\.\d{1,4}\.humidity\.status$`), "ambient.1.humidity.status"},
	{regexp.MustCompile(`^ambient\.\d{1,4}\.temperature\.status$`), "ambient.1.temperature.status"},
}

// categoryTokensForRuleName returns the category tokens for ruleName's
// prefix (the portion before the last "@"), redirecting enumerated rule
// names to their canonical entry, defaulting to {"other"} when unknown
// (§4.G "Asset / category extraction from rule_name").
func categoryTokensForRuleName(ruleName string) []string {
	prefix := ruleNamePrefix(ruleName)

	if tokens, ok := categoryTokensByPrefix[prefix]; ok {
		return tokens
	}
	for _, redirect := range enumeratedRedirects {
		if redirect.pattern.MatchString(prefix) {
			if tokens, ok := categoryTokensByPrefix[redirect.target]; ok {
				return tokens
			}
		}
	}
	return []string{CategoryOther}
}

func ruleNamePrefix(ruleName string) string {
	for i := len(ruleName) - 1; i >= 0; i-- {
		if ruleName[i] == '@' {
			return ruleName[:i]
		}
	}
	return ruleName
}

// assetFromRuleName extracts the suffix after the last "@".
func assetFromRuleName(ruleName string) string {
	for i := len(ruleName) - 1; i >= 0; i-- {
		if ruleName[i] == '@' {
			return ruleName[i+1:]
		}
	}
	return ""
}

// assetTypeFromRuleName extracts the substring of the rule's asset
// before its last "-" (e.g. "ups-1234" -> "ups").
func assetTypeFromRuleName(ruleName string) string {
	asset := assetFromRuleName(ruleName)
	for i := len(asset) - 1; i >= 0; i-- {
		if asset[i] == '-' {
			return asset[:i]
		}
	}
	return ""
}
