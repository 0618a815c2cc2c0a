package script

import (
	"strings"
	"testing"
)

func TestEvalMessageThenResult(t *testing.T) {
	e := New(`function main(load) if load > 80 then return "too high", CRITICAL else return "ok", OK end end`,
		[]string{"load.default"}, nil)
	defer e.Close()

	msg, code, err := e.Eval("ups-1", "My UPS", []string{"92"})
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if code != 2 {
		t.Errorf("code = %d, want 2", code)
	}
	if msg != "too high" {
		t.Errorf("msg = %q, want %q", msg, "too high")
	}
}

func TestEvalResultThenMessage(t *testing.T) {
	e := New(`function main(load) return WARNING, "elevated" end`, []string{"load.default"}, nil)
	defer e.Close()

	msg, code, err := e.Eval("ups-1", "My UPS", []string{"55"})
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if code != 1 || msg != "elevated" {
		t.Errorf("got (%q, %d), want (elevated, 1)", msg, code)
	}
}

func TestEvalUsesInameAndNameGlobals(t *testing.T) {
	e := New(`function main() return INAME .. ":" .. NAME, OK end`, nil, nil)
	defer e.Close()

	msg, _, err := e.Eval("ups-1", "My UPS", nil)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if msg != "ups-1:My UPS" {
		t.Errorf("msg = %q, want ups-1:My UPS", msg)
	}
}

func TestEvalInjectsVariables(t *testing.T) {
	e := New(`function main() return threshold, OK end`, nil, map[string]string{"threshold": "42"})
	defer e.Close()

	msg, _, err := e.Eval("a", "a", nil)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if msg != "42" {
		t.Errorf("msg = %q, want 42", msg)
	}
}

func TestEvalOutOfRangeResultIsRuleError(t *testing.T) {
	e := New(`function main() return "bad", 99 end`, nil, nil)
	defer e.Close()

	_, code, err := e.Eval("a", "a", nil)
	if err == nil {
		t.Fatal("expected error for out-of-range result")
	}
	if code != RuleError {
		t.Errorf("code = %d, want RuleError", code)
	}
}

func TestEvalCompileFailureIsPermanentlyInert(t *testing.T) {
	e := New(`this is not lua (`, nil, nil)
	defer e.Close()

	_, code1, err1 := e.Eval("a", "a", nil)
	_, code2, err2 := e.Eval("a", "a", nil)
	if err1 == nil || err2 == nil {
		t.Fatal("expected compile error on every call")
	}
	if code1 != RuleError || code2 != RuleError {
		t.Errorf("codes = %d, %d, want RuleError both times", code1, code2)
	}
	if !strings.Contains(err1.Error(), "compile") {
		t.Errorf("error = %v, want mention of compile failure", err1)
	}
}

func TestEvalMissingMainFunction(t *testing.T) {
	e := New(`x = 1`, nil, nil)
	defer e.Close()

	_, code, err := e.Eval("a", "a", nil)
	if err == nil || code != RuleError {
		t.Fatalf("got code=%d err=%v, want RuleError with error", code, err)
	}
}

func TestEvalRuntimeErrorIsRuleError(t *testing.T) {
	e := New(`function main() error("boom") end`, nil, nil)
	defer e.Close()

	_, code, err := e.Eval("a", "a", nil)
	if err == nil || code != RuleError {
		t.Fatalf("got code=%d err=%v, want RuleError with error", code, err)
	}
}

func TestEvalChunkBodyRunsOnlyOnce(t *testing.T) {
	e := New(`
counter = (counter or 0) + 1
function main() return tostring(counter), OK end
`, nil, nil)
	defer e.Close()

	msg1, _, _ := e.Eval("a", "a", nil)
	msg2, _, _ := e.Eval("a", "a", nil)
	// The chunk body only runs once at compile time; repeated Eval calls
	// must not re-run top-level statements, so counter stays at 1.
	if msg1 != "1" || msg2 != "1" {
		t.Errorf("msg1=%q msg2=%q, want both 1 (no re-execution of chunk body)", msg1, msg2)
	}
}

func TestEvalMetricValuesPositional(t *testing.T) {
	e := New(`function main(a, b) return tostring(a + b), OK end`, []string{"x", "y"}, nil)
	defer e.Close()

	msg, _, err := e.Eval("a", "a", []string{"3", "4"})
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if msg != "7" {
		t.Errorf("msg = %q, want 7", msg)
	}
}
