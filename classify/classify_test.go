package classify

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClassifyMessage_Precedence(t *testing.T) {
	cases := []struct {
		name string
		msg  string
		want Category
	}{
		{"parse wins over generic runtime", "ValueError: Expecting value: line 1 column 1 (char 0)", CategoryParse},
		{"timeout", "request timed out after 30s", CategoryTimeout},
		{"connection", "ConnectionRefusedError: connection refused", CategoryConnection},
		{"syntax", "SyntaxError: invalid syntax", CategorySyntax},
		{"runtime", "NameError: name 'x' is not defined", CategoryRuntime},
		{"unknown default", "something inexplicable happened", CategoryUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ClassifyMessage(c.msg, nil, nil)
			if got.Category != c.want {
				t.Errorf("Category = %s, want %s", got.Category, c.want)
			}
		})
	}
}

func TestClassifyMessage_ParseBeatsConnectionWhenBothMatch(t *testing.T) {
	// "EOF" alone matches the connection pattern; a JSON message containing
	// "invalid character" must still classify as parse (precedence order).
	got := ClassifyMessage("invalid character 'x' looking for beginning of value near EOF", nil, nil)
	if got.Category != CategoryParse {
		t.Errorf("Category = %s, want parse", got.Category)
	}
}

func TestClassify_UnknownDefaultsToAbort(t *testing.T) {
	ce := Classify(errors.New("totally novel failure"), nil)
	if ce.Strategy != StrategyAbort {
		t.Errorf("Strategy = %s, want abort", ce.Strategy)
	}
}

func TestClassifiedError_UnwrapReturnsOriginal(t *testing.T) {
	original := errors.New("boom")
	ce := Classify(original, nil)
	if !errors.Is(ce, original) {
		t.Error("expected errors.Is to find the wrapped original error")
	}
}

func TestFixPrompt_KnownCategoryUsesTemplate(t *testing.T) {
	ce := &ClassifiedError{Category: CategorySyntax, Message: "line 3: bad indent"}
	prompt := FixPrompt(ce)
	if !strings.Contains(prompt, "line 3: bad indent") {
		t.Errorf("expected prompt to embed the error message, got %q", prompt)
	}
}

func TestFixPrompt_UnknownCategoryFallsBackToGeneric(t *testing.T) {
	ce := &ClassifiedError{Category: CategoryUnknown, Message: "mystery"}
	prompt := FixPrompt(ce)
	if !strings.Contains(prompt, "mystery") {
		t.Errorf("expected generic fallback to embed the message, got %q", prompt)
	}
}

func TestRetryPolicy_Defaults(t *testing.T) {
	g := GeneralRetryPolicy()
	if g.MaxRetries != 3 || g.InitialDelay != time.Second || g.MaxDelay != 30*time.Second || g.ExponentialBase != 2.0 {
		t.Errorf("unexpected general policy: %+v", g)
	}
	p := ParseRetryPolicy()
	if p.MaxRetries != 2 {
		t.Errorf("ParseRetryPolicy.MaxRetries = %d, want 2", p.MaxRetries)
	}
	c := ConnectionRetryPolicy()
	if c.MaxRetries != 5 || c.InitialDelay != 2*time.Second {
		t.Errorf("unexpected connection policy: %+v", c)
	}
}

func TestRetryPolicy_GetDelay_ExponentialThenCapped(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, InitialDelay: time.Second, MaxDelay: 10 * time.Second, ExponentialBase: 2.0}

	if got := p.GetDelay(0); got != time.Second {
		t.Errorf("GetDelay(0) = %v, want 1s", got)
	}
	if got := p.GetDelay(2); got != 4*time.Second {
		t.Errorf("GetDelay(2) = %v, want 4s", got)
	}
	if got := p.GetDelay(10); got != 10*time.Second {
		t.Errorf("GetDelay(10) = %v, want capped at 10s", got)
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := GeneralRetryPolicy()
	retryable := &ClassifiedError{Strategy: StrategyRetry}
	abortable := &ClassifiedError{Strategy: StrategyAbort}

	if !p.ShouldRetry(0, retryable) {
		t.Error("expected retry to be allowed under the limit")
	}
	if p.ShouldRetry(p.MaxRetries, retryable) {
		t.Error("expected retry to be denied at the limit")
	}
	if p.ShouldRetry(0, abortable) {
		t.Error("expected abort strategy to never retry")
	}
}

func TestPolicyFor(t *testing.T) {
	if PolicyFor(CategoryParse).MaxRetries != 2 {
		t.Error("expected parse category to select ParseRetryPolicy")
	}
	if PolicyFor(CategoryConnection).MaxRetries != 5 {
		t.Error("expected connection category to select ConnectionRetryPolicy")
	}
	if PolicyFor(CategorySyntax).MaxRetries != 3 {
		t.Error("expected syntax category to fall back to GeneralRetryPolicy")
	}
}
