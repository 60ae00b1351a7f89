// Package classify implements the error-classification taxonomy and retry
// policy described in SPEC_FULL.md section 4.2, grounded on
// services/orchestrator/src/errors.py (ErrorClassifier, RetryPolicy,
// FORMAT_FIX_PROMPTS) and generalized into Go's explicit-error idiom: errors
// are classified from their formatted message text, matching the original's
// string-pattern approach rather than Go's typed-error taxonomy, since the
// inputs being classified are opaque strings surfaced by a subprocess or an
// HTTP client, not Go errors we control the type of.
package classify

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Category is the coarse bucket an error falls into.
type Category string

const (
	CategorySyntax     Category = "syntax"
	CategoryRuntime    Category = "runtime"
	CategoryLogic      Category = "logic"
	CategoryParse      Category = "parse"
	CategoryConnection Category = "connection"
	CategoryTimeout    Category = "timeout"
	CategoryUnknown    Category = "unknown"
)

// Strategy is the recovery action chosen for a classified error.
type Strategy string

const (
	StrategyRetry     Strategy = "retry"
	StrategyFix       Strategy = "fix"
	StrategyReformat  Strategy = "reformat"
	StrategySkip      Strategy = "skip"
	StrategyAbort     Strategy = "abort"
	StrategyReconnect Strategy = "reconnect"
)

// ClassifiedError pairs a raw failure with its category and chosen recovery
// strategy. Context carries arbitrary diagnostic fields (e.g. the agent
// name or run id) for logging and event emission.
type ClassifiedError struct {
	Category   Category
	Message    string
	Original   error
	Strategy   Strategy
	Context    map[string]interface{}
}

func (c *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %s", c.Category, c.Message)
}

func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// pattern groups a category's regexes with the strategy they imply.
type pattern struct {
	category Category
	strategy Strategy
	res      []*regexp.Regexp
}

func compileAll(strs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(strs))
	for _, s := range strs {
		out = append(out, regexp.MustCompile("(?i)"+s))
	}
	return out
}

// Classifier order matters: it is checked in precedence order parse ->
// timeout -> connection -> syntax -> runtime -> unknown, matching
// errors.py's ErrorClassifier.classify exactly (parse errors are checked
// first since a JSON decode failure can otherwise also match a later
// category's pattern, such as the connection category's bare "EOF" or the
// runtime "ValueError:" prefix).
var precedence = []pattern{
	{
		category: CategoryParse,
		strategy: StrategyReformat,
		res: compileAll([]string{
			`JSONDecodeError:`,
			`json\.decoder\.JSONDecodeError`,
			`Expecting value:`,
			`Invalid JSON`,
			`Unterminated string`,
			`Extra data:`,
			`invalid character`,
			`unexpected end of JSON input`,
		}),
	},
	{
		category: CategoryTimeout,
		strategy: StrategyRetry,
		res: compileAll([]string{
			`TimeoutError:`,
			`context deadline exceeded`,
			`ReadTimeout`,
			`ConnectTimeout`,
			`timed out`,
		}),
	},
	{
		category: CategoryConnection,
		strategy: StrategyReconnect,
		res: compileAll([]string{
			`ConnectionError:`,
			`ConnectionRefusedError:`,
			`ConnectionResetError:`,
			`BrokenPipeError:`,
			`connection refused`,
			`ECONNREFUSED`,
			`network is unreachable`,
			`no such host`,
			`EOF`,
		}),
	},
	{
		category: CategorySyntax,
		strategy: StrategyFix,
		res: compileAll([]string{
			`SyntaxError:`,
			`IndentationError:`,
			`TabError:`,
			`invalid syntax`,
			`unexpected EOF`,
			`expected ':'`,
		}),
	},
	{
		category: CategoryRuntime,
		strategy: StrategyFix,
		res: compileAll([]string{
			`NameError:`,
			`TypeError:`,
			`ValueError:`,
			`AttributeError:`,
			`KeyError:`,
			`IndexError:`,
			`ZeroDivisionError:`,
			`ImportError:`,
			`ModuleNotFoundError:`,
			`FileNotFoundError:`,
			`PermissionError:`,
			`RuntimeError:`,
		}),
	},
}

// Classify turns an error into a ClassifiedError. Callers that only have
// raw text (such as a subprocess's stderr) use ClassifyMessage instead.
func Classify(err error, context map[string]interface{}) *ClassifiedError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ClassifyMessage(msg, err, context)
}

// ClassifyMessage classifies a raw message string, keeping the original
// error (if any) attached for Unwrap.
func ClassifyMessage(msg string, original error, context map[string]interface{}) *ClassifiedError {
	for _, p := range precedence {
		if matchesAny(msg, p.res) {
			return &ClassifiedError{
				Category: p.category,
				Message:  msg,
				Original: original,
				Strategy: p.strategy,
				Context:  context,
			}
		}
	}
	return &ClassifiedError{
		Category: CategoryUnknown,
		Message:  msg,
		Original: original,
		Strategy: StrategyAbort,
		Context:  context,
	}
}

func matchesAny(text string, res []*regexp.Regexp) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// fixPromptTemplates mirrors FORMAT_FIX_PROMPTS: a per-category prompt
// template handed back to an LLM agent asking it to correct its own output.
var fixPromptTemplates = map[Category]string{
	CategoryParse: "Your previous response could not be parsed as valid JSON.\n" +
		"Please respond with ONLY valid JSON, no additional text or explanation.\n" +
		"Make sure to:\n" +
		"- Use double quotes for strings\n" +
		"- No trailing commas\n" +
		"- Properly escape special characters\n" +
		"- Start with { and end with }",
	CategorySyntax: "The code you generated has a syntax error:\n%s\n\n" +
		"Please fix the syntax error and provide the corrected code.",
	CategoryRuntime: "The code you generated produced a runtime error:\n%s\n\n" +
		"Please fix the error and provide the corrected code.",
}

// FixPrompt returns the correction prompt to feed back to an LLM for a
// given classified error, falling back to a generic retry prompt for
// categories with no specific template.
func FixPrompt(ce *ClassifiedError) string {
	tmpl, ok := fixPromptTemplates[ce.Category]
	if !ok {
		return fmt.Sprintf("An error occurred: %s\n\nPlease try again.", ce.Message)
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, ce.Message)
	}
	return tmpl
}

// RetryPolicy implements the exponential-backoff schedule from
// errors.py's RetryPolicy: delay(k) = min(initial * base^k, max_delay).
type RetryPolicy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// GeneralRetryPolicy, ParseRetryPolicy, ConnectionRetryPolicy are the three
// named defaults from errors.py (DEFAULT_RETRY_POLICY,
// JSON_PARSE_RETRY_POLICY, CONNECTION_RETRY_POLICY).
func GeneralRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2.0}
}

func ParseRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2.0}
}

func ConnectionRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2.0}
}

// PolicyFor selects the named default policy for a category, falling back
// to GeneralRetryPolicy.
func PolicyFor(category Category) RetryPolicy {
	switch category {
	case CategoryParse:
		return ParseRetryPolicy()
	case CategoryConnection:
		return ConnectionRetryPolicy()
	default:
		return GeneralRetryPolicy()
	}
}

// GetDelay returns the backoff delay for the given 0-indexed attempt.
func (p RetryPolicy) GetDelay(attempt int) time.Duration {
	delaySeconds := p.InitialDelay.Seconds() * math.Pow(p.ExponentialBase, float64(attempt))
	if delaySeconds > p.MaxDelay.Seconds() {
		delaySeconds = p.MaxDelay.Seconds()
	}
	return time.Duration(delaySeconds * float64(time.Second))
}

// ShouldRetry reports whether another attempt should be made, given the
// attempt count so far and the classified error. Abortable errors never
// retry regardless of remaining budget.
func (p RetryPolicy) ShouldRetry(attempt int, ce *ClassifiedError) bool {
	if attempt >= p.MaxRetries {
		return false
	}
	if ce.Strategy == StrategyAbort {
		return false
	}
	return true
}
