package harness

import (
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/goccy/go-json"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	requests := 0
	for _, event := range e.Trace {
		if event.Type != EventRequest {
			continue
		}
		if requests == 0 {
			fmt.Fprintf(&buf, "\nRequests:\n")
		}
		requests++
		fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Method, unescape(event.URL))
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the trace of result
// and returns the failures.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRequestSent:
			err = assertRequestSent(result.Trace, a)
		case AssertRequestOrder:
			err = assertRequestOrder(result.Trace, a)
		case AssertRequestCount:
			err = assertRequestCount(result.Trace, a)
		case AssertRequestBody:
			err = assertRequestBody(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// matches reports whether event is a request for method (any when empty)
// and u (any when empty). URLs are compared unescaped.
func matches(event TraceEvent, method, u string) bool {
	if event.Type != EventRequest {
		return false
	}
	if method != "" && !strings.EqualFold(event.Method, method) {
		return false
	}
	return u == "" || unescape(event.URL) == unescape(strings.TrimPrefix(u, "/"))
}

func describe(method, u string) string {
	if method == "" {
		method = "any"
	}
	if u == "" {
		return method + " request"
	}
	return method + " " + u
}

// assertRequestSent checks that at least one matching request was sent.
func assertRequestSent(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if matches(event, a.Method, a.URL) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRequestSent,
		Expected: describe(a.Method, a.URL),
		Actual:   "not sent",
		Trace:    trace,
	}
}

// assertRequestOrder checks that the URLs were first requested in the
// given order. Other requests may come in between.
func assertRequestOrder(trace []TraceEvent, a Assertion) error {
	positions := make([]int, len(a.URLs))
	for i, u := range a.URLs {
		idx := slices.IndexFunc(trace, func(e TraceEvent) bool { return matches(e, a.Method, u) })
		if idx < 0 {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("all requests present: %v", a.URLs),
				Actual:   fmt.Sprintf("missing request: %s", u),
				Trace:    trace,
			}
		}
		positions[i] = trace[idx].Seq
	}

	for i := 1; i < len(positions); i++ {
		if positions[i-1] >= positions[i] {
			return &AssertionError{
				Type:     AssertRequestOrder,
				Expected: fmt.Sprintf("requests in order: %v", a.URLs),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					a.URLs[i-1], positions[i-1], a.URLs[i], positions[i]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertRequestCount checks the exact number of matching requests.
func assertRequestCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a.Method, a.URL) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertRequestCount,
			Expected: fmt.Sprintf("%d x %s", a.Count, describe(a.Method, a.URL)),
			Actual:   fmt.Sprintf("%d requests", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRequestBody checks that a matching request carried a JSON body
// holding the given fields. Fields not named are ignored.
func assertRequestBody(trace []TraceEvent, a Assertion) error {
	var last any
	for _, event := range trace {
		if !matches(event, a.Method, a.URL) {
			continue
		}
		last = event.Body
		body, ok := event.Body.(map[string]any)
		if ok && matchFields(a.Body, body) == "" {
			return nil
		}
	}

	actual := "no matching request"
	if last != nil {
		actual = fmt.Sprintf("body %s", render(last))
	}
	return &AssertionError{
		Type:     AssertRequestBody,
		Expected: fmt.Sprintf("%s with body %s", describe(a.Method, a.URL), render(a.Body)),
		Actual:   actual,
		Trace:    trace,
	}
}

// checkExpect compares the outcome of step with its expect clause.
func checkExpect(step Step, out outcome, err error) []string {
	exp := step.Expect
	if exp == nil || exp.Error == "" {
		if err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", err)}
		}
	}
	if exp == nil {
		return nil
	}
	if exp.Error != "" {
		if err == nil {
			return []string{fmt.Sprintf("expected %s error, got success", exp.Error)}
		}
		if kind := errorKind(err); kind != exp.Error {
			return []string{fmt.Sprintf("expected %s error, got %s: %v", exp.Error, kind, err)}
		}
		return nil
	}

	var failures []string
	if exp.Rows != nil && len(out.rows) != *exp.Rows {
		failures = append(failures, fmt.Sprintf("expected %d rows, got %d", *exp.Rows, len(out.rows)))
	}
	if exp.Total != nil {
		switch {
		case out.total == nil:
			failures = append(failures, fmt.Sprintf("expected total %d, got none", *exp.Total))
		case *out.total != *exp.Total:
			failures = append(failures, fmt.Sprintf("expected total %d, got %d", *exp.Total, *out.total))
		}
	}
	for i, want := range exp.Results {
		if i >= len(out.rows) {
			failures = append(failures, fmt.Sprintf("results[%d]: missing", i))
			continue
		}
		if msg := matchFields(want, out.rows[i]); msg != "" {
			failures = append(failures, fmt.Sprintf("results[%d]: %s", i, msg))
		}
	}
	return failures
}

// matchFields compares the fields of expected with actual. It returns a
// description of the first difference, or "" when all fields match.
func matchFields(expected, actual map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Sprintf("field %q missing", k)
		}
		if !matchValue(expected[k], got) {
			return fmt.Sprintf("field %q = %s, want %s", k, render(got), render(expected[k]))
		}
	}
	return ""
}

// matchValue compares a value written in a scenario with a wire value.
// Numbers compare by value, maps by subset and lists element-wise.
func matchValue(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if want, ok := number(expected); ok {
		got, ok := number(actual)
		return ok && want.Cmp(got) == 0
	}

	switch want := expected.(type) {
	case map[string]any:
		got, ok := actual.(map[string]any)
		return ok && matchFields(want, got) == ""
	case []any:
		v := reflect.ValueOf(actual)
		if v.Kind() != reflect.Slice || v.Len() != len(want) {
			return false
		}
		for i := range want {
			if !matchValue(want[i], v.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(expected, actual)
}

// number reads v as an exact decimal when it is numeric.
func number(v any) (*apd.Decimal, bool) {
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case int, int64, int32, uint64:
		s = fmt.Sprint(n)
	case float64:
		s = fmt.Sprint(n)
	case *apd.Decimal:
		return n, true
	default:
		return nil, false
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, false
	}
	return d, true
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func unescape(u string) string {
	if s, err := url.PathUnescape(u); err == nil {
		return s
	}
	return u
}
