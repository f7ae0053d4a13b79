package harness

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/tracker"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a directory of CUE definitions. Relative paths are resolved
	// against the scenario file. Empty selects the built-in Northwind model.
	Schema string `yaml:"schema,omitempty"`

	// Dialect is v4 (the default) or v3.
	Dialect string `yaml:"dialect,omitempty"`

	// Flags tune the payloads of writes.
	Flags tracker.Flags `yaml:"flags,omitempty"`

	// Responses are the canned replies of the fake service.
	Responses []Response `yaml:"responses,omitempty"`

	// Flow holds the client operations, run in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the requests the flow sent.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Response is one canned reply. Several replies for the same request are
// served in order, the last one repeatedly.
type Response struct {
	// Method defaults to GET.
	Method string `yaml:"method,omitempty"`

	// URL is relative to the service root unless absolute.
	URL string `yaml:"url"`

	// Status is the HTTP status; 2xx or empty means success.
	Status int `yaml:"status,omitempty"`

	// Body is sent verbatim when it is a string and as JSON otherwise.
	Body any `yaml:"body,omitempty"`
}

// Step is one client operation.
type Step struct {
	// Op is one of query, count, get, create, update, delete.
	Op string `yaml:"op"`

	// Set names the entity set or type.
	Set string `yaml:"set"`

	Where   []string `yaml:"where,omitempty"`
	OrderBy []string `yaml:"orderby,omitempty"`
	Select  []string `yaml:"select,omitempty"`
	Expand  []string `yaml:"expand,omitempty"`
	Top     *int     `yaml:"top,omitempty"`
	Skip    int      `yaml:"skip,omitempty"`
	Count   bool     `yaml:"count,omitempty"`
	Lenient bool     `yaml:"skip_invalid,omitempty"`

	// Key addresses the entity of get, update and delete, in key
	// declaration order.
	Key []any `yaml:"key,omitempty"`

	// Values are the property values of create and update.
	Values map[string]any `yaml:"values,omitempty"`

	// Expect is checked after the step; nil expects success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step.
type Expect struct {
	// Rows is the number of entities returned.
	Rows *int `yaml:"rows,omitempty"`

	// Total is the inline count of a query or the result of count.
	Total *int64 `yaml:"total,omitempty"`

	// Results are matched against the returned rows by position. Only
	// the given fields are compared.
	Results []map[string]any `yaml:"results,omitempty"`

	// Error is the kind of error the step must end with: TRANSPORT,
	// CONCURRENCY or an error code such as INVALID_QUERY.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the recorded requests.
type Assertion struct {
	// Type is request_sent, request_order, request_count or request_body.
	Type string `yaml:"type"`

	Method string         `yaml:"method,omitempty"`
	URL    string         `yaml:"url,omitempty"`
	URLs   []string       `yaml:"urls,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Body   map[string]any `yaml:"body,omitempty"`
}

// Assertion type constants.
const (
	AssertRequestSent  = "request_sent"
	AssertRequestOrder = "request_order"
	AssertRequestCount = "request_count"
	AssertRequestBody  = "request_body"
)

// Step operations.
const (
	OpQuery  = "query"
	OpCount  = "count"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

var ops = []string{OpQuery, OpCount, OpGet, OpCreate, OpUpdate, OpDelete}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected, and a relative schema path is resolved against the file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if _, err := literal.ParseDialect(s.Dialect); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}
	if s.Schema != "" {
		if _, err := os.Stat(s.Schema); err != nil {
			return fmt.Errorf("schema directory not found: %s", s.Schema)
		}
	}

	for i, r := range s.Responses {
		if r.URL == "" {
			return fmt.Errorf("responses[%d]: url is required", i)
		}
		if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
			return fmt.Errorf("responses[%d]: invalid status %d", i, r.Status)
		}
	}

	for i, step := range s.Flow {
		if !slices.Contains(ops, step.Op) {
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
		if step.Set == "" {
			return fmt.Errorf("flow[%d]: set is required", i)
		}
		switch step.Op {
		case OpGet, OpUpdate, OpDelete:
			if len(step.Key) == 0 {
				return fmt.Errorf("flow[%d]: key is required for %s", i, step.Op)
			}
		}
		if step.Op == OpUpdate && len(step.Values) == 0 {
			return fmt.Errorf("flow[%d]: values are required for update", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRequestSent:
		if a.URL == "" {
			return fmt.Errorf("assertions[%d]: url is required for request_sent", index)
		}
	case AssertRequestOrder:
		if len(a.URLs) == 0 {
			return fmt.Errorf("assertions[%d]: urls list is required for request_order", index)
		}
	case AssertRequestCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for request_count", index)
		}
	case AssertRequestBody:
		if a.URL == "" {
			return fmt.Errorf("assertions[%d]: url is required for request_body", index)
		}
		if len(a.Body) == 0 {
			return fmt.Errorf("assertions[%d]: body is required for request_body", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func (r Response) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}
