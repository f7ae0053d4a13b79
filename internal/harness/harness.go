package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/literal"
	"github.com/roach88/odatalink/internal/schemadef"
	"github.com/roach88/odatalink/internal/service"
	"github.com/roach88/odatalink/internal/testutil"
)

// ServiceURL is the root of the fake service scenarios run against.
const ServiceURL = testutil.NorthwindURL

// Harness runs the flow of one scenario.
type Harness struct {
	svc    *service.Service
	fake   *testutil.FakeTransport
	logger *slog.Logger
}

// outcome is what a step returned.
type outcome struct {
	rows    []map[string]any
	hasRows bool
	total   *int64
}

// Run executes a scenario and returns the result. The returned error
// reports a scenario that cannot be set up; failed expectations and
// assertions are recorded in the result.
//
// Execution flow:
// 1. Load the schema and queue the canned responses
// 2. Execute flow steps, tracing the requests each one sends
// 3. Check expect clauses and evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	schema := testutil.NorthwindSchema()
	if scenario.Schema != "" {
		var err error
		if schema, err = schemadef.Load(scenario.Schema); err != nil {
			return nil, fmt.Errorf("failed to load schema: %w", err)
		}
	}

	fake := testutil.NewFakeTransport()
	for i, r := range scenario.Responses {
		body, err := responseBody(r.Body)
		if err != nil {
			return nil, fmt.Errorf("responses[%d]: %w", i, err)
		}
		if r.Status >= 300 {
			fake.OnStatus(r.method(), absolute(r.URL), r.Status, body)
		} else {
			fake.On(r.method(), absolute(r.URL), body)
		}
	}

	dialect, err := literal.ParseDialect(scenario.Dialect)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.New(ctx, ServiceURL,
		service.WithTransport(fake),
		service.WithSchema(schema),
		service.WithFlags(scenario.Flags),
		service.WithDialect(dialect),
		service.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	h := &Harness{svc: svc, fake: fake, logger: logger}
	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// executeStep runs one step and traces it with the requests it sent.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	result.add(TraceEvent{Type: EventStep, Op: step.Op, Set: step.Set})

	before := h.fake.Count()
	out, err := h.run(ctx, step)
	for _, req := range h.fake.Requests()[before:] {
		result.add(requestEvent(req))
	}

	event := TraceEvent{Type: EventOutcome, Op: step.Op}
	if err != nil {
		event.Error = errorKind(err)
	} else {
		if out.hasRows {
			n := len(out.rows)
			event.Rows = &n
		}
		event.Total = out.total
	}
	result.add(event)

	for _, msg := range checkExpect(step, out, err) {
		result.AddError(fmt.Sprintf("flow[%d] %s %s: %s", index, step.Op, step.Set, msg))
	}
	h.logger.Debug("step completed", "step", index, "op", step.Op, "set", step.Set, "error", err)
}

func (h *Harness) run(ctx context.Context, step Step) (outcome, error) {
	switch step.Op {
	case OpQuery:
		return h.query(ctx, step)
	case OpCount:
		q, err := h.svc.Build(step.Set, service.Criteria{Where: step.Where, Top: -1})
		if err != nil {
			return outcome{}, err
		}
		n, err := q.Count(ctx)
		if err != nil {
			return outcome{}, err
		}
		return outcome{total: &n}, nil
	case OpGet:
		e, err := h.fetch(ctx, step)
		if err != nil {
			return outcome{}, err
		}
		return h.single(ctx, e)
	case OpCreate:
		e, err := h.svc.NewEntity(step.Set)
		if err != nil {
			return outcome{}, err
		}
		if err := h.assign(e, step.Values); err != nil {
			return outcome{}, err
		}
		if err := h.svc.Save(ctx, e); err != nil {
			return outcome{}, err
		}
		return h.single(ctx, e)
	case OpUpdate:
		e, err := h.fetch(ctx, step)
		if err != nil {
			return outcome{}, err
		}
		if err := h.assign(e, step.Values); err != nil {
			return outcome{}, err
		}
		if err := h.svc.Save(ctx, e); err != nil {
			return outcome{}, err
		}
		return h.single(ctx, e)
	case OpDelete:
		e, err := h.fetch(ctx, step)
		if err != nil {
			return outcome{}, err
		}
		return outcome{}, h.svc.Delete(ctx, e)
	}
	return outcome{}, fmt.Errorf("unknown op %q", step.Op)
}

func (h *Harness) query(ctx context.Context, step Step) (outcome, error) {
	top := -1
	if step.Top != nil {
		top = *step.Top
	}
	q, err := h.svc.Build(step.Set, service.Criteria{
		Where:   step.Where,
		Select:  step.Select,
		Expand:  step.Expand,
		OrderBy: step.OrderBy,
		Top:     top,
		Skip:    step.Skip,
		Count:   step.Count,
		Lenient: step.Lenient,
	})
	if err != nil {
		return outcome{}, err
	}

	out := outcome{hasRows: true, rows: []map[string]any{}}
	for page, err := range q.Pages(ctx) {
		if err != nil {
			return outcome{}, err
		}
		if out.total == nil && page.Count != nil {
			out.total = page.Count
		}
		for _, e := range page.Entities {
			row, err := service.WireRow(ctx, e)
			if err != nil {
				return outcome{}, err
			}
			out.rows = append(out.rows, row)
		}
	}
	return out, nil
}

// fetch reads the entity addressed by the key of step.
func (h *Harness) fetch(ctx context.Context, step Step) (*entity.Entity, error) {
	q, err := h.svc.Build(step.Set, service.Criteria{Select: step.Select, Expand: step.Expand, Top: -1})
	if err != nil {
		return nil, err
	}
	keys := q.Type().Keys()
	values := make([]any, len(step.Key))
	for i, raw := range step.Key {
		w, err := wire(raw)
		if err != nil {
			return nil, err
		}
		values[i] = w
		if i < len(keys) {
			if values[i], err = codec.Decode(w, keys[i], h.svc.Registry()); err != nil {
				return nil, err
			}
		}
	}
	e, err := q.Get(ctx, values...)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errs.InvalidState("%s %v not found", step.Set, step.Key)
	}
	return e, nil
}

// assign sets values on e, converted from their wire form.
func (h *Harness) assign(e *entity.Entity, values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		p, ok := e.Type().Property(name)
		if !ok || p.IsNavigation() {
			return errs.InvalidValue(name, "%s has no structural property %s", e.Type().Name(), name)
		}
		w, err := wire(values[name])
		if err != nil {
			return err
		}
		v, err := codec.Decode(w, p, h.svc.Registry())
		if err != nil {
			return err
		}
		if err := e.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) single(ctx context.Context, e *entity.Entity) (outcome, error) {
	row, err := service.WireRow(ctx, e)
	if err != nil {
		return outcome{}, err
	}
	return outcome{hasRows: true, rows: []map[string]any{row}}, nil
}

// errorKind names the category of err for expect clauses and traces.
func errorKind(err error) string {
	switch {
	case errs.IsConcurrency(err):
		return "CONCURRENCY"
	case errs.IsTransport(err):
		return "TRANSPORT"
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	return "ERROR"
}

func requestEvent(req testutil.Request) TraceEvent {
	e := TraceEvent{
		Type:   EventRequest,
		Method: req.Method,
		URL:    strings.TrimPrefix(req.URL, ServiceURL),
		ETag:   req.ETag,
	}
	if len(req.Body) > 0 {
		if body, err := decodeJSON(req.Body); err == nil {
			e.Body = body
		} else {
			e.Body = string(req.Body)
		}
	}
	return e
}

// absolute resolves a scenario URL against the service root and encodes
// its query options the way request URLs are encoded. URLs that already
// hold escapes are kept as written.
func absolute(u string) string {
	if !strings.Contains(u, "://") {
		u = ServiceURL + strings.TrimPrefix(u, "/")
	}
	path, rawQuery, ok := strings.Cut(u, "?")
	if !ok || strings.Contains(rawQuery, "%") {
		return u
	}
	parts := strings.Split(rawQuery, "&")
	for i, part := range parts {
		if k, v, ok := strings.Cut(part, "="); ok {
			parts[i] = k + "=" + strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
		}
	}
	return path + "?" + strings.Join(parts, "&")
}

// responseBody renders a canned body: strings verbatim, anything else as
// JSON.
func responseBody(body any) (string, error) {
	switch b := body.(type) {
	case nil:
		return "", nil
	case string:
		return b, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	return string(data), nil
}

// wire converts a YAML value to the form JSON decoding produces, numbers
// as json.Number.
func wire(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value %v: %w", v, err)
	}
	return decodeJSON(data)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
