package service

import (
	"bytes"
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/expr"
	"github.com/roach88/odatalink/internal/query"
)

// comparisons lists the condition operators, longest first.
var comparisons = []struct {
	op    string
	build func(expr.Handle, any) expr.Node
}{
	{">=", expr.Handle.Ge},
	{"<=", expr.Handle.Le},
	{"!=", expr.Handle.Ne},
	{"=", expr.Handle.Eq},
	{">", expr.Handle.Gt},
	{"<", expr.Handle.Lt},
}

// Condition parses a textual comparison Property<op>value, op being one of
// = != > >= < <=. Paths into complex or related properties use '/'. The
// value is read as JSON when it is JSON and as a string otherwise, then
// converted to the canonical form of the property it is compared against.
func (s *Service) Condition(et *edm.EntityType, text string) (expr.Node, error) {
	for _, c := range comparisons {
		i := strings.Index(text, c.op)
		if i <= 0 {
			continue
		}
		h := expr.Path(et, splitPath(text[:i])...)
		res, err := s.session.Compiler().Resolve(h, et)
		if err != nil {
			return nil, err
		}
		raw := strings.TrimSpace(text[i+len(c.op):])
		v, err := codec.Decode(ParseValue(raw), res.Property, s.registry)
		if err != nil {
			return nil, errs.InvalidValue(h.String(), "%q: %v", raw, err)
		}
		return c.build(h, v), nil
	}
	return nil, errs.InvalidQuery("$filter", "invalid condition %q: want Property<op>value", text)
}

// SortKey parses "Property [asc|desc]".
func SortKey(et *edm.EntityType, text string) (expr.OrderKey, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || len(fields) > 2 {
		return expr.OrderKey{}, errs.InvalidQuery("$orderby", "invalid sort key %q", text)
	}
	h := expr.Path(et, splitPath(fields[0])...)
	if len(fields) == 1 {
		return h.Asc(), nil
	}
	switch strings.ToLower(fields[1]) {
	case "asc":
		return h.Asc(), nil
	case "desc":
		return h.Desc(), nil
	}
	return expr.OrderKey{}, errs.InvalidQuery("$orderby", "invalid sort direction %q", fields[1])
}

// Paths turns '/'-separated property paths into handles rooted at et.
func Paths(et *edm.EntityType, paths []string) []expr.Handle {
	out := make([]expr.Handle, 0, len(paths))
	for _, p := range paths {
		out = append(out, expr.Path(et, splitPath(p)...))
	}
	return out
}

func splitPath(p string) []string {
	return strings.Split(strings.TrimSpace(p), "/")
}

// ParseValue reads raw as a JSON scalar or array, keeping numbers as
// json.Number. Anything else, objects included, is returned as the string.
func ParseValue(raw string) any {
	if raw == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	if _, isObject := v.(map[string]any); isObject {
		return raw
	}
	return v
}

// WireRow renders the loaded values of e in their JSON wire form. Cached
// navigation is rendered too: a single-valued one as an object or nil, a
// collection as a list.
func WireRow(ctx context.Context, e *entity.Entity) (map[string]any, error) {
	row := make(map[string]any)
	for _, p := range e.Type().Structural() {
		v, ok := e.Get(p.Name)
		if !ok {
			continue
		}
		w, err := codec.Encode(v, p)
		if err != nil {
			return nil, err
		}
		row[p.Name] = w
	}
	for _, p := range e.Type().Navigations() {
		if !e.NavigationLoaded(p.Name) {
			continue
		}
		if !p.Collection {
			target, err := e.Related(ctx, p.Name)
			if err != nil {
				return nil, err
			}
			if target == nil {
				row[p.Name] = nil
				continue
			}
			sub, err := WireRow(ctx, target)
			if err != nil {
				return nil, err
			}
			row[p.Name] = sub
			continue
		}
		related, err := e.RelatedSet(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(related))
		for _, r := range related {
			sub, err := WireRow(ctx, r)
			if err != nil {
				return nil, err
			}
			rows = append(rows, sub)
		}
		row[p.Name] = rows
	}
	return row, nil
}

// Criteria is a query described in text, as given on a command line or in
// a test scenario.
type Criteria struct {
	Where   []string // conditions, joined with "and"
	Select  []string
	Expand  []string
	OrderBy []string // "Property [asc|desc]"
	Top     int      // -1 leaves the result size open
	Skip    int
	Count   bool // ask for the inline count
	Lenient bool // skip records that cannot be read
}

// Build turns c into a query over the named entity type or set. The first
// invalid criterion is returned as the error.
func (s *Service) Build(name string, c Criteria) (query.Query, error) {
	q, err := s.Query(name)
	if err != nil {
		return q, err
	}
	et := q.Type()

	for _, w := range c.Where {
		n, err := s.Condition(et, w)
		if err != nil {
			return q, err
		}
		q = q.Filter(n)
	}
	if len(c.Select) > 0 {
		q = q.Select(Paths(et, c.Select)...)
	}
	if len(c.Expand) > 0 {
		q = q.Expand(Paths(et, c.Expand)...)
	}
	for _, o := range c.OrderBy {
		key, err := SortKey(et, o)
		if err != nil {
			return q, err
		}
		q = q.OrderBy(key)
	}
	if c.Top != -1 {
		q = q.Limit(c.Top)
	}
	if c.Skip != 0 {
		q = q.Offset(c.Skip)
	}
	if c.Count {
		q = q.WithCount()
	}
	if c.Lenient {
		q = q.SkipInvalid()
	}
	return q, q.Err()
}
