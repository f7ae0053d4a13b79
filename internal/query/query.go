// Package query builds and runs collection queries.
//
// A Query is an immutable value: every builder method returns a new Query
// and leaves its receiver untouched, so partially built queries can be
// shared and branched.
//
//	orders := sess.From(OrderType)
//	berlin := orders.Filter(ShipCity.Eq("Berlin")).OrderBy(OrderDate.Desc())
//	list, err := berlin.Limit(10).All(ctx)
//
// Builder errors are sticky. The first invalid call is recorded and every
// later terminal operation returns it; no clause is ever dropped.
package query

import (
	"context"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/expr"
	"github.com/roach88/odatalink/internal/literal"
)

// Query is a collection query over one entity set.
type Query struct {
	s  *Session
	et *edm.EntityType

	filter  expr.Node
	expand  []expr.Handle
	order   []expr.OrderKey
	selects []expr.Handle

	limit    int
	hasLimit bool
	offset   int

	count       bool
	skipInvalid bool

	err error
}

// Type returns the queried entity type.
func (q Query) Type() *edm.EntityType { return q.et }

// Err returns the first builder error, if any.
func (q Query) Err() error { return q.err }

func (q Query) fail(err error) Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Filter AND-composes n with the filter accumulated so far. The expression
// is compiled immediately so that invalid fields are reported at this call.
func (q Query) Filter(n expr.Node) Query {
	if q.err != nil {
		return q
	}
	if n == nil {
		return q.fail(errs.InvalidQuery("", "nil filter"))
	}
	if _, err := q.s.compiler.Compile(n, q.et); err != nil {
		return q.fail(err)
	}
	q.filter = expr.And(q.filter, n)
	return q
}

// Expand requests related entities inline. Each handle must be a path of
// navigation properties; multi-segment paths expand every level.
func (q Query) Expand(handles ...expr.Handle) Query {
	if q.err != nil {
		return q
	}
	for _, h := range handles {
		res, err := q.s.compiler.Resolve(h, q.et)
		if err != nil {
			return q.fail(err)
		}
		if !res.AllNavigation() {
			return q.fail(errs.InvalidQuery(res.Path, "only navigation properties can be expanded"))
		}
	}
	q.expand = append(slices.Clip(q.expand), handles...)
	return q
}

// OrderBy appends sort keys. Keys added by later calls sort after earlier
// ones.
func (q Query) OrderBy(keys ...expr.OrderKey) Query {
	if q.err != nil {
		return q
	}
	if _, err := q.s.compiler.CompileOrderBy(keys, q.et); err != nil {
		return q.fail(err)
	}
	q.order = append(slices.Clip(q.order), keys...)
	return q
}

// Select restricts the returned properties. Key properties are always
// requested so that results stay addressable. Navigation properties cannot
// be selected; use Expand.
func (q Query) Select(handles ...expr.Handle) Query {
	if q.err != nil {
		return q
	}
	for _, h := range handles {
		res, err := q.s.compiler.Resolve(h, q.et)
		if err != nil {
			return q.fail(err)
		}
		for _, seg := range res.Segments {
			if seg.IsNavigation() {
				return q.fail(errs.InvalidQuery(res.Path, "cannot select navigation property %s; use Expand", seg.Name))
			}
		}
	}
	q.selects = append(slices.Clip(q.selects), handles...)
	return q
}

// Limit caps the number of results. Limit(0) yields nothing without a
// request; a negative n is an INVALID_QUERY error.
func (q Query) Limit(n int) Query {
	if q.err != nil {
		return q
	}
	if n < 0 {
		return q.fail(errs.InvalidQuery("$top", "limit must be non-negative, got %d", n))
	}
	q.limit, q.hasLimit = n, true
	return q
}

// Offset skips the first n results. A negative n is an INVALID_QUERY error.
func (q Query) Offset(n int) Query {
	if q.err != nil {
		return q
	}
	if n < 0 {
		return q.fail(errs.InvalidQuery("$skip", "offset must be non-negative, got %d", n))
	}
	q.offset = n
	return q
}

// WithCount asks the service for the total match count alongside the
// first page (see Pages).
func (q Query) WithCount() Query {
	q.count = true
	return q
}

// SkipInvalid makes records that fail to materialize be logged and left
// out instead of failing the whole operation.
func (q Query) SkipInvalid() Query {
	q.skipInvalid = true
	return q
}

// selectNames returns the top-level properties a select requests, keys
// included, or nil when there is no select.
func (q Query) selectNames() []string {
	if len(q.selects) == 0 {
		return nil
	}
	var names []string
	for _, h := range q.selects {
		if segs := h.Segments(); len(segs) > 0 && !slices.Contains(names, segs[0]) {
			names = append(names, segs[0])
		}
	}
	for _, k := range q.et.KeyNames() {
		if !slices.Contains(names, k) {
			names = append(names, k)
		}
	}
	return names
}

// selectPaths renders $select: the requested paths in call order, then any
// key not already listed.
func (q Query) selectPaths() []string {
	var paths []string
	for _, h := range q.selects {
		if p := h.String(); !slices.Contains(paths, p) {
			paths = append(paths, p)
		}
	}
	for _, k := range q.et.KeyNames() {
		if !slices.Contains(paths, k) {
			paths = append(paths, k)
		}
	}
	return paths
}

// All runs the query and returns every result, following continuation
// links until the service has no more pages.
func (q Query) All(ctx context.Context) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for e, err := range q.Iter(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// First returns the first result. The boolean is false when there are no
// results; that is not an error.
func (q Query) First(ctx context.Context) (*entity.Entity, bool, error) {
	if q.err != nil {
		return nil, false, q.err
	}
	if !q.hasLimit || q.limit > 1 {
		q = q.Limit(1)
	}
	for e, err := range q.Iter(ctx) {
		if err != nil {
			return nil, false, err
		}
		return e, true, nil
	}
	return nil, false, nil
}

// Iter runs the query lazily: pages are requested as the sequence is
// consumed. Every range over the sequence starts again from the first page.
// On failure the sequence yields the error once and ends.
func (q Query) Iter(ctx context.Context) iter.Seq2[*entity.Entity, error] {
	return func(yield func(*entity.Entity, error) bool) {
		if q.err != nil {
			yield(nil, q.err)
			return
		}
		if q.hasLimit && q.limit == 0 {
			return
		}

		n := 0
		for page, err := range q.Pages(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, e := range page.Entities {
				if !yield(e, nil) {
					return
				}
				n++
				if q.hasLimit && n >= q.limit {
					return
				}
			}
		}
	}
}

// Pages runs the query and yields each response page, inline count
// included when WithCount was requested.
func (q Query) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if q.err != nil {
			yield(Page{}, q.err)
			return
		}
		if q.hasLimit && q.limit == 0 {
			return
		}
		u, err := q.URL()
		if err != nil {
			yield(Page{}, err)
			return
		}
		opts := pageOptions{sel: q.selectNames(), skipInvalid: q.skipInvalid}
		for page, err := range q.s.pages(ctx, u, q.et, opts) {
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// Count asks the service how many entities match the filter. Paging, sort,
// select and expand do not apply.
func (q Query) Count(ctx context.Context) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	u := q.s.base + q.et.EntitySet() + "/$count"
	if q.filter != nil {
		f, err := q.s.compiler.Compile(q.filter, q.et)
		if err != nil {
			return 0, err
		}
		u += "?" + encodeParams([]param{{"$filter", f}})
	}

	body, err := q.s.transport.Get(ctx, u)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(strings.TrimPrefix(string(body), "\ufeff"))
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errs.Materialization("$count", "invalid count response %q", text)
	}
	return n, nil
}

// Get fetches one entity by key. Keys are given in key declaration order.
// Filter, sort and paging do not apply; select and expand do.
func (q Query) Get(ctx context.Context, key ...any) (*entity.Entity, error) {
	if q.err != nil {
		return nil, q.err
	}
	keys := q.et.Keys()
	if len(key) != len(keys) {
		return nil, errs.InvalidQuery("", "%s has %d key properties, got %d values", q.et.Name(), len(keys), len(key))
	}
	byName := make(map[string]any, len(keys))
	for i, k := range keys {
		byName[k.Name] = key[i]
	}
	seg, err := literal.KeySegment(keys, func(name string) (any, bool) {
		v, ok := byName[name]
		return v, ok
	}, q.s.registry, q.s.dialect)
	if err != nil {
		return nil, err
	}

	params, err := q.params(false)
	if err != nil {
		return nil, err
	}
	u := q.s.base + q.et.EntitySet() + seg
	if len(params) > 0 {
		u += "?" + encodeParams(params)
	}
	return q.s.Fetch(ctx, u, q.et, q.selectNames())
}
