package query

import (
	"bytes"
	"context"
	"iter"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/materialize"
)

// Page is one response of a collection request.
type Page struct {
	// Entities holds the materialized records of the page.
	Entities []*entity.Entity

	// Count is the inline count, when the request asked for it.
	Count *int64

	// NextLink is the absolute continuation URL, or "".
	NextLink string
}

// rawPage is a decoded collection response before materialization.
type rawPage struct {
	records []map[string]any
	count   *int64
	next    string
}

// decodeJSON decodes body keeping numbers as json.Number so that decimals
// and 64-bit integers survive.
func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// decodePage understands the three collection envelopes:
//
//	{"value": [...], "@odata.nextLink": "...", "@odata.count": 3}   v4
//	{"value": [...], "odata.nextLink": "...", "odata.count": "3"}   v3
//	{"d": {"results": [...], "__next": "...", "__count": "3"}}      v2
//	{"d": [...]}                                                    v2, unpaged
func decodePage(body []byte) (rawPage, error) {
	var doc map[string]any
	if err := decodeJSON(body, &doc); err != nil {
		return rawPage{}, errs.Materialization("", "response is not a JSON object: %v", err)
	}

	if d, ok := doc["d"]; ok {
		switch v := d.(type) {
		case []any:
			recs, err := records(v)
			return rawPage{records: recs}, err
		case map[string]any:
			doc = v
		}
	}

	var page rawPage
	items, ok := doc["value"].([]any)
	if !ok {
		items, ok = doc["results"].([]any)
	}
	if !ok {
		return rawPage{}, errs.Materialization("value", "collection response has no value array")
	}
	recs, err := records(items)
	if err != nil {
		return rawPage{}, err
	}
	page.records = recs

	for _, k := range []string{"@odata.nextLink", "odata.nextLink", "__next"} {
		if s, ok := doc[k].(string); ok && s != "" {
			page.next = s
			break
		}
	}
	for _, k := range []string{"@odata.count", "odata.count", "__count"} {
		if raw, ok := doc[k]; ok {
			n, err := parseCount(raw)
			if err != nil {
				return rawPage{}, err
			}
			page.count = &n
			break
		}
	}
	return page, nil
}

func records(items []any) ([]map[string]any, error) {
	out := make([]map[string]any, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, errs.Materialization("value", "item %d is %T, not an object", i, item)
		}
		out[i] = obj
	}
	return out, nil
}

// decodeEntity unwraps a single-entity response. An empty body or JSON null
// yields nil.
func decodeEntity(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var doc map[string]any
	if err := decodeJSON(body, &doc); err != nil {
		return nil, errs.Materialization("", "response is not a JSON object: %v", err)
	}
	if d, ok := doc["d"].(map[string]any); ok && len(doc) == 1 {
		if inner, ok := d["results"].(map[string]any); ok {
			return inner, nil
		}
		return d, nil
	}
	return doc, nil
}

func parseCount(raw any) (int64, error) {
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errs.Materialization("count", "invalid count %q", v)
		}
		return n, nil
	case float64:
		return int64(v), nil
	}
	return 0, errs.Materialization("count", "unexpected count %T", raw)
}

type pageOptions struct {
	sel         []string
	skipInvalid bool
}

// pages follows continuation links from first, yielding one materialized
// page per response. Iteration stops at the first error.
func (s *Session) pages(ctx context.Context, first string, et *edm.EntityType, opts pageOptions) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		next := first
		seen := make(map[string]bool)
		for next != "" {
			if seen[next] {
				yield(Page{}, errs.Materialization("nextLink", "continuation link %s repeats", next))
				return
			}
			seen[next] = true

			body, err := s.transport.Get(ctx, next)
			if err != nil {
				yield(Page{}, err)
				return
			}
			raw, err := decodePage(body)
			if err != nil {
				yield(Page{}, err)
				return
			}
			ents, err := s.materializer.MaterializeAll(raw.records, et, materialize.Options{
				Select:      opts.sel,
				Loader:      s,
				SkipInvalid: opts.skipInvalid,
			})
			if err != nil {
				yield(Page{}, err)
				return
			}

			page := Page{Entities: ents, Count: raw.count}
			if raw.next != "" {
				if page.NextLink, err = s.Resolve(raw.next); err != nil {
					yield(Page{}, err)
					return
				}
			}
			if !yield(page, nil) {
				return
			}
			next = page.NextLink
		}
	}
}
