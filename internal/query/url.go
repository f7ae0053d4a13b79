package query

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/odatalink/internal/expr"
	"github.com/roach88/odatalink/internal/literal"
)

type param struct {
	key   string
	value string
}

// URL renders the request URL of the first page. System query options
// always appear in the same order: $filter, $expand, $select, $orderby,
// $top, $skip, then the count option.
func (q Query) URL() (string, error) {
	if q.err != nil {
		return "", q.err
	}
	params, err := q.params(true)
	if err != nil {
		return "", err
	}
	u := q.s.base + q.et.EntitySet()
	if len(params) > 0 {
		u += "?" + encodeParams(params)
	}
	return u, nil
}

// params renders the query options. Collection-only options (filter, sort,
// paging, count) are left out for single-entity requests.
func (q Query) params(collection bool) ([]param, error) {
	var out []param

	if collection && q.filter != nil {
		f, err := q.s.compiler.Compile(q.filter, q.et)
		if err != nil {
			return nil, err
		}
		out = append(out, param{"$filter", f})
	}
	if len(q.expand) > 0 {
		out = append(out, param{"$expand", renderExpand(q.expand, q.s.dialect)})
	}
	if len(q.selects) > 0 {
		out = append(out, param{"$select", strings.Join(q.selectPaths(), ",")})
	}
	if !collection {
		return out, nil
	}
	if len(q.order) > 0 {
		o, err := q.s.compiler.CompileOrderBy(q.order, q.et)
		if err != nil {
			return nil, err
		}
		out = append(out, param{"$orderby", o})
	}
	if q.hasLimit {
		out = append(out, param{"$top", strconv.Itoa(q.limit)})
	}
	if q.offset > 0 {
		out = append(out, param{"$skip", strconv.Itoa(q.offset)})
	}
	if q.count {
		if q.s.dialect == literal.V3 {
			out = append(out, param{"$inlinecount", "allpages"})
		} else {
			out = append(out, param{"$count", "true"})
		}
	}
	return out, nil
}

// encodeParams joins options as k=v pairs. Values are percent-encoded with
// spaces as %20; option names are left as they are.
func encodeParams(params []param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.key + "=" + strings.ReplaceAll(url.QueryEscape(p.value), "+", "%20")
	}
	return strings.Join(parts, "&")
}

// expandNode is one level of the expand tree. children keep first-seen
// order.
type expandNode struct {
	name     string
	children []*expandNode
}

func (n *expandNode) child(name string) *expandNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	c := &expandNode{name: name}
	n.children = append(n.children, c)
	return c
}

// renderExpand merges expand paths into a tree. V4 nests deeper levels as
// A($expand=B,C); V3 spells every path out as A/B.
func renderExpand(handles []expr.Handle, d literal.Dialect) string {
	if d == literal.V3 {
		var paths []string
		for _, h := range handles {
			if p := h.String(); !slices.Contains(paths, p) {
				paths = append(paths, p)
			}
		}
		return strings.Join(paths, ",")
	}

	root := &expandNode{}
	for _, h := range handles {
		n := root
		for _, seg := range h.Segments() {
			n = n.child(seg)
		}
	}
	return renderLevel(root.children)
}

func renderLevel(nodes []*expandNode) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.name
		if len(n.children) > 0 {
			parts[i] += "($expand=" + renderLevel(n.children) + ")"
		}
	}
	return strings.Join(parts, ",")
}
