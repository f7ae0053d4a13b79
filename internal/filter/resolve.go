package filter

import (
	"strings"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/errs"
	"github.com/roach88/odatalink/internal/expr"
)

// Resolution is a handle path resolved against the registry.
type Resolution struct {
	// Segments holds the property met at each path segment.
	Segments []edm.Property

	// Property is the property the path ends at.
	Property edm.Property

	// Path is the rendered path, segments joined with '/'.
	Path string
}

// AllNavigation reports whether every segment is a navigation property.
func (r Resolution) AllNavigation() bool {
	for _, seg := range r.Segments {
		if !seg.IsNavigation() {
			return false
		}
	}
	return len(r.Segments) > 0
}

// Resolve walks h from et through navigation and complex properties.
//
// Returns an INVALID_EXPRESSION error when h is rooted at another type or
// names a property its owner does not declare.
func (c *Compiler) Resolve(h expr.Handle, et *edm.EntityType) (Resolution, error) {
	if h.Root() == nil {
		return Resolution{}, errs.InvalidExpression(h.String(), "handle has no entity type")
	}
	if !sameType(h.Root(), et) {
		return Resolution{}, errs.InvalidExpression(h.String(), "field of %s used in query over %s", h.Root().Name(), et.Name())
	}
	return c.resolve(h, et)
}

// owner is either an entity type or a complex type.
type owner interface {
	Property(name string) (edm.Property, bool)
}

func (c *Compiler) resolve(h expr.Handle, root *edm.EntityType) (Resolution, error) {
	segments := h.Segments()
	if len(segments) == 0 {
		return Resolution{}, errs.InvalidExpression("", "handle has an empty path")
	}

	var cur owner = root
	curName := root.Name()
	res := Resolution{Segments: make([]edm.Property, 0, len(segments))}

	for i, name := range segments {
		prop, ok := cur.Property(name)
		if !ok {
			return Resolution{}, errs.InvalidExpression(strings.Join(segments[:i+1], "/"),
				"%s has no property %q", curName, name)
		}
		res.Segments = append(res.Segments, prop)

		if i == len(segments)-1 {
			break
		}

		switch prop.Kind {
		case edm.KindNavigation:
			target, ok := c.registry.Target(prop)
			if !ok {
				return Resolution{}, errs.InvalidExpression(prop.Name, "navigation target %s is not registered", prop.Type)
			}
			cur, curName = target, target.Name()
		case edm.KindComplex:
			ct, ok := c.registry.Complex(prop.Type)
			if !ok {
				return Resolution{}, errs.InvalidExpression(prop.Name, "complex type %s is not registered", prop.Type)
			}
			cur, curName = ct, ct.Name
		default:
			return Resolution{}, errs.InvalidExpression(strings.Join(segments[:i+2], "/"),
				"%s is %s and has no properties", prop.Name, prop.Type)
		}
	}

	res.Property = res.Segments[len(res.Segments)-1]
	res.Path = strings.Join(segments, "/")
	return res, nil
}
