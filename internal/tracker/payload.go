package tracker

import (
	"slices"

	"github.com/roach88/odatalink/internal/codec"
	"github.com/roach88/odatalink/internal/entity"
	"github.com/roach88/odatalink/internal/literal"
)

// Flags mirror capabilities of the remote service that change how write
// payloads are built.
type Flags struct {
	// SkipNullProperties leaves null values out of insert and update
	// payloads. An entity whose only changes are skipped nulls stays dirty
	// and issues no request.
	SkipNullProperties bool `yaml:"skip_null_properties"`

	// OmitNull leaves null values of the named properties out of insert and
	// update payloads, like SkipNullProperties restricted to a list.
	OmitNull []string `yaml:"omit_null"`

	// ProvideTypeAnnotation adds "@odata.type": "#Namespace.Type".
	ProvideTypeAnnotation bool `yaml:"provide_type_annotation"`

	// BindRequiresSlash prefixes "@odata.bind" references with "/".
	BindRequiresSlash bool `yaml:"bind_requires_slash"`

	// RefreshAfterSave re-reads an entity after a successful PATCH so that
	// server-side changes become visible.
	RefreshAfterSave bool `yaml:"refresh_after_save"`
}

func (f Flags) omitNull(name string) bool {
	return f.SkipNullProperties || slices.Contains(f.OmitNull, name)
}

// insertPayload holds every non-computed structural value of a new entity.
// Keys left nil are omitted so that the service can assign them.
func insertPayload(e *entity.Entity, flags Flags, d literal.Dialect) (map[string]any, error) {
	out := make(map[string]any)
	for _, p := range e.Type().Structural() {
		if p.Computed {
			continue
		}
		v, ok := e.Get(p.Name)
		if !ok {
			continue
		}
		if v == nil && (p.Key || flags.omitNull(p.Name)) {
			continue
		}
		w, err := codec.Encode(v, p)
		if err != nil {
			return nil, err
		}
		out[p.Name] = w
	}
	if err := addBindings(out, e, flags, d); err != nil {
		return nil, err
	}
	annotate(out, e, flags)
	return out, nil
}

// updatePayload holds the changed fields of a persisted entity and its
// pending bindings. An entity without changes yields an empty payload.
func updatePayload(e *entity.Entity, flags Flags, d literal.Dialect) (map[string]any, error) {
	out := make(map[string]any)
	for _, c := range e.Changes() {
		if c.New == nil && flags.omitNull(c.Name) {
			continue
		}
		p, _ := e.Type().Property(c.Name)
		w, err := codec.Encode(c.New, p)
		if err != nil {
			return nil, err
		}
		out[c.Name] = w
	}
	if err := addBindings(out, e, flags, d); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		annotate(out, e, flags)
	}
	return out, nil
}

// addBindings writes Nav@odata.bind for every pending binding: one id for a
// single-valued navigation, a list for a collection. A single-valued
// navigation with a foreign key also sends the target's key in that field
// so the two never disagree.
func addBindings(out map[string]any, e *entity.Entity, flags Flags, d literal.Dialect) error {
	for _, b := range e.Bindings() {
		if b.Collection() {
			ids := make([]string, 0, len(b.Targets))
			for _, target := range b.Targets {
				id, err := bindID(target, flags, d)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			out[b.Name+"@odata.bind"] = ids
			continue
		}
		id, err := bindID(b.Target, flags, d)
		if err != nil {
			return err
		}
		out[b.Name+"@odata.bind"] = id
		if err := foreignKey(out, e, b); err != nil {
			return err
		}
	}
	return nil
}

func bindID(target *entity.Entity, flags Flags, d literal.Dialect) (string, error) {
	id, err := target.ID(d)
	if err != nil {
		return "", err
	}
	if flags.BindRequiresSlash {
		id = "/" + id
	}
	return id, nil
}

// foreignKey copies the bound target's key into the foreign key field. The
// target's property of the same name is preferred over its single key.
func foreignKey(out map[string]any, e *entity.Entity, b entity.Binding) error {
	nav, _ := e.Type().Property(b.Name)
	if nav.ForeignKey == "" {
		return nil
	}
	fk, ok := e.Type().Property(nav.ForeignKey)
	if !ok {
		return nil
	}
	v, ok := b.Target.Get(nav.ForeignKey)
	if !ok {
		keys := b.Target.Key()
		if len(keys) != 1 {
			return nil
		}
		v = keys[0]
	}
	w, err := codec.Encode(v, fk)
	if err != nil {
		return err
	}
	out[fk.Name] = w
	return nil
}

func annotate(out map[string]any, e *entity.Entity, flags Flags) {
	if flags.ProvideTypeAnnotation {
		out["@odata.type"] = "#" + e.Type().FullName()
	}
}
