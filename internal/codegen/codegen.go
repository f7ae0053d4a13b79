// Package codegen renders a schema as Go source: the schema literal, a
// handle table per entity type, and typed accessor wrappers.
package codegen

import (
	"bytes"
	"embed"
	"fmt"
	"go/format"
	"go/token"
	"slices"
	"strconv"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/odatalink/internal/edm"
)

//go:embed templates/*.tmpl
var templates embed.FS

var fileTemplate = template.Must(template.ParseFS(templates, "templates/schema.go.tmpl"))

// DefaultImportRoot is the import path prefix of the runtime packages the
// generated code depends on.
const DefaultImportRoot = "github.com/roach88/odatalink/internal"

// Options control code generation.
type Options struct {
	// Package is the package clause of the output. Defaults to the lowercased
	// schema namespace.
	Package string

	// Source is recorded in the file header when set.
	Source string

	// ImportRoot overrides DefaultImportRoot.
	ImportRoot string
}

// reserved names clash with the fields of generated structs.
var reserved = map[string]bool{"Entity": true, "Type": true}

type fileData struct {
	Package    string
	Source     string
	Namespace  string
	StdImports []string
	ExtImports []string
	Enums      []enumData
	Complexes  []complexData
	Entities   []entityData
}

type enumData struct {
	Name, Namespace, GoName string
	IsFlags                 bool
	Members                 []memberData
}

type memberData struct {
	Name, GoName string
	Value        int64
}

type complexData struct {
	Name, Namespace string
	Props           []propData
}

type entityData struct {
	Name, Namespace, FullName, EntitySet, GoName string
	Props                                        []propData
}

type propData struct {
	Name       string
	GoName     string
	Ctor       string
	GoType     string
	Nav        bool
	Collection bool
	Settable   bool
}

// Emit renders s as a gofmt-ed Go file.
func Emit(s *edm.Schema, opts Options) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("emit: nil schema")
	}
	g := &generator{root: opts.ImportRoot, std: map[string]bool{}, ext: map[string]bool{}}
	if g.root == "" {
		g.root = DefaultImportRoot
	}

	pkg := opts.Package
	if pkg == "" {
		pkg = packageName(s.Namespace)
	}
	if !token.IsIdentifier(pkg) {
		return nil, fmt.Errorf("emit: invalid package name %q", pkg)
	}

	data, err := g.build(s)
	if err != nil {
		return nil, err
	}
	data.Package = pkg
	data.Source = opts.Source
	data.StdImports = sortedKeys(g.std)
	data.ExtImports = sortedKeys(g.ext)

	var buf bytes.Buffer
	if err := fileTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("emit: format generated source: %w", err)
	}
	return out, nil
}

type generator struct {
	root string
	std  map[string]bool
	ext  map[string]bool
}

func (g *generator) internal(pkg string) { g.ext[g.root+"/"+pkg] = true }

func (g *generator) build(s *edm.Schema) (*fileData, error) {
	g.internal("edm")
	data := &fileData{Namespace: s.Namespace}

	for _, e := range s.Enums {
		ed := enumData{Name: e.Name, Namespace: e.Namespace, GoName: GoName(e.Name), IsFlags: e.IsFlags}
		for _, m := range e.Members {
			ed.Members = append(ed.Members, memberData{Name: m.Name, GoName: GoName(m.Name), Value: m.Value})
		}
		data.Enums = append(data.Enums, ed)
	}

	for _, c := range s.ComplexTypes {
		cd := complexData{Name: c.Name, Namespace: c.Namespace}
		for _, p := range c.Properties {
			ctor, err := g.ctor(p)
			if err != nil {
				return nil, fmt.Errorf("emit %s.%s: %w", c.Name, p.Name, err)
			}
			cd.Props = append(cd.Props, propData{Name: p.Name, Ctor: ctor})
		}
		data.Complexes = append(data.Complexes, cd)
	}

	seen := make(map[string]string)
	for _, def := range s.EntityTypes {
		goName := GoName(def.Name)
		if prev, dup := seen[goName]; dup {
			return nil, fmt.Errorf("emit: %s and %s both map to Go name %s", prev, def.Name, goName)
		}
		seen[goName] = def.Name

		ed := entityData{
			Name:      def.Name,
			Namespace: def.Namespace,
			FullName:  def.Name,
			EntitySet: def.EntitySet,
			GoName:    goName,
		}
		if def.Namespace != "" {
			ed.FullName = def.Namespace + "." + def.Name
		}
		used := make(map[string]bool)
		for _, p := range def.Properties {
			pd, err := g.prop(p)
			if err != nil {
				return nil, fmt.Errorf("emit %s.%s: %w", def.Name, p.Name, err)
			}
			if used[pd.GoName] {
				return nil, fmt.Errorf("emit %s.%s: Go name %s is already taken", def.Name, p.Name, pd.GoName)
			}
			used[pd.GoName] = true
			ed.Props = append(ed.Props, pd)
		}
		data.Entities = append(data.Entities, ed)
	}
	if len(data.Entities) > 0 {
		g.std["fmt"] = true
		g.internal("expr")
		g.internal("entity")
	}
	return data, nil
}

func (g *generator) prop(p edm.Property) (propData, error) {
	ctor, err := g.ctor(p)
	if err != nil {
		return propData{}, err
	}
	name := GoName(p.Name)
	if reserved[name] {
		name += "_"
	}
	pd := propData{
		Name:       p.Name,
		GoName:     name,
		Ctor:       ctor,
		Nav:        p.IsNavigation(),
		Collection: p.Collection,
		Settable:   !p.Key && !p.Computed,
	}
	if pd.Nav {
		g.std["context"] = true
		return pd, nil
	}
	pd.GoType = g.goType(p)
	return pd, nil
}

// goType names the Go type of a property's canonical value.
func (g *generator) goType(p edm.Property) string {
	if p.Collection {
		return "[]any"
	}
	switch p.Kind {
	case edm.KindEnum:
		return "edm.EnumValue"
	case edm.KindComplex:
		return "map[string]any"
	}
	switch p.Type {
	case edm.Boolean:
		return "bool"
	case edm.Byte, edm.SByte, edm.Int16, edm.Int32, edm.Int64:
		return "int64"
	case edm.Single, edm.Double:
		return "float64"
	case edm.Decimal:
		g.ext["github.com/cockroachdb/apd/v3"] = true
		return "*apd.Decimal"
	case edm.Guid:
		g.ext["github.com/google/uuid"] = true
		return "uuid.UUID"
	case edm.Date, edm.DateTimeOffset:
		g.std["time"] = true
		return "time.Time"
	case edm.TimeOfDay, edm.Duration:
		g.std["time"] = true
		return "time.Duration"
	case edm.Binary:
		return "[]byte"
	}
	return "string"
}

// ctor renders the edm constructor call that rebuilds p.
func (g *generator) ctor(p edm.Property) (string, error) {
	var b strings.Builder
	switch p.Kind {
	case edm.KindPrimitive:
		if !edm.IsPrimitive(p.Type) {
			return "", fmt.Errorf("unknown primitive type %s", p.Type)
		}
		fmt.Fprintf(&b, "edm.Prim(%q, edm.%s", p.Name, strings.TrimPrefix(p.Type, "Edm."))
	case edm.KindEnum:
		fmt.Fprintf(&b, "edm.EnumProp(%q, %q", p.Name, p.Type)
	case edm.KindComplex:
		fmt.Fprintf(&b, "edm.ComplexProp(%q, %q", p.Name, p.Type)
	case edm.KindNavigation:
		fmt.Fprintf(&b, "edm.Nav(%q, %q", p.Name, p.Type)
	default:
		return "", fmt.Errorf("unknown property kind %q", p.Kind)
	}
	if p.Key {
		b.WriteString(", edm.AsKey()")
	}
	if p.Nullable && !p.IsNavigation() {
		b.WriteString(", edm.AsNullable()")
	}
	if p.Computed {
		b.WriteString(", edm.AsComputed()")
	}
	if p.Collection {
		b.WriteString(", edm.AsCollection()")
	}
	if p.Default != nil {
		lit, err := g.literal(p.Default)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, ", edm.WithDefault(%s)", lit)
	}
	if p.ForeignKey != "" {
		fmt.Fprintf(&b, ", edm.WithForeignKey(%q)", p.ForeignKey)
	}
	b.WriteString(")")
	return b.String(), nil
}

// literal renders a default value. Numbers become json.Number so that the
// generated schema matches one read from metadata or the schema cache.
func (g *generator) literal(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return strconv.Quote(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Number:
		g.std["encoding/json"] = true
		return fmt.Sprintf("json.Number(%q)", v.String()), nil
	case int, int32, int64, float32, float64:
		g.std["encoding/json"] = true
		return fmt.Sprintf("json.Number(%q)", fmt.Sprint(v)), nil
	}
	return "", fmt.Errorf("unsupported default %T", v)
}

// GoName turns an OData identifier into an exported Go identifier.
func GoName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	s := b.String()
	if s == "" || !unicode.IsLetter([]rune(s)[0]) {
		s = "X" + s
	}
	r, size := utf8.DecodeRuneInString(s)
	return cases.Title(language.Und, cases.NoLower).String(string(r)) + s[size:]
}

func packageName(namespace string) string {
	ns := namespace
	if i := strings.LastIndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(ns) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || !unicode.IsLetter(rune(b.String()[0])) {
		return "model"
	}
	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
