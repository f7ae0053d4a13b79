package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/service"
)

// ReflectResult summarizes a reflected service.
type ReflectResult struct {
	URL         string        `json:"url"`
	Version     string        `json:"version,omitempty"`
	Dialect     string        `json:"dialect"`
	Namespace   string        `json:"namespace"`
	EntityTypes []TypeSummary `json:"entity_types"`
	Enums       int           `json:"enums"`
	Complex     int           `json:"complex_types"`
	Skipped     []string      `json:"skipped,omitempty"`
	Output      string        `json:"output,omitempty"`
}

// TypeSummary describes one entity type.
type TypeSummary struct {
	Name       string   `json:"name"`
	EntitySet  string   `json:"entity_set,omitempty"`
	Keys       []string `json:"keys"`
	Properties int      `json:"properties"`
	Navigation int      `json:"navigation"`
}

func (r ReflectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (protocol %s, dialect %s)\n", r.URL, r.Version, r.Dialect)
	fmt.Fprintf(&b, "namespace %s: %d entity types, %d enums, %d complex types\n",
		r.Namespace, len(r.EntityTypes), r.Enums, r.Complex)
	for _, t := range r.EntityTypes {
		set := t.EntitySet
		if set == "" {
			set = "-"
		}
		fmt.Fprintf(&b, "  %-24s %-24s key(%s) %d properties, %d navigation\n",
			t.Name, set, strings.Join(t.Keys, ","), t.Properties, t.Navigation)
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  skipped %s: unsupported type\n", s)
	}
	if r.Output != "" {
		fmt.Fprintf(&b, "schema written to %s\n", r.Output)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewReflectCommand creates the reflect command.
func NewReflectCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Read the service $metadata document",
		Long: `Read the $metadata document of the configured service and summarize the
entity types it declares.

With a schema cache configured the document is served from the cache when
present; --refresh always asks the service and updates the cache. With
--output the neutral schema is written as JSON, or YAML for .yaml/.yml files.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReflect(rootOpts, cmd, output, refresh)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to this file")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the schema cache")

	return cmd
}

func runReflect(opts *RootOptions, cmd *cobra.Command, output string, refresh bool) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Report(err)
	}
	mode := schemaReflect
	if refresh {
		mode = schemaRefresh
	}
	svc, release, err := opts.connect(cmd, cfg, mode)
	if err != nil {
		return formatter.Report(err)
	}
	defer release()

	result := summarize(svc)
	formatter.VerboseLog("Reflected %d entity types from %s", len(result.EntityTypes), svc.URL())

	if output != "" {
		if err := writeSchema(output, svc.Registry().Schema()); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
		}
		result.Output = output
	}
	return formatter.Success(result)
}

func summarize(svc *service.Service) ReflectResult {
	schema := svc.Registry().Schema()
	r := ReflectResult{
		URL:       svc.URL(),
		Version:   svc.Version(),
		Dialect:   string(svc.Dialect()),
		Namespace: schema.Namespace,
		Enums:     len(schema.Enums),
		Complex:   len(schema.ComplexTypes),
	}
	if doc := svc.Document(); doc != nil {
		r.Skipped = doc.Skipped
	}
	for _, et := range svc.Registry().EntityTypes() {
		r.EntityTypes = append(r.EntityTypes, TypeSummary{
			Name:       et.Name(),
			EntitySet:  et.EntitySet(),
			Keys:       et.KeyNames(),
			Properties: len(et.Structural()),
			Navigation: len(et.Navigations()),
		})
	}
	return r
}

// writeSchema stores s as YAML or JSON depending on the file extension.
func writeSchema(path string, s *edm.Schema) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(s)
	default:
		data, err = json.MarshalIndent(s, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}

// readSchema loads a schema written by writeSchema.
func readSchema(path string) (*edm.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	s := &edm.Schema{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, s)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	return s, nil
}
