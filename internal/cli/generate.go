package cli

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/odatalink/internal/codegen"
	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/schemadef"
)

// GenerateResult describes a generated file.
type GenerateResult struct {
	Output  string `json:"output,omitempty"`
	Package string `json:"package"`
	Source  string `json:"source"`
	Types   int    `json:"entity_types"`
	Bytes   int    `json:"bytes"`
	Code    string `json:"code,omitempty"`
}

func (r GenerateResult) String() string {
	if r.Output == "" {
		return r.Code
	}
	return fmt.Sprintf("wrote %s (package %s, %d entity types, %d bytes) from %s",
		r.Output, r.Package, r.Types, r.Bytes, r.Source)
}

type generateOptions struct {
	output     string
	pkg        string
	from       string
	importRoot string
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate Go accessors for a schema",
		Long: `Generate a Go file holding the schema definitions, one handle table per
entity type and typed accessor wrappers.

The schema is read from --from (a CUE directory or a JSON/YAML file written
by "reflect --output"), else from the schema directory of the configuration,
else by reflecting the service.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVarP(&opts.pkg, "package", "p", "", "package name (default derived from the namespace)")
	cmd.Flags().StringVar(&opts.from, "from", "", "schema source: CUE directory or JSON/YAML schema file")
	cmd.Flags().StringVar(&opts.importRoot, "import-root", codegen.DefaultImportRoot, "import path prefix of the runtime packages")

	return cmd
}

func runGenerate(rootOpts *RootOptions, opts *generateOptions, cmd *cobra.Command) error {
	formatter := rootOpts.formatter(cmd)

	schema, source, err := generateSource(rootOpts, opts, cmd)
	if err != nil {
		return formatter.Report(err)
	}
	formatter.VerboseLog("Generating %d entity types from %s", len(schema.EntityTypes), source)

	code, err := codegen.Emit(schema, codegen.Options{
		Package:    opts.pkg,
		Source:     source,
		ImportRoot: opts.importRoot,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSchema, err)
	}

	result := GenerateResult{
		Output:  opts.output,
		Package: opts.pkg,
		Source:  source,
		Types:   len(schema.EntityTypes),
		Bytes:   len(code),
	}
	if result.Package == "" {
		result.Package = packageOf(code)
	}
	if opts.output == "" {
		result.Code = string(code)
		if formatter.Format != "json" {
			_, err := cmd.OutOrStdout().Write(code)
			return err
		}
		return formatter.Success(result)
	}

	if err := os.MkdirAll(filepath.Dir(opts.output), 0o755); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
	}
	if err := os.WriteFile(opts.output, code, 0o644); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err)
	}
	return formatter.Success(result)
}

// generateSource picks the schema to generate from.
func generateSource(rootOpts *RootOptions, opts *generateOptions, cmd *cobra.Command) (*edm.Schema, string, error) {
	if opts.from != "" {
		info, err := os.Stat(opts.from)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "schema source", err)
		}
		if info.IsDir() {
			s, err := schemadef.Load(opts.from)
			return s, opts.from, err
		}
		s, err := readSchema(opts.from)
		if err != nil {
			return nil, "", WrapExitError(ExitCommandError, "schema source", err)
		}
		return s, opts.from, nil
	}

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg.Schema != "" {
		s, err := schemadef.Load(cfg.Schema)
		return s, cfg.Schema, err
	}
	svc, release, err := rootOpts.connect(cmd, cfg, schemaReflect)
	if err != nil {
		return nil, "", err
	}
	defer release()
	return svc.Registry().Schema(), svc.URL() + "$metadata", nil
}

// packageOf reads the package clause of generated code.
func packageOf(code []byte) string {
	f, err := parser.ParseFile(token.NewFileSet(), "", code, parser.PackageClauseOnly)
	if err != nil {
		return ""
	}
	return f.Name.Name
}
