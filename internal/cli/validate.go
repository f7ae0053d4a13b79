package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/odatalink/internal/edm"
	"github.com/roach88/odatalink/internal/schemadef"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Namespace    string            `json:"namespace,omitempty"`
	EntityTypes  int               `json:"entity_types"`
	Enums        int               `json:"enums"`
	ComplexTypes int               `json:"complex_types"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one rejected definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func (r ValidationResult) String() string {
	return fmt.Sprintf("schema %s is valid: %d entity types, %d enums, %d complex types",
		r.Namespace, r.EntityTypes, r.Enums, r.ComplexTypes)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate schema definitions without contacting a service",
		Long: `Validate the CUE schema definitions in a directory.

The definitions are compiled and then loaded into a registry, so unknown
property types, duplicate names and entity types without a key are all
reported. No request is sent.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(dir); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Errorf("schema directory: %w", err))
	}
	files, err := schemadef.FindCUEFiles(dir)
	if err == nil {
		formatter.VerboseLog("Found %d CUE file(s) in %s", len(files), dir)
	}

	schema, err := schemadef.Load(dir)
	if err != nil {
		return outputValidationError(formatter, err)
	}
	if _, err := edm.NewRegistryFromSchema(schema); err != nil {
		return outputValidationError(formatter, err)
	}

	return formatter.Success(ValidationResult{
		Valid:        true,
		Namespace:    schema.Namespace,
		EntityTypes:  len(schema.EntityTypes),
		Enums:        len(schema.Enums),
		ComplexTypes: len(schema.ComplexTypes),
	})
}

// outputValidationError reports a rejected schema with its position.
func outputValidationError(formatter *OutputFormatter, err error) error {
	ve := ValidationError{Field: "schema", Message: err.Error()}
	var ce *schemadef.CompileError
	if errors.As(err, &ce) {
		ve.Field = ce.Field
		ve.Message = ce.Message
		if ce.Pos.IsValid() {
			ve.File = ce.Pos.Filename()
			ve.Line = ce.Pos.Line()
		}
	}

	if formatter.Format == "json" {
		if outErr := formatter.Error(ErrCodeSchema, "validation failed", ValidationResult{
			Valid:  false,
			Errors: []ValidationError{ve},
		}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	var b strings.Builder
	b.WriteString(ve.Field)
	if ve.Line > 0 {
		fmt.Fprintf(&b, " (%s:%d)", ve.File, ve.Line)
	}
	b.WriteString(": ")
	b.WriteString(ve.Message)
	if outErr := formatter.Error(ErrCodeSchema, b.String(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "validation failed", err)
}
