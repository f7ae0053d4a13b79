package cli

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/odatalink/internal/query"
	"github.com/roach88/odatalink/internal/service"
)

// QueryResult is the outcome of the query command.
type QueryResult struct {
	URL     string           `json:"url"`
	Count   *int64           `json:"count,omitempty"`
	Results []map[string]any `json:"results"`
}

func (r QueryResult) String() string {
	var b strings.Builder
	for _, row := range r.Results {
		line, err := json.Marshal(row)
		if err != nil {
			fmt.Fprintf(&b, "%v\n", row)
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	if r.Count != nil {
		fmt.Fprintf(&b, "%d of %d\n", len(r.Results), *r.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// CountResult is the outcome of the count command.
type CountResult struct {
	Set   string `json:"set"`
	Count int64  `json:"count"`
}

func (r CountResult) String() string { return fmt.Sprint(r.Count) }

type queryOptions struct {
	where       []string
	selects     []string
	expand      []string
	orderBy     []string
	top         int
	skip        int
	count       bool
	skipInvalid bool
	dryRun      bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &queryOptions{}

	cmd := &cobra.Command{
		Use:   "query <entity-set>",
		Short: "Query an entity set",
		Long: `Query an entity set and print the matching entities, one JSON object per
line.

Conditions given with --where are joined with "and". Each has the form
Property<op>value with op one of = != > >= < <=; the value is read as JSON
when it parses as JSON and as a plain string otherwise. Paths into complex
or related properties use "/".

  odatalink query Orders --where ShipCity=Berlin --orderby "OrderDate desc" --top 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, opts, cmd, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.where, "where", "w", nil, "condition Property<op>value (repeatable)")
	cmd.Flags().StringSliceVar(&opts.selects, "select", nil, "properties to return")
	cmd.Flags().StringSliceVar(&opts.expand, "expand", nil, "navigation paths to expand inline")
	cmd.Flags().StringArrayVar(&opts.orderBy, "orderby", nil, `sort key "Property [asc|desc]" (repeatable)`)
	cmd.Flags().IntVar(&opts.top, "top", -1, "maximum number of results")
	cmd.Flags().IntVar(&opts.skip, "skip", 0, "number of results to skip")
	cmd.Flags().BoolVar(&opts.count, "count", false, "also report the total number of matches")
	cmd.Flags().BoolVar(&opts.skipInvalid, "skip-invalid", false, "leave out records that cannot be read")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the request URL without sending it")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	var where []string

	cmd := &cobra.Command{
		Use:           "count <entity-set>",
		Short:         "Count the entities of a set",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(rootOpts, where, cmd, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "condition Property<op>value (repeatable)")

	return cmd
}

func runQuery(rootOpts *RootOptions, opts *queryOptions, cmd *cobra.Command, set string) error {
	formatter := rootOpts.formatter(cmd)

	svc, release, err := connectFromFlags(rootOpts, cmd)
	if err != nil {
		return formatter.Report(err)
	}
	defer release()

	q, err := buildQuery(svc, set, opts)
	if err != nil {
		return formatter.Report(err)
	}
	u, err := q.URL()
	if err != nil {
		return formatter.Report(err)
	}
	formatter.VerboseLog("GET %s", u)
	if opts.dryRun {
		return formatter.Success(u)
	}
	result := QueryResult{URL: u, Results: []map[string]any{}}

	n := 0
	for page, err := range q.Pages(cmd.Context()) {
		if err != nil {
			return formatter.Report(err)
		}
		if page.Count != nil && result.Count == nil {
			result.Count = page.Count
		}
		for _, e := range page.Entities {
			if opts.top >= 0 && n >= opts.top {
				break
			}
			row, err := service.WireRow(cmd.Context(), e)
			if err != nil {
				return formatter.Report(err)
			}
			result.Results = append(result.Results, row)
			n++
		}
		if opts.top >= 0 && n >= opts.top {
			break
		}
	}
	return formatter.Success(result)
}

func runCount(rootOpts *RootOptions, where []string, cmd *cobra.Command, set string) error {
	formatter := rootOpts.formatter(cmd)

	svc, release, err := connectFromFlags(rootOpts, cmd)
	if err != nil {
		return formatter.Report(err)
	}
	defer release()

	q, err := buildQuery(svc, set, &queryOptions{where: where, top: -1})
	if err != nil {
		return formatter.Report(err)
	}
	n, err := q.Count(cmd.Context())
	if err != nil {
		return formatter.Report(err)
	}
	return formatter.Success(CountResult{Set: set, Count: n})
}

func connectFromFlags(rootOpts *RootOptions, cmd *cobra.Command) (*service.Service, func(), error) {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return nil, func() {}, err
	}
	return rootOpts.connect(cmd, cfg, schemaFromConfig)
}

func buildQuery(svc *service.Service, set string, opts *queryOptions) (query.Query, error) {
	return svc.Build(set, service.Criteria{
		Where:   opts.where,
		Select:  opts.selects,
		Expand:  opts.expand,
		OrderBy: opts.orderBy,
		Top:     opts.top,
		Skip:    opts.skip,
		Count:   opts.count,
		Lenient: opts.skipInvalid,
	})
}
