package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// CacheEntry describes one cached schema.
type CacheEntry struct {
	URL         string    `json:"url"`
	Version     string    `json:"version,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	EntityTypes int       `json:"entity_types"`
	CachedAt    time.Time `json:"cached_at"`
}

// CacheListResult is the outcome of cache list.
type CacheListResult struct {
	Path    string       `json:"path"`
	Entries []CacheEntry `json:"entries"`
}

func (r CacheListResult) String() string {
	if len(r.Entries) == 0 {
		return fmt.Sprintf("%s: no cached schemas", r.Path)
	}
	var b strings.Builder
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "%s\t%s\t%d entity types\t%s\t%s\n",
			e.URL, e.Version, e.EntityTypes, e.CachedAt.UTC().Format(time.RFC3339), shortFingerprint(e.Fingerprint))
	}
	return strings.TrimRight(b.String(), "\n")
}

// CacheInvalidateResult is the outcome of cache invalidate.
type CacheInvalidateResult struct {
	URL     string `json:"url"`
	Removed bool   `json:"removed"`
}

func (r CacheInvalidateResult) String() string {
	if r.Removed {
		return fmt.Sprintf("removed %s", r.URL)
	}
	return fmt.Sprintf("%s was not cached", r.URL)
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the schema cache",
		Long: `Inspect the schema cache named by cache.path in the configuration.

Reflected schemas are stored per service URL and reused until invalidated
or refreshed with "reflect --refresh".`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List cached schemas",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheList(rootOpts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "invalidate [service-url]",
		Short:         "Drop the cached schema of a service",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheInvalidate(rootOpts, cmd, args)
		},
	})

	return cmd
}

func runCacheList(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Report(err)
	}
	store, err := openCache(cfg)
	if err != nil {
		return formatter.Report(err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSchemaCache, err)
	}
	result := CacheListResult{Path: cfg.Cache.Path, Entries: []CacheEntry{}}
	for _, e := range entries {
		n := 0
		if e.Schema != nil {
			n = len(e.Schema.EntityTypes)
		}
		result.Entries = append(result.Entries, CacheEntry{
			URL:         e.ServiceURL,
			Version:     e.Version,
			Fingerprint: e.Fingerprint,
			EntityTypes: n,
			CachedAt:    e.CachedAt,
		})
	}
	return formatter.Success(result)
}

func runCacheInvalidate(opts *RootOptions, cmd *cobra.Command, args []string) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Report(err)
	}
	url := cfg.Service.URL
	if len(args) == 1 {
		url = args[0]
	}
	if url == "" {
		return formatter.Report(NewExitError(ExitCommandError, "no service URL: pass one or set service.url"))
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}

	store, err := openCache(cfg)
	if err != nil {
		return formatter.Report(err)
	}
	defer store.Close()

	removed, err := store.Invalidate(cmd.Context(), url)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeSchemaCache, err)
	}
	return formatter.Success(CacheInvalidateResult{URL: url, Removed: removed})
}
