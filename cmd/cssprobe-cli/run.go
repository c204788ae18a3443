package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/use-agent/cssprobe/config"
	"github.com/use-agent/cssprobe/crawl"
	"github.com/use-agent/cssprobe/engine"
	"github.com/use-agent/cssprobe/models"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Audit selectors against a set of pages",
		Long: `Run crawls the given pages and prints selector usage.

Pages can be URLs, file paths or HTML strings. Links found on --crawl pages
are followed when they stay on the same origin; --include pages are matched
without following links. An --exclude entry ending in '*' skips every link
under that path.

Examples:
  # Crawl a site and check two selectors
  cssprobe-cli run --crawl https://example.com/ -s .btn -s ".nav a:hover"

  # Visit every page a second time with a session cookie
  cssprobe-cli run --crawl https://example.com/ --cookie sessionid=abc --selectors-file used.txt

  # Use a YAML job file
  cssprobe-cli run --job audit.yaml --format text

Job file example:
  pages:
    crawl: ["https://example.com/"]
    exclude: ["https://example.com/admin/*"]
  selectors: [".btn", "a:hover"]
  whitelist: [".js-toggled"]`,
		Args: cobra.NoArgs,
		RunE: runRunCmd,
	}

	cmd.Flags().StringP("job", "j", "", "YAML job file")
	cmd.Flags().StringArray("crawl", nil, "Seed page whose same-origin links are followed (repeatable)")
	cmd.Flags().StringArray("include", nil, "Page matched without following links (repeatable)")
	cmd.Flags().StringArray("exclude", nil, "Page never visited; trailing '*' makes a path prefix (repeatable)")
	cmd.Flags().StringArrayP("selector", "s", nil, "CSS selector to count (repeatable)")
	cmd.Flags().String("selectors-file", "", "File with one selector per line")
	cmd.Flags().StringArray("whitelist", nil, "Selector to leave out of the report (repeatable)")
	cmd.Flags().String("cookie", "", "Cookie header value for the authenticated pass")
	cmd.Flags().StringP("format", "f", "json", "Output format: json or text")
	cmd.Flags().IntP("concurrency", "c", crawl.DefaultConcurrency, "Pages processed at once")
	cmd.Flags().Duration("fetch-timeout", 30*time.Second, "Timeout for each page fetch (0 disables)")
	cmd.Flags().Bool("strict-status", false, "Treat non-2xx HTTP responses as failed fetches")
	cmd.Flags().Bool("respect-robots", false, "Skip pages disallowed by robots.txt")

	return cmd
}

func runRunCmd(cmd *cobra.Command, _ []string) error {
	job, err := jobFromFlags(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", format)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := config.NewLogger(config.LogConfig{Level: level, Format: "text"}, cmd.ErrOrStderr())

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	fetchTimeout, _ := cmd.Flags().GetDuration("fetch-timeout")
	strict, _ := cmd.Flags().GetBool("strict-status")
	robots, _ := cmd.Flags().GetBool("respect-robots")

	fetcher := engine.NewDefaultPageFetcher(fetchTimeout, engine.HTTPOptions{
		UserAgent:     config.DefaultUserAgent,
		StrictStatus:  strict,
		RespectRobots: robots,
	}, &engine.FileOptions{})
	crawler := crawl.New(fetcher, crawl.WithConcurrency(concurrency), crawl.WithLogger(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := crawler.Run(ctx, job.Pages, job.Cookie, job.Selectors, job.Whitelist)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	resp := models.NewAuditResponse(result)
	if format == "text" {
		return writeText(cmd.OutOrStdout(), resp)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// jobFromFlags loads --job, if given, and merges the page and selector flags
// on top of it.
func jobFromFlags(cmd *cobra.Command) (*config.Job, error) {
	job := &config.Job{}
	if path, _ := cmd.Flags().GetString("job"); path != "" {
		loaded, err := config.LoadJobFile(path)
		if err != nil {
			if errors.Is(err, config.ErrJobNotFound) {
				return nil, fmt.Errorf("job file %s does not exist", path)
			}
			return nil, err
		}
		job = loaded
	}

	crawlPages, _ := cmd.Flags().GetStringArray("crawl")
	include, _ := cmd.Flags().GetStringArray("include")
	exclude, _ := cmd.Flags().GetStringArray("exclude")
	selectors, _ := cmd.Flags().GetStringArray("selector")
	whitelist, _ := cmd.Flags().GetStringArray("whitelist")

	job.Pages.Crawl = append(job.Pages.Crawl, crawlPages...)
	job.Pages.Include = append(job.Pages.Include, include...)
	job.Pages.Exclude = append(job.Pages.Exclude, exclude...)
	job.Selectors = append(job.Selectors, selectors...)
	job.Whitelist = append(job.Whitelist, whitelist...)

	if path, _ := cmd.Flags().GetString("selectors-file"); path != "" {
		extra, err := config.LoadSelectorsFile(path)
		if err != nil {
			return nil, err
		}
		job.Selectors = append(job.Selectors, extra...)
	}
	if cookie, _ := cmd.Flags().GetString("cookie"); cookie != "" {
		job.Cookie = cookie
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// writeText prints a count table followed by unused and ignored selectors.
func writeText(w io.Writer, resp *models.AuditResponse) error {
	selectors := make([]string, 0, len(resp.Used))
	for sel := range resp.Used {
		selectors = append(selectors, sel)
	}
	sort.Strings(selectors)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SELECTOR\tMATCHES")
	for _, sel := range selectors {
		fmt.Fprintf(tw, "%s\t%d\n", sel, resp.Used[sel])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d unused\n", len(resp.Unused))
	for _, sel := range resp.Unused {
		fmt.Fprintf(w, "  %s\n", sel)
	}

	if len(resp.Ignored) > 0 {
		ignored := make([]string, 0, len(resp.Ignored))
		for sel := range resp.Ignored {
			ignored = append(ignored, sel)
		}
		sort.Strings(ignored)
		fmt.Fprintf(w, "\n%d ignored\n", len(ignored))
		for _, sel := range ignored {
			fmt.Fprintf(w, "  %s\n", sel)
		}
	}
	return nil
}
