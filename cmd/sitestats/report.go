package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/walinekit/sitestats/internal/report"
	"github.com/walinekit/sitestats/internal/stats"
)

var reportCmd = &cobra.Command{
	Use:   "report [page.html]",
	Short: "Show the pageview distribution across paths",
	Long: `Query the pageviews of every path on a page and summarize their
distribution: total, mean, standard deviation, median, 90th percentile and the
most viewed paths. Reports always query the server and are never cached.

Examples:
  sitestats report --url https://blog.example/archives/
  sitestats report public/archives/index.html --url https://blog.example/archives/ --top 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

var (
	reportURL  string
	reportTop  int
	reportJSON bool
)

func init() {
	reportCmd.Flags().StringVar(&reportURL, "url", "", "URL of the page")
	reportCmd.Flags().IntVar(&reportTop, "top", report.DefaultTop, "number of paths to list")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	var file string
	if len(args) == 1 {
		file = args[0]
	}
	page, err := loadPage(ctx, file, reportURL)
	if err != nil {
		return err
	}

	client, err := newClient(ctx, cfg, logger, stats.NewNoop())
	if err != nil {
		return err
	}
	defer client.Close()

	counts, err := client.Breakdown(ctx, page)
	if err != nil {
		return fmt.Errorf("querying pageviews: %w", err)
	}

	summary := report.Summarize(counts, reportTop)
	if reportJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return report.WriteMarkdown(os.Stdout, summary)
}
