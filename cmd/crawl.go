package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Download every outstanding URL into the slot corpus",
		Long: `Fetches each URL in the URL list that the crawl index has not resolved yet.
Successes are written to {output_dir}/{slot}.js and recorded in the index;
failures are recorded so they are not retried. Interrupting the command is
safe: the next run resumes where this one stopped.`,
		RunE: withApp(runCrawl),
	}
	addCrawlFlags(cmd)
	return cmd
}

func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().String("urls", "", "JSON array of URLs to crawl")
	cmd.Flags().String("index", "", "crawl index path")
	cmd.Flags().String("output", "", "directory for downloaded scripts")
	cmd.Flags().Int("workers", 0, "number of concurrent fetches")
	cmd.Flags().Float64("rps", 0, "per-host request rate limit (0 disables)")
	configFlag(cmd, "urls", "crawler.urls_file")
	configFlag(cmd, "index", "crawler.index_path")
	configFlag(cmd, "output", "crawler.output_dir")
	configFlag(cmd, "workers", "crawler.workers")
	configFlag(cmd, "rps", "crawler.per_host_rps")
}

func runCrawl(cmd *cobra.Command, a App) error {
	res, err := crawlStage(cmd, a)
	if errors.Is(err, context.Canceled) {
		a.Logger().Warn("crawl interrupted; rerun to resume", zap.Int("total_successes", res.Total))
		return nil
	}
	return err
}

func crawlStage(cmd *cobra.Command, a App) (crawler.Result, error) {
	urls, err := crawler.LoadCandidates(a.Config().Crawler.URLsFile)
	if err != nil {
		return crawler.Result{}, err
	}
	res, err := a.Crawl(cmd.Context(), urls)
	fmt.Fprintf(cmd.OutOrStdout(), "crawl: %d succeeded, %d failed, %d skipped, %d total successes (%s)\n",
		res.Succeeded, res.Failed, res.Skipped, res.Total, humanize.Bytes(uint64(res.Bytes)))
	if err != nil {
		return res, fmt.Errorf("run crawler: %w", err)
	}
	return res, nil
}
