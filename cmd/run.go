package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl, dedup, detect and discover in one pass",
		Long: `Runs crawl, dedup, detect and discover in order. An interrupted crawl stops
the run before dedup, so artifacts always reflect a finished crawl.`,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			if _, err := crawlStage(cmd, a); err != nil {
				return err
			}
			if _, err := dedupStage(cmd, a, false); err != nil {
				return err
			}
			if err := detectStage(cmd, a); err != nil {
				return err
			}
			return discoverStage(cmd, a)
		}),
	}
	addCrawlFlags(cmd)
	addDedupFlags(cmd)
	addDetectFlags(cmd)
	return cmd
}
