package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const topCandidates = 10

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Propose unknown push providers from scripts no known provider matched",
		Long: `Reads the deduplicated list and the detect stage's file-to-providers.json,
extracts URLs from push-related scripts with no known provider, and ranks
their domains. Run detect first.`,
		RunE: withApp(discoverStage),
	}
	return cmd
}

func discoverStage(cmd *cobra.Command, a App) error {
	disc, err := a.Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("run discover: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "discover: %d push-related files without a known provider, %d candidate domains\n",
		disc.PushRelatedNoProviderFiles, len(disc.Candidates))
	for _, c := range disc.Candidates[:min(topCandidates, len(disc.Candidates))] {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", c.Domain, c.Count)
	}
	return nil
}
