package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/swdedup/internal/pipeline"
)

func newDedupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Cluster near-duplicate scripts and pick one representative each",
		Long: `Fuzzy-hashes every crawled script with ssdeep, compares all pairs, and
clusters pairs scoring at or above the threshold. Writes the no-hash list,
matching pairs, clusters, and the deduplicated file list to the artifact
directory.`,
		RunE: withApp(func(cmd *cobra.Command, a App) error {
			_, err := dedupStage(cmd, a, dryRun)
			return err
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute clusters without writing or exporting artifacts")
	addDedupFlags(cmd)
	return cmd
}

func addDedupFlags(cmd *cobra.Command) {
	cmd.Flags().Int("threshold", 0, "minimum ssdeep score (0-100) for two scripts to match")
	cmd.Flags().String("artifacts", "", "directory for dedup artifacts")
	configFlag(cmd, "threshold", "similarity.threshold")
	configFlag(cmd, "artifacts", "similarity.artifact_dir")
}

func dedupStage(cmd *cobra.Command, a App, dryRun bool) (pipeline.Report, error) {
	report, err := a.Dedup(cmd.Context(), dryRun)
	if err != nil {
		return report, fmt.Errorf("run dedup: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "dedup: %d files, %d hashed, %d pairs >= %d, %d clusters, %d deduplicated\n",
		report.Files, len(report.Digests), len(report.Pairs), report.Threshold, len(report.Clusters), len(report.Deduplicated))
	return report, nil
}
