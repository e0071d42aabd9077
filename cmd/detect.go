package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Find push-related scripts and the providers they mention",
		RunE:  withApp(detectStage),
	}
	addDetectFlags(cmd)
	return cmd
}

func addDetectFlags(cmd *cobra.Command) {
	cmd.Flags().String("providers", "", "JSON array of known push provider names")
	configFlag(cmd, "providers", "detect.providers_file")
}

func detectStage(cmd *cobra.Command, a App) error {
	res, err := a.Detect(cmd.Context())
	if err != nil {
		return fmt.Errorf("run detect: %w", err)
	}
	s := res.Summary
	fmt.Fprintf(cmd.OutOrStdout(), "detect: %d files, %d push-related, %d with a provider, %d missing\n",
		s.TotalFiles, s.PushRelatedFiles, s.FilesWithAtLeastOneProvider, s.MissingFiles)
	for _, pc := range s.PerProviderCountNonzero {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", pc.Provider, pc.Count)
	}
	return nil
}
