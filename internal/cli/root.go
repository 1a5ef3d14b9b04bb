package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "feedgen",
	Short: "Personalized BlueSky feed generator",
	Long: "feedgen ingests the BlueSky firehose, scores posts with a retrainable\n" +
		"relevance model fed by your likes, and serves ranked feed skeletons.",
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(publishCmd)
}
