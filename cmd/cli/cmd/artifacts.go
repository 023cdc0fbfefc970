package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts [job_id] [name]",
	Short: "List or download job artifacts",
	Long: `With one argument, print the artifact manifest of a job. With a
second argument, download that artifact to the current directory or
to the path given with --output.

Example:
  runboxctl artifacts job_01J8...
  runboxctl artifacts job_01J8... build/report.json -o report.json`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		client := NewJobClient(viper.GetString("server"))

		if len(args) == 1 {
			result, err := client.ListArtifacts(jobID)
			if err != nil {
				printClientError(cmd, err)
				return
			}
			if len(result.ArtifactsManifest) == 0 {
				cmd.Println("No artifacts recorded")
				return
			}
			for _, artifact := range result.ArtifactsManifest {
				cmd.Printf("%-40s  %10d bytes  %-24s  sha256:%s\n",
					artifact.Name, artifact.SizeBytes, artifact.ContentType, artifact.SHA256)
			}
			return
		}

		name := args[1]
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = filepath.Base(name)
		}

		f, err := os.Create(output)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer f.Close()

		n, err := client.DownloadArtifact(jobID, name, f)
		if err != nil {
			printClientError(cmd, err)
			os.Remove(output)
			return
		}
		cmd.Printf("✓ Downloaded %s (%d bytes) to %s\n", name, n, output)
	},
}

func init() {
	artifactsCmd.Flags().StringP("output", "o", "", "Destination path for a download")

	rootCmd.AddCommand(artifactsCmd)
}
