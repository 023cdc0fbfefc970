package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"runbox/pkg/api"
)

var getCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Get status and details of a job",
	Long:  `Retrieve the full record of a job: its status, runner decision, attempt history with exit codes, and the artifact manifest.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("server"))
		result, err := client.GetJob(args[0])
		if err != nil {
			printClientError(cmd, err)
			return
		}

		job := result.Job
		cmd.Printf("Job:     %s\n", job.JobID)
		cmd.Printf("Status:  %s\n", job.Status)
		cmd.Printf("Command: %s\n", job.Command)
		cmd.Printf("Created: %s\n", job.CreatedAt)
		if job.CompletedAt != nil {
			cmd.Printf("Done:    %s\n", *job.CompletedAt)
		}
		if job.Runner != nil && job.Runner.Selected != "" {
			cmd.Printf("Runner:  %s (%s)\n", job.Runner.Selected, job.Runner.SelectionReason)
		}

		if len(job.Attempts) > 0 {
			cmd.Println("\nAttempts:")
			for i, attempt := range job.Attempts {
				cmd.Printf("  %d. %s  %s%s\n", i+1, attempt.AttemptID, attempt.Status, attemptDetail(attempt))
			}
		}

		if len(job.ArtifactsManifest) > 0 {
			cmd.Println("\nArtifacts:")
			for _, artifact := range job.ArtifactsManifest {
				cmd.Printf("  %s  %d bytes  %s\n", artifact.Name, artifact.SizeBytes, artifact.ContentType)
			}
		}
	},
}

func attemptDetail(attempt api.Attempt) string {
	switch {
	case attempt.ExitCode != nil:
		return "  exit=" + strconv.Itoa(*attempt.ExitCode)
	case attempt.ErrorSummary != nil:
		return "  " + *attempt.ErrorSummary
	default:
		return ""
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
}
