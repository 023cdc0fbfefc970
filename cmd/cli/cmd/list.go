package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	Long: `List jobs newest first, optionally filtered by status or a command
substring. Pagination is cursor based; pass the printed cursor back
with --cursor to fetch the next page.`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		query, _ := flags.GetString("query")
		cursor, _ := flags.GetString("cursor")
		limit, _ := flags.GetInt("limit")

		client := NewJobClient(viper.GetString("server"))
		result, err := client.ListJobs(status, query, cursor, limit)
		if err != nil {
			printClientError(cmd, err)
			return
		}

		if len(result.Items) == 0 {
			cmd.Println("No jobs found")
			return
		}
		for _, job := range result.Items {
			runner := "-"
			if job.Runner != nil && job.Runner.Selected != "" {
				runner = job.Runner.Selected
			}
			cmd.Printf("%s  %-9s  %-6s  %s  %s\n", job.JobID, job.Status, runner, job.CreatedAt, job.Command)
		}
		if result.NextCursor != "" {
			cmd.Printf("\nNext page: --cursor %s\n", result.NextCursor)
		}
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Start a new attempt for a finished job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewJobClient(viper.GetString("server"))
		result, err := client.RetryJob(args[0])
		if err != nil {
			printClientError(cmd, err)
			return
		}
		cmd.Printf("✓ Retry accepted!\nJob: %s\nAttempt: %s\n", result.JobID, result.AttemptID)
	},
}

func init() {
	flags := listCmd.Flags()
	flags.String("status", "", "Filter by status: queued, running, succeeded, failed")
	flags.StringP("query", "q", "", "Filter by command substring")
	flags.String("cursor", "", "Page cursor from a previous response")
	flags.Int("limit", 0, "Page size (server default when omitted)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(retryCmd)
}
