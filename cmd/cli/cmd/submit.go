package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"runbox/pkg/api"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a command for sandboxed execution",
	Long: `Submit a shell command together with an execution policy. The
orchestrator validates the policy, selects a runner, and schedules the
command in a disposable work area.

Example:
  runboxctl submit --command "echo hello"
  runboxctl submit --command "curl https://example.com" --allow example.com --time-limit 60
  runboxctl submit --command "make build" --runner docker --cpu 500 --ram 256`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		command, _ := flags.GetString("command")
		allow, _ := flags.GetStringSlice("allow")
		timeLimit, _ := flags.GetInt("time-limit")
		cpu, _ := flags.GetInt("cpu")
		ram, _ := flags.GetInt("ram")
		pids, _ := flags.GetInt("pids")
		runnerName, _ := flags.GetString("runner")
		isolation, _ := flags.GetString("isolation")

		if command == "" {
			cmd.Println("Error: --command is required")
			return
		}

		req := api.CreateJobRequest{Command: command}
		if len(allow) > 0 || timeLimit > 0 || cpu > 0 || ram > 0 || pids > 0 {
			req.Policy = &api.Policy{AllowlistDomains: allow}
			if timeLimit > 0 || cpu > 0 || ram > 0 || pids > 0 {
				req.Policy.Limits = &api.PolicyLimits{
					TimeLimitSeconds: timeLimit,
					CPULimitMillis:   cpu,
					RAMLimitMB:       ram,
					PIDLimit:         pids,
				}
			}
		}
		if runnerName != "" || isolation != "" {
			req.Runner = &api.RunnerRequest{Requested: runnerName, Isolation: isolation}
		}

		client := NewJobClient(viper.GetString("server"))
		result, err := client.SubmitJob(req)
		if err != nil {
			printClientError(cmd, err)
			return
		}

		cmd.Printf("✓ Job submitted!\nID: %s\nStatus: %s\n", result.Job.JobID, result.Job.Status)
		if result.Job.Runner != nil && result.Job.Runner.Selected != "" {
			cmd.Printf("Runner: %s (%s)\n", result.Job.Runner.Selected, result.Job.Runner.SelectionReason)
		}
	},
}

func printClientError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d, %s): %s\n", apiErr.StatusCode, apiErr.Code, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

func init() {
	flags := submitCmd.Flags()
	flags.StringP("command", "c", "", "Shell command to execute (required)")
	flags.StringSlice("allow", []string{}, "Domain to allow network access to (repeatable)")
	flags.Int("time-limit", 0, "Wall clock limit in seconds (optional)")
	flags.Int("cpu", 0, "CPU limit in millicores (optional)")
	flags.Int("ram", 0, "Memory limit in MB (optional)")
	flags.Int("pids", 0, "Process count limit (optional)")
	flags.String("runner", "", "Preferred runner: shell, docker, or vm (optional)")
	flags.String("isolation", "", "Required isolation: none, moderate, or kernel (optional)")

	rootCmd.AddCommand(submitCmd)
}
