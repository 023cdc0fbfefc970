package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var follow bool

var logsCmd = &cobra.Command{
	Use:   "logs [job_id]",
	Short: "Fetch or follow logs for a job",
	Long: `Fetch captured log lines for the latest attempt of a job, or a
specific attempt with --attempt. With --follow the command keeps
polling until interrupted.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID := args[0]
		flags := cmd.Flags()
		attemptID, _ := flags.GetString("attempt")
		tail, _ := flags.GetInt("tail")

		// Trap Ctrl+C to exit gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			os.Exit(0)
		}()

		client := NewJobClient(viper.GetString("server"))
		var afterSeq int64 = 0

		for {
			result, err := client.GetLogs(jobID, attemptID, afterSeq, tail)
			if err != nil {
				if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusConflict && follow {
					// No lines captured yet, keep waiting.
					time.Sleep(time.Second)
					continue
				}
				printClientError(cmd, err)
				return
			}

			for _, line := range result.Lines {
				cmd.Printf("%s [%s] %s\n", line.TS, line.Level, line.Message)
			}
			if cursor, err := strconv.ParseInt(result.Cursor, 10, 64); err == nil && cursor > afterSeq {
				afterSeq = cursor
			}

			// A tail request is a one-shot view of the end of the
			// buffer; later iterations page by sequence instead.
			if tail > 0 && !follow {
				break
			}
			tail = 0

			if !follow {
				if len(result.Lines) == 0 {
					break
				}
				// A full page may mean more lines are buffered.
				continue
			}
			time.Sleep(time.Second)
		}
	},
}

func init() {
	flags := logsCmd.Flags()
	flags.String("attempt", "", "Read a specific attempt instead of the latest")
	flags.Int("tail", 0, "Return only the last N lines")
	flags.BoolVarP(&follow, "follow", "f", false, "Keep polling for new lines")

	rootCmd.AddCommand(logsCmd)
}
