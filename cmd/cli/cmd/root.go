package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "runboxctl",
	Short: "Runboxctl is a command line tool for interacting with the runbox orchestrator",
	Long: `runboxctl is the command-line interface for the runbox sandboxed job orchestrator.

Runbox accepts a shell command plus an execution policy, runs it in a
disposable isolated worker (shell, docker, or vm), and records the job
lifecycle, logs, and produced artifacts.

Common workflows:

  Submit a command:
    runboxctl submit --command "echo hello"

  Submit with a policy:
    runboxctl submit --command "curl https://example.com" --allow example.com --time-limit 60

  Check job status:
    runboxctl get <job-id>

  Stream logs:
    runboxctl logs <job-id> --follow

  List artifacts and download one:
    runboxctl artifacts <job-id>
    runboxctl artifacts <job-id> out.txt -o out.txt

Configuration:
  Set the API endpoint via a flag, environment variable, or config file:
    RUNBOX_SERVER    API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".runboxctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".runboxctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "RUNBOX_VARNAME"
	viper.SetEnvPrefix("RUNBOX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.runboxctl.yaml)")

	rootCmd.PersistentFlags().StringP("server", "s", "http://localhost:6161", "Runbox orchestrator URL")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}
