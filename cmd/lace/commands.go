package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildRootCmd assembles the command tree. Separated from main() so it can
// be constructed without side effects, mirroring the teacher's layout.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lace",
		Short:        "lace - an event-sourced agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildSendCmd(),
		buildResumeCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}

func buildSendCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to a fresh thread and stream the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), opts, args[0])
		},
	}
	bindRunFlags(cmd, &opts)
	return cmd
}

func buildResumeCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "resume <message>",
		Short: "Send a message to the most recently touched thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.resume = true
			return runSend(cmd.Context(), opts, args[0])
		},
	}
	bindRunFlags(cmd, &opts)
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a thread's token budget status without sending a message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), opts)
		},
	}
	bindRunFlags(cmd, &opts)
	return cmd
}

// runOptions collects the flags shared by send/resume/status.
type runOptions struct {
	configPath   string
	dbPath       string
	providerName string
	model        string
	threadId     string
	resume       bool
}

func bindRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file (defaults applied if omitted)")
	cmd.Flags().StringVar(&opts.dbPath, "db", "lace.db", "Path to the SQLite thread store file")
	cmd.Flags().StringVar(&opts.providerName, "provider", "anthropic", "Model provider: anthropic, openai, or fake")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model name override (defaults to the provider's default)")
	cmd.Flags().StringVar(&opts.threadId, "thread", "", "Thread id to target (defaults to a fresh root thread)")
}
