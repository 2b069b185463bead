// Package main provides the devstudio CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/devstudio/cli"
)

var (
	// Global flags
	configPath string
	provider   string
	modelName  string
	baseURL    string
	root       string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "devstudio",
		Short: "Autonomous local-LLM development loop",
		Long: `A CLI tool that lets a local language model build a Python or C++ project
one action at a time: write files, run builds and tests, read the results, repeat.

Everything stays on this machine:
- The model runs on a local runtime (Ollama, llama.cpp server, LM Studio, vLLM)
- Files are confined to the workspace directory
- Every run and iteration is logged to .devstudio/devstudio.db`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./devstudio.yaml if present)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "Model runtime (ollama, openai-compat, ollama-cli)")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "Model name on the runtime")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Runtime endpoint")
	rootCmd.PersistentFlags().StringVarP(&root, "workspace", "w", "", "Project directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show verbose output")

	// Add commands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(cleanCmd())
	rootCmd.AddCommand(unlockCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func globalOptions(cmd *cobra.Command) cli.Options {
	return cli.Options{
		ConfigPath: configPath,
		Provider:   provider,
		Model:      modelName,
		BaseURL:    baseURL,
		Workspace:  root,
		Verbose:    verbose,
		Out:        cmd.OutOrStdout(),
		Logs:       cmd.ErrOrStderr(),
	}
}

func runCmd() *cobra.Command {
	var target string
	var targetLOC int
	var maxIter int
	var runOpts cli.RunOptions

	cmd := &cobra.Command{
		Use:   "run [description]",
		Short: "Build a project from a description",
		Long: `Run the development loop until the project reaches its line target, the model
finishes with a passing build or test, or the iteration cap is hit.

Press Ctrl+C to stop at once. The running command and any pending model call
are cancelled, and the partial result is printed.
Exits non-zero unless the run completed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := globalOptions(cmd)
			opts.Target = target
			opts.TargetLOC = targetLOC
			opts.MaxIterations = maxIter
			return cli.Run(ctx, strings.Join(args, " "), runOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "Target language (python, cpp)")
	cmd.Flags().IntVar(&targetLOC, "loc", 0, "Line-of-code target")
	cmd.Flags().IntVarP(&maxIter, "max-iter", "n", 0, "Maximum iterations")
	cmd.Flags().StringVar(&runOpts.SystemPromptFile, "system-prompt", "", "File replacing the built-in instructions")
	cmd.Flags().BoolVar(&runOpts.SourceOnly, "source-only", false, "Count lines only in the target language's source files")

	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or the iterations of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}
			return cli.History(cmd.Context(), runID, limit, globalOptions(cmd))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum runs to list")

	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models on the local runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Models(cmd.Context(), globalOptions(cmd))
		},
	}
}

func cleanCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Clean(yes, cmd.InOrStdin(), globalOptions(cmd))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	return cmd
}

func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Clear a lock left behind by a crashed run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Unlock(globalOptions(cmd))
		},
	}
}
