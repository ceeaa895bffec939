// Package cli implements the cobra-based CLI commands for devserve.
//
// The serve command is defined in serve.go. This file defines the root
// command that serves as the parent for all subcommands and handles global
// flags, logging setup and exit codes.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shinji-kodama/devserve/internal/logging"
	"github.com/shinji-kodama/devserve/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command.
var (
	// jsonOutput switches error output and log lines to JSON.
	jsonOutput bool

	// verbose enables debug logging, including per-round port probe results.
	verbose bool

	// logger is built from the global flags before any subcommand runs.
	logger = zap.NewNop()
)

// Version, Commit, and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "devserve",
		Short: "Development server with live reload",
		Long: `devserve serves built front-end output with live reload.

Before starting, it picks a live-reload port that is free on every address
the browser might use to reach it (::1, 0.0.0.0 and 127.0.0.1), so the
reload channel never lands on a port another process already holds on one
of them.`,

		// Errors are printed by Execute in text or JSON form.
		SilenceUsage:  true,
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logger = logging.New(verbose, jsonOutput, cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(NewServeCommand())

	return rootCmd
}

// Execute runs the root command and exits with the code mapped from the
// returned error.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err == nil {
		return
	}

	printError(os.Stderr, err)
	os.Exit(int(model.ExitCodeFor(err)))
}

// printError writes err in the format selected by --json. A CLIError is
// shown as its message plus the underlying error as detail, unless it is
// silent.
func printError(w io.Writer, err error) {
	message := err.Error()
	var detail error

	var cliErr *model.CLIError
	if errors.As(err, &cliErr) {
		message = cliErr.Message
		if !cliErr.Silent {
			detail = cliErr.Err
		}
	}

	if jsonOutput {
		errObj := map[string]interface{}{
			"message": message,
			"code":    int(model.ExitCodeFor(err)),
		}
		if detail != nil {
			errObj["detail"] = detail.Error()
		}
		data, _ := json.MarshalIndent(map[string]interface{}{"error": errObj}, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if detail != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, detail)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog logs a debug message. It is only shown with --verbose.
func VerboseLog(format string, args ...interface{}) {
	logger.Sugar().Debugf(format, args...)
}
