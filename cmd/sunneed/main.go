// Command sunneed runs the position-information broker.
//
// The daemon loads a fixed set of devices, elects the best active one as the
// position-information provider (PIP) and answers local clients over a Unix
// socket. A background monitor keeps the election current.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "/etc/sunneed/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(execute(ctx, os.Args, os.Stdout, os.Stderr))
}

// usageError is a command-line mistake, reported as "<prog>: <msg>".
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// execute parses args and runs the selected command.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM
//   - args: Full argument vector; args[0] names the program in help and diagnostics
//   - stdout, stderr: Output streams
//
// Returns:
//   - int: Process exit status (0 success, 1 failure)
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	prog := "sunneed"
	if len(args) > 0 && args[0] != "" {
		prog = filepath.Base(args[0])
	}

	root := newRootCmd(prog)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) > 1 {
		root.SetArgs(args[1:])
	} else {
		root.SetArgs([]string{})
	}

	if err := root.ExecuteContext(ctx); err != nil {
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "%s: %s\n", prog, ue.msg)
		} else {
			fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		}
		return 1
	}
	return 0
}

func newRootCmd(prog string) *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)

	root := &cobra.Command{
		Use:   prog + " [flags]",
		Short: "Position-information broker",
		Long: prog + " elects the best available position source among the configured\n" +
			"devices and serves it to local clients over a Unix socket.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s)\n", prog, version, commit, date)
				return nil
			}
			return run(cmd.Context(), resolveConfigPath(configPath), cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (default $SUNNEED_CONFIG or "+defaultConfigPath+")")
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "print version and exit")
	root.SetFlagErrorFunc(flagError)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newQueryCmd(&configPath))
	return root
}

// flagError rewrites pflag parse errors into the daemon's diagnostics.
func flagError(_ *cobra.Command, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "unknown flag: "):
		return &usageError{msg: "illegal option " + strings.TrimPrefix(msg, "unknown flag: ")}
	case strings.HasPrefix(msg, "unknown shorthand flag: "):
		return &usageError{msg: "illegal option " + shorthand(msg)}
	case strings.HasPrefix(msg, "flag needs an argument: "):
		rest := strings.TrimPrefix(msg, "flag needs an argument: ")
		if strings.HasPrefix(rest, "'") {
			rest = shorthand(msg)
		}
		return &usageError{msg: "expected argument for option " + rest}
	}
	return &usageError{msg: msg}
}

// shorthand extracts "-x" from pflag's "...: 'x' in -xyz" messages.
func shorthand(msg string) string {
	i := strings.Index(msg, "'")
	if i < 0 || i+2 >= len(msg) || msg[i+2] != '\'' {
		return msg
	}
	return "-" + msg[i+1:i+2]
}

// resolveConfigPath returns the flag value, then $SUNNEED_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SUNNEED_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
