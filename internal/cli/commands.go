package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"

	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitConfig      = 2
	ExitCheckFailed = 3
)

var initOnce sync.Once

// Execute runs the root command with args.
func Execute(args []string) error {
	InitCLI()
	RootCmd.SetArgs(args)
	return RootCmd.Execute()
}

// ExecuteWithErrorCode runs Execute, prints any error to stderr and returns
// the process exit code for it.
func ExecuteWithErrorCode(args []string) int {
	err := Execute(args)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var (
		invalid    *errors.ErrInvalidInput
		parse      *errors.ErrConfigParse
		validation *errors.ErrConfigValidation
	)
	switch {
	case err == nil:
		return ExitOK
	case stderrors.Is(err, errHealthCheckFailed):
		return ExitCheckFailed
	case stderrors.As(err, &invalid), stderrors.As(err, &parse), stderrors.As(err, &validation):
		return ExitConfig
	default:
		return ExitError
	}
}

// GetRootCommand returns the root command with every subcommand registered.
func GetRootCommand() *cobra.Command {
	InitCLI()
	return RootCmd
}

// InitCLI registers global flags once. Subcommands register themselves in init.
func InitCLI() {
	initOnce.Do(InitRoot)
}
