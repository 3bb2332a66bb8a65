package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fmueller/voxlate/internal/cli"
	"github.com/fmueller/voxlate/internal/pipeline"
)

const (
	exitFailure  = 1
	exitUsage    = 2
	exitRejected = 3
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := exitCode(err)
		if code == exitUsage {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", helpHintTarget(cmd, os.Args[1:]))
		}
		os.Exit(code)
	}
}

// exitCode separates usage mistakes and inputs the pipeline will never
// accept from failures worth retrying.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case isUsageError(err):
		return exitUsage
	case isRejected(err):
		return exitRejected
	default:
		return exitFailure
	}
}

func isRejected(err error) bool {
	return errors.Is(err, pipeline.ErrMalformedInput) ||
		errors.Is(err, pipeline.ErrInvalidAudio) ||
		errors.Is(err, pipeline.ErrUnsupportedFormat)
}

func isUsageError(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"accepts ",
		"requires at least",
		"requires at most",
		"requires between",
		"required flag",
		"missing required",
	}
	for _, pattern := range patterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "voxlate"
	}

	target := root.CommandPath()
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return target
	}

	found, _, err := root.Find(args)
	if err == nil && found != nil {
		return found.CommandPath()
	}
	return target
}
