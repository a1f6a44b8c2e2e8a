package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "neuropipe",
	Short: "Batch MEG/EEG preprocessing and source analysis for BIDS datasets",
	Long: "Neuropipe processes a BIDS-structured MEG/EEG dataset through import,\n" +
		"preprocessing, sensor-space and source-space analysis, writing a\n" +
		"derivatives tree with per-artifact provenance sidecars.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

// exitError carries a distinct process exit code: 2 for fatal dataset or
// configuration errors, 1 when some units failed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error       { return &exitError{code: 2, err: err} }
func unitsFailed(err error) error { return &exitError{code: 1, err: err} }

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.Version = version
}

func main() {
	// Optional .env for NEUROPIPE_* defaults; absence is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}
