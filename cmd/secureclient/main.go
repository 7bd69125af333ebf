// Package main is the entry point for the secureclient binary.
// It sends raw requests over verified TLS sessions and probes endpoints.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-secureclient/pkg/config"
	"github.com/polisai/polis-secureclient/pkg/logging"
	"github.com/polisai/polis-secureclient/pkg/secureclient"
	"github.com/polisai/polis-secureclient/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes per failure category.
const (
	exitFailure      = 1
	exitConnection   = 3
	exitHandshake    = 4
	exitTransmission = 5
	exitReceive      = 6
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// app carries state shared by all subcommands once the root pre-run has
// loaded configuration.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *slog.Logger
	tracing *telemetry.Provider
}

// newRootCmd creates the root command for secureclient
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "secureclient",
		Short: "Send raw requests over verified TLS",
		Long: `secureclient writes a caller-built request over a TLS session whose
certificate chain is checked by a trust policy, and returns the complete
response.

Example:
  secureclient request --url https://sts.example.com/adfs/ls --request-file rst.http`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&a.logLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRequestCmd(a),
		newProbeCmd(a),
		newInspectCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger = logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger)

	a.tracing, err = telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.tracing == nil {
		return nil
	}
	if err := a.tracing.Shutdown(cmd.Context()); err != nil {
		a.logger.Warn("Tracing shutdown failed", "error", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config loading so version works with a broken config.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "secureclient %s\n", version)
		},
	}
}

// printError writes err to w, with context and suggestions for client errors.
func printError(w io.Writer, err error) {
	var clientErr *secureclient.Error
	if errors.As(err, &clientErr) {
		fmt.Fprintf(w, "Error: %s\n", clientErr.DetailedMessage())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

func exitCode(err error) int {
	switch secureclient.TypeOf(err) {
	case secureclient.ErrorTypeConnection:
		return exitConnection
	case secureclient.ErrorTypeHandshake:
		return exitHandshake
	case secureclient.ErrorTypeTransmission:
		return exitTransmission
	case secureclient.ErrorTypeReceive:
		return exitReceive
	default:
		return exitFailure
	}
}
