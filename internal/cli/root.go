// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-sessionkey.
//
// go-sessionkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/metrics"
)

// Options holds the global CLI flags.
type Options struct {
	// ConfigFile is the path to the configuration file
	ConfigFile string

	// EnvFile is loaded into the environment before the config
	EnvFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables debug logging
	Verbose bool

	// DumpMetrics prints collected metrics to stderr after the command
	DumpMetrics bool
}

var (
	opts = &Options{OutputFormat: "text"}

	// loaded by the root PersistentPreRunE
	appConfig *config.Config
	logger    *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sessionkey",
	Short: "sessionkey - hardware-anchored session password protection",
	Long: `sessionkey provisions a random session password, seals it under an
RSA key pair held by a platform key store and unseals it on demand.

Supported key stores:
  - software: encrypted PKCS#8 keys in local storage
  - tpm2:     TPM 2.0 (device, socket, swtpm or embedded simulator)
  - pkcs11:   PKCS#11 tokens and HSMs
  - awskms:   AWS Key Management Service
  - gcpkms:   Google Cloud KMS
  - azurekv:  Azure Key Vault`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if !opts.DumpMetrics {
			return nil
		}
		return writeMetrics(cmd.ErrOrStderr())
	},
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx
func ExecuteContext(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printer := NewPrinter(opts.OutputFormat, rootCmd.ErrOrStderr())
		_ = printer.PrintError(err) // Error printing to stderr is best-effort
		return err
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.ConfigFile, "config", "",
		"config file (default searches ./sessionkey.yaml and $HOME/.sessionkey/sessionkey.yaml)")
	flags.StringVar(&opts.EnvFile, "env-file", ".env",
		"dotenv file loaded before the config")
	flags.StringVarP(&opts.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")
	flags.BoolVar(&opts.DumpMetrics, "metrics", false,
		"print Prometheus metrics to stderr after the command")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(unsealCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(pubkeyCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	switch OutputFormat(opts.OutputFormat) {
	case OutputFormatText, OutputFormatJSON:
	default:
		return fmt.Errorf("unknown output format: %s", opts.OutputFormat)
	}
	if err := config.LoadDotEnv(opts.EnvFile); err != nil {
		return err
	}
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Verbose {
		cfg.Logging.Debug = true
	}
	appConfig = cfg
	logger = newLogger(cfg, cmd.ErrOrStderr())

	if cfg.Metrics.Enabled || opts.DumpMetrics {
		metrics.Enable()
	} else {
		metrics.Disable()
	}
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) *logging.Logger {
	if cfg.Logging.Format == "json" {
		level := slog.LevelInfo
		if cfg.Logging.Debug {
			level = slog.LevelDebug
		}
		handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
		return logging.NewLoggerWithHandler(handler, cfg.Logging.Debug)
	}
	return logging.NewLoggerWithWriter(w, cfg.Logging.Debug)
}

func printVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if opts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "[VERBOSE] "+format+"\n", args...)
	}
}
