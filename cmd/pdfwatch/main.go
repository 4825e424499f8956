// Command pdfwatch watches a web page for linked PDFs and archives every
// distinct file in SQLite.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pdfwatch/pdfwatch"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries state shared by subcommands: the resolved config and the
// output streams.
type cli struct {
	configPath string
	cfg        *pdfwatch.Config
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "pdfwatch",
		Short:         "Archive the PDFs linked from a web page",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := pdfwatch.LoadConfig(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("PDFWATCH_CONFIG"), "YAML config file")

	root.AddCommand(c.serveCmd())
	root.AddCommand(c.scrapeCmd())
	root.AddCommand(c.waybackCmd())
	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.mcpCmd())
	root.AddCommand(c.pdfdateCmd())
	return root
}

// newLogger builds the JSON logger for w at the configured level and makes
// it the default.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// open creates the service for one-shot commands. Logs go to stderr so
// stdout carries only the command result.
func (c *cli) open() (*pdfwatch.Service, *slog.Logger, error) {
	logger := newLogger(c.stderr, c.cfg.LogLevel)
	svc, err := pdfwatch.Open(c.cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open service: %w", err)
	}
	return svc, logger, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
