package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "coxfit",
	Short: "Cox proportional hazards regression",
	Long: `coxfit fits Cox proportional hazards regression models to
duration data, with support for strata, case weights, offsets and
left truncated (entry, exit] intervals.`,
	SilenceUsage: true,
	Version:      version,
}

func init() {
	rootCmd.SetVersionTemplate("coxfit version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format: text or json")
}

// newLogger builds the logger selected by the global flags.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {

	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lv}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}
