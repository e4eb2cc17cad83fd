package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	// Version information - set via ldflags during build
	Version = "dev"

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	logger *slog.Logger
)

// textHandler is a custom slog handler that mirrors the log line shape the
// downstream log scrapers already parse:
// timestamp LEVEL [file:line] - message
type textHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextHandler(w io.Writer, opts *slog.HandlerOptions) *textHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	timestamp := r.Time.Format("2006-01-02T15:04:05-0700")

	source := ""
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		source = fmt.Sprintf(" [%s:%d]", filepath.Base(frame.File), frame.Line)
	}

	_, err := fmt.Fprintf(h.writer, "%s %s%s - %s\n", timestamp, r.Level, source, r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textHandler) WithGroup(_ string) slog.Handler {
	return h
}

// parseLogLevel maps a LOG_LEVEL value to a slog level.
func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// initLogger initializes the slog logger from the configured level and
// format. An invalid level falls back to INFO with a warning; it is the one
// configuration field that never aborts the run.
func initLogger(level, format string) {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
	}
	parsed, levelErr := parseLogLevel(level)
	if levelErr == nil {
		opts.Level = parsed
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "text" or anything else
		handler = newTextHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)

	if levelErr != nil {
		logger.Warn(fmt.Sprintf("Validation error for config item LOG_LEVEL value %q. Defaulting to INFO.", level))
	}
}

var rootCmd = &cobra.Command{
	Use:     "course-data-exporter",
	Version: Version,
	Short:   "Export course data from MySQL to a Google Cloud Storage bucket",
	Long: titleStyle.Render("Course Data Exporter") + `

A scheduled batch job that pulls recent course records from MySQL, slices
them by course, and uploads one tab-separated file per course to a Google
Cloud Storage bucket. All settings come from the process environment; the
job runs one pass and exits.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		cmd.Help()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run one export pass",
	Long: `Run one export pass: validate the environment, connect to MySQL and the
target bucket, list active courses, retrieve their records, and upload one
TSV artifact per course.`,
	Run: func(_ *cobra.Command, _ []string) {
		runExport()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

// fatal prints a human-readable exit message to stderr and terminates with
// a non-zero status. Only the orchestrator calls it; library code returns
// errors instead.
func fatal(message string) {
	fmt.Fprintln(os.Stderr, message)
	os.Exit(1)
}

func runExport() {
	config := LoadConfig()

	initLogger(config.LogLevel, config.LogFormat)

	logger.Info(fmt.Sprintf("Course Data Exporter v%s", Version))

	if err := config.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			logger.Error(line)
		}
		fatal("Exiting due to configuration parameter import problems.")
	}
	logger.Info("All configuration parameters set up successfully.")

	ctx := context.Background()

	exporter := NewExporter(config, logger)
	if err := exporter.Connect(ctx); err != nil {
		logger.Error(err.Error())
		switch {
		case errors.Is(err, ErrBucketNotFound):
			fatal("Exiting due to invalid bucket name.")
		case errors.Is(err, ErrStorageConnection):
			fatal("Exiting due to failed GCP connection.")
		default:
			fatal("Exiting due to failed DB connection.")
		}
	}
	defer exporter.Close()

	status, err := exporter.Run(ctx)
	switch {
	case errors.Is(err, ErrNoCourses):
		logger.Info("No courses to be retrieved.")
		fatal("Exiting due to no courses being found in current configuration.")
	case err != nil:
		logger.Error(err.Error())
		fatal("Exiting due to failure in course data retrieval.")
	}

	if !status.AllSliced {
		logger.Warn("Not all course data could be sliced correctly.")
	}
	if !status.AllSaved {
		logger.Warn("Not all course data could be saved to the bucket correctly.")
	}
}
