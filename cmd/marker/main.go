// Command marker analyzes marking guides and marks answer sheets from the
// command line.
//
//	marker guide  [-config FILE] GUIDE
//	marker mark   [-config FILE] -guide ID -student ID SHEET
//	marker usage  [-config FILE] [-context ID]
//	marker providers
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/rajfnu/answer-sheet-marker-sub000/infrastructure/llm"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/application"
	"github.com/rajfnu/answer-sheet-marker-sub000/internal/logging"
)

const usageText = `usage: marker <command> [flags]

commands:
  guide      analyze a marking guide and print its questions
  mark       mark an answer sheet against an uploaded guide
  usage      print token usage and cost
  providers  list the available model providers

Run "marker <command> -h" for the flags of a command.
`

var errUsage = errors.New("invalid arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, nil); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		logger := startupLogger(os.Getenv)
		logger.Fatal().Err(err).Msg("marker failed")
	}
}

// startupLogger logs failures that happen before or outside the configured
// application logger. It honours the logging env overrides and falls back to
// the JSON default when they are invalid.
func startupLogger(getenv func(string) string) zerolog.Logger {
	logger, err := logging.New(getenv("MARKER_LOGGING_LEVEL"), getenv("MARKER_LOGGING_FORMAT"))
	if err != nil {
		logger, _ = logging.New("", "")
	}
	return logger
}

// run executes one command. getenv overrides environment lookups when set.
func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return errUsage
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "guide":
		return runGuide(ctx, args, stdout, getenv)
	case "mark":
		return runMark(ctx, args, stdout, getenv)
	case "usage":
		return runUsage(ctx, args, stdout, getenv)
	case "providers":
		return printJSON(stdout, llm.RegisteredProviders())
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		return errUsage
	}
}

type commonFlags struct {
	config string
}

func newFlagSet(name string, getenv func(string) string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	common := &commonFlags{}
	fs.StringVar(&common.config, "config", lookupEnv(getenv, "MARKER_CONFIG"), "path to the YAML config file")
	return fs, common
}

func runGuide(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs, common := newFlagSet("guide", getenv)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(fs.Output(), "usage: marker guide [-config FILE] GUIDE")
		return errUsage
	}
	data, err := os.ReadFile(filepath.Clean(fs.Arg(0)))
	if err != nil {
		return err
	}

	app, err := open(ctx, common.config, getenv)
	if err != nil {
		return err
	}
	defer closeApp(app)

	id, guide, cached, err := app.Marker.UploadGuide(ctx, data)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"guide_id": id,
		"cached":   cached,
		"guide":    guide,
	})
}

func runMark(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs, common := newFlagSet("mark", getenv)
	guideID := fs.String("guide", "", "id returned by the guide command")
	studentID := fs.String("student", "", "student identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || *guideID == "" || *studentID == "" {
		fmt.Fprintln(fs.Output(), "usage: marker mark [-config FILE] -guide ID -student ID SHEET")
		return errUsage
	}
	data, err := os.ReadFile(filepath.Clean(fs.Arg(0)))
	if err != nil {
		return err
	}

	app, err := open(ctx, common.config, getenv)
	if err != nil {
		return err
	}
	defer closeApp(app)

	id, report, cached, err := app.Marker.MarkSubmission(ctx, *guideID, *studentID, data)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"report_id":             id,
		"cached":                cached,
		"requires_human_review": report.RequiresHumanReview(),
		"report":                report,
	})
}

func runUsage(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	fs, common := newFlagSet("usage", getenv)
	contextID := fs.String("context", "", "guide or report id; empty for all usage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := open(ctx, common.config, getenv)
	if err != nil {
		return err
	}
	defer closeApp(app)

	totals, err := app.Marker.UsageSummary(ctx, *contextID)
	if err != nil {
		return err
	}
	return printJSON(stdout, totals)
}

// open loads configuration and wires the application.
func open(ctx context.Context, path string, getenv func(string) string) (*application.App, error) {
	cfg, err := application.LoadConfig(path, application.LoadOptions{Getenv: getenv})
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return application.Build(ctx, cfg, application.BuildOptions{Logger: logger, Getenv: getenv})
}

func closeApp(app *application.App) {
	if err := app.Close(); err != nil {
		app.Logger.Warn().Err(err).Msg("failed to close resources")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func lookupEnv(getenv func(string) string, key string) string {
	if getenv == nil {
		return os.Getenv(key)
	}
	return getenv(key)
}
