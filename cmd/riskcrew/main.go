package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/chatlog"
	"github.com/ytnobody/riskcrew/internal/config"
	"github.com/ytnobody/riskcrew/internal/logging"
	"github.com/ytnobody/riskcrew/internal/orchestrator"
	"github.com/ytnobody/riskcrew/internal/records"
)

// version is set via ldflags at build time (e.g., -ldflags "-X main.version=v1.2.3").
var version = "dev"

const defaultConfigFile = "riskcrew.toml"

// service is the part of *orchestrator.Service the commands use.
type service interface {
	Analyze(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
	Batch(ctx context.Context, reqs []orchestrator.Request) []orchestrator.Outcome
	Records() records.Store
	Transcript(sessionID string) ([]chatlog.Message, error)
	TranscriptPath() string
	Close() error
}

// app carries state shared by all commands.
type app struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer

	// newService is replaced in tests.
	newService func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service, error)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		newService: func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (service, error) {
			return orchestrator.NewFromConfig(ctx, cfg, logger)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "riskcrew",
		Short: "Operational-risk analysis of bank-branch reviews by a team of LLM agents",
		Long: `riskcrew asks a crew of language-model agents to analyse bank-branch
customer reviews, find operational-risk incidents and write a report that a
critic agent reviews until it is approved or the revision budget runs out.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				a.logger.Sync() //nolint:errcheck
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./"+defaultConfigFile+" when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newInitCmd(a),
		newAnalyzeCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newRecordsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the config and builds the logger. Without --config, a missing
// riskcrew.toml means built-in defaults.
func (a *app) setup() error {
	path := a.configPath
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}

	if _, err := os.Stat(path); err != nil && !explicit && errors.Is(err, os.ErrNotExist) {
		a.cfg = config.Default()
	} else {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	level := a.cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	logger, err := logging.New(logging.Options{Level: level, Format: a.cfg.Log.Format})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show current version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "riskcrew %s\n", version)
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
