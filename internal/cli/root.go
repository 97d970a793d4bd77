// Package cli contains the Cobra commands of the conveyor binary.
package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/erfanmomeniii/conveyor"
	athenasrc "github.com/erfanmomeniii/conveyor/athena"
	"github.com/erfanmomeniii/conveyor/config"
	"github.com/erfanmomeniii/conveyor/prommetrics"
)

// BackendFactory builds the backend selected by cfg. The returned close
// function releases its connections.
type BackendFactory func(ctx context.Context, cfg *config.Config) (conveyor.Backend, func() error, error)

// AthenaFactory builds an Athena client for cfg.
type AthenaFactory func(ctx context.Context, cfg *config.Config) (athenasrc.Client, error)

// Deps are the external collaborators of the commands.
type Deps struct {
	NewBackend BackendFactory
	NewAthena  AthenaFactory
	Registry   *prometheus.Registry
}

// DefaultDeps connects to real services.
func DefaultDeps() Deps {
	return Deps{
		NewBackend: newBackend,
		NewAthena: func(ctx context.Context, cfg *config.Config) (athenasrc.Client, error) {
			awsCfg, err := cfg.AWS(ctx)
			if err != nil {
				return nil, err
			}
			return athena.NewFromConfig(awsCfg), nil
		},
		Registry: prometheus.NewRegistry(),
	}
}

type app struct {
	deps    Deps
	cfg     *config.Config
	logger  *slog.Logger
	metrics *prommetrics.Handler
}

// handler registers the conveyor collectors on first use.
func (a *app) handler() (*prommetrics.Handler, error) {
	if a.metrics != nil {
		return a.metrics, nil
	}
	h, err := prommetrics.New(a.deps.Registry, "conveyor")
	if err != nil {
		return nil, err
	}
	a.metrics = h
	return h, nil
}

// NewRoot constructs the root command and registers the put, query, wait
// and cancel commands.
func NewRoot(deps Deps) *cobra.Command {
	a := &app{deps: deps}

	var configPath, envFile string
	var verbose bool

	root := &cobra.Command{
		Use:           "conveyor",
		Short:         "Push entries into streams and queues, and wait on Athena queries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFile)
			if err != nil {
				return err
			}
			level, _ := cfg.LogLevel()
			if verbose {
				level = slog.LevelDebug
			}
			a.cfg = cfg
			a.logger = newLogger(cmd.ErrOrStderr(), level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file; missing files are ignored")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newPutCommand(a),
		newQueryCommand(a),
		newWaitCommand(a),
		newCancelCommand(a),
	)
	return root
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
