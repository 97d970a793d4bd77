package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/erfanmomeniii/conveyor"
	"github.com/erfanmomeniii/conveyor/athena"
)

// waitFlags are shared by query and wait.
type waitFlags struct {
	timeout      time.Duration
	pollInterval time.Duration
	cancelOnStop bool
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "give up waiting after this long; 0 uses the configured wait.timeout")
	cmd.Flags().DurationVar(&f.pollInterval, "poll-interval", 0, "time between status polls; 0 uses the configured wait.poll_interval")
	cmd.Flags().BoolVar(&f.cancelOnStop, "cancel-on-timeout", false, "stop the query when the wait times out")
}

func (a *app) source(cmd *cobra.Command) (*athena.Source, error) {
	client, err := a.deps.NewAthena(cmd.Context(), a.cfg)
	if err != nil {
		return nil, err
	}
	return athena.NewSource(client), nil
}

func (a *app) waiter(src *athena.Source) (*conveyor.Waiter, error) {
	metrics, err := a.handler()
	if err != nil {
		return nil, err
	}
	var source conveyor.StatusSource = src
	if timeout := a.cfg.Retry.CallTimeout.Duration(); timeout > 0 {
		source = conveyor.NewTimeoutStatusSource(source, timeout)
	}
	source = conveyor.NewCircuitBreakerStatusSource(source, conveyor.NewCircuitBreaker(conveyor.DefaultCircuitBreakerConfig()))
	return conveyor.NewWaiter(source, conveyor.WithWaitLogger(a.logger), conveyor.WithWaitMetrics(metrics)), nil
}

// wait blocks until id finishes and prints where its results went.
func (a *app) wait(cmd *cobra.Command, w *conveyor.Waiter, id string, f waitFlags) (conveyor.Completion, error) {
	timeout := f.timeout
	if timeout == 0 {
		timeout = a.cfg.Wait.Timeout.Duration()
	}
	interval := f.pollInterval
	if interval <= 0 {
		interval = a.cfg.Wait.PollInterval.Duration()
	}

	c, err := w.Wait(cmd.Context(), id, timeout, interval)
	if errors.Is(err, conveyor.ErrTimedOut) && f.cancelOnStop {
		if cerr := w.Cancel(cmd.Context(), id); cerr != nil {
			a.logger.Error("failed to cancel query", "query", id, "error", cerr)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "cancelled %s\n", id)
		}
	}
	if err != nil {
		return c, err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s succeeded in %s after %d polls\n", id, c.Elapsed.Round(time.Millisecond), c.Polls)
	if c.ResultLocation != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "results: %s\n", c.ResultLocation)
	}
	return c, nil
}

func newQueryCommand(a *app) *cobra.Command {
	var q athena.Query
	var flags waitFlags
	var noWait, printRows bool

	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Start an Athena query and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.source(cmd)
			if err != nil {
				return err
			}
			q.SQL = args[0]
			if q.Database == "" {
				q.Database = a.cfg.Athena.Database
			}
			if q.Catalog == "" {
				q.Catalog = a.cfg.Athena.Catalog
			}
			if q.WorkGroup == "" {
				q.WorkGroup = a.cfg.Athena.WorkGroup
			}
			if q.OutputLocation == "" {
				q.OutputLocation = a.cfg.Athena.OutputLocation
			}

			id, err := src.Start(cmd.Context(), q)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s\n", id)
			if noWait {
				return nil
			}

			w, err := a.waiter(src)
			if err != nil {
				return err
			}
			c, err := a.wait(cmd, w, id, flags)
			if err != nil || !printRows {
				return err
			}
			return writeRows(cmd.OutOrStdout(), src, cmd, c.OperationID)
		},
	}
	cmd.Flags().StringVar(&q.Database, "database", "", "database; defaults to athena.database")
	cmd.Flags().StringVar(&q.Catalog, "catalog", "", "data catalog; defaults to athena.catalog")
	cmd.Flags().StringVar(&q.WorkGroup, "workgroup", "", "workgroup; defaults to athena.workgroup")
	cmd.Flags().StringVar(&q.OutputLocation, "output", "", "S3 URI for results; defaults to athena.output_location")
	cmd.Flags().StringArrayVar(&q.Params, "param", nil, "value for a ? placeholder (repeatable, in order)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "print the query id and exit")
	cmd.Flags().BoolVar(&printRows, "print", false, "print result rows as CSV")
	flags.register(cmd)
	return cmd
}

func writeRows(out io.Writer, src *athena.Source, cmd *cobra.Command, id string) error {
	w := csv.NewWriter(out)
	if err := src.Rows(cmd.Context(), id, w.Write); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func newWaitCommand(a *app) *cobra.Command {
	var flags waitFlags
	cmd := &cobra.Command{
		Use:   "wait QUERY_ID",
		Short: "Wait for a running Athena query to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.source(cmd)
			if err != nil {
				return err
			}
			w, err := a.waiter(src)
			if err != nil {
				return err
			}
			_, err = a.wait(cmd, w, args[0], flags)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newCancelCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel QUERY_ID",
		Short: "Stop a running Athena query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := a.source(cmd)
			if err != nil {
				return err
			}
			w, err := a.waiter(src)
			if err != nil {
				return err
			}
			if err := w.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}
