package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"azflow/internal/connector"
	"azflow/internal/plugin"
)

var errNotCompleted = errors.New("job not completed")

// runOptions defines flags for `azflow run`.
type runOptions struct {
	file         string
	command      string
	taskID       string
	wait         bool
	pollInterval time.Duration
	timeout      time.Duration
	keep         bool
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "path of the YAML deployment file")
	cmd.Flags().StringVar(&o.command, "command", "", "command passed to run; empty uses the configured command")
	cmd.Flags().StringVar(&o.taskID, "task-id", "", "task id for status queries; defaults to the run result")
	cmd.Flags().BoolVar(&o.wait, "wait", false, "poll status until the job completes")
	cmd.Flags().DurationVar(&o.pollInterval, "poll-interval", 10*time.Second, "interval between status polls")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	cmd.Flags().BoolVar(&o.keep, "keep", false, "skip teardown so remote resources stay in place")
	_ = cmd.MarkFlagRequired("file")
}

func (o *runOptions) validate() error {
	if o.pollInterval <= 0 {
		return fmt.Errorf("--poll-interval must be positive")
	}
	if o.timeout < 0 {
		return fmt.Errorf("--timeout must not be negative")
	}
	return nil
}

// run drives one full lifecycle: setup, run, status, teardown, close.
// Teardown runs after any failure past construction unless --keep is set.
func (o *runOptions) run(ctx context.Context, cmd *cobra.Command, registry *plugin.Registry, logger *slog.Logger) (err error) {
	f, err := LoadFile(o.file)
	if err != nil {
		return err
	}
	raw, err := f.RawConfig()
	if err != nil {
		return err
	}
	name := f.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(o.file), filepath.Ext(o.file))
	}

	logger = logger.With("deployment", name, "type", f.Type)
	conn, err := registry.New(f.Type, raw, plugin.Env{
		Name:     name,
		Observer: connector.LogObserver{Logger: logger},
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if !o.keep {
			// Teardown gets its own context so an interrupt still cleans up.
			tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Minute)
			defer cancel()
			err = multierr.Append(err, conn.Teardown(tdCtx))
		} else {
			logger.Info("Keeping remote resources")
		}
		err = multierr.Append(err, conn.Close())
	}()

	if err := conn.Setup(ctx); err != nil {
		return err
	}

	result, err := conn.Run(ctx, o.command)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)

	taskID := o.taskID
	if taskID == "" {
		taskID = result
	}

	status, err := o.status(ctx, conn, taskID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), status)
}

func (o *runOptions) status(ctx context.Context, conn connector.Connector, taskID string) (*connector.Status, error) {
	if !o.wait {
		return conn.Status(ctx, taskID)
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var last *connector.Status
	poll := func() error {
		st, err := conn.Status(ctx, taskID)
		if err != nil {
			return backoff.Permanent(err)
		}
		last = st
		if st.State != connector.StatusCompleted {
			return errNotCompleted
		}
		return nil
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(o.pollInterval), ctx)
	if err := backoff.Retry(poll, policy); err != nil {
		if errors.Is(err, errNotCompleted) && ctx.Err() != nil {
			return last, fmt.Errorf("waiting for job: %w", ctx.Err())
		}
		return last, err
	}
	return last, nil
}

func writeJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func newCmdRun(registry *plugin.Registry, logger func(*cobra.Command) *slog.Logger) *cobra.Command {
	o := &runOptions{}

	command := &cobra.Command{
		Use:   "run",
		Short: "Run one connector lifecycle from a deployment file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.validate(); err != nil {
				return err
			}
			return o.run(cmd.Context(), cmd, registry, logger(cmd))
		},
	}

	o.addFlags(command)
	return command
}
