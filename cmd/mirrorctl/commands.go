package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/infrastructure/metrics"
	"github.com/szerintedmi/kinetic-mirror-matrix-esp32/internal/transport"
)

const (
	pollInterval      = 100 * time.Millisecond
	watchInterval     = 200 * time.Millisecond
	metricsReadHeader = 5 * time.Second
)

var (
	errRejected   = errors.New("command rejected")
	errIncomplete = errors.New("command did not complete")
	errFailed     = errors.New("command failed")
)

func newSendCmd(opts *options) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <command...>",
		Short: "Send one command line (batches allowed) and print the replies",
		Example: `  mirrorctl send "MOVE:0,1200"
  mirrorctl send "WAKE:ALL; HOME:0"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			a, err := startApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.waitConnected(ctx, opts.connectWait); err != nil {
				return err
			}
			return send(a.worker, strings.Join(args, " "), wait, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVarP(&wait, "wait", "w", 30*time.Second, "how long to wait for completion")
	return cmd
}

// send queues text, waits for every command and prints the log trail. The
// error reflects the worst outcome.
func send(w transport.Worker, text string, wait time.Duration, out io.Writer) error {
	before := w.State().Log
	handles := w.QueueCmd(text)
	results := map[transport.Handle]transport.PendingCommand{}
	if len(handles) > 0 {
		results = w.WaitForCompletion(handles, wait)
	}

	for _, line := range newLines(before, w.State().Log) {
		fmt.Fprintln(out, line)
	}

	if len(handles) == 0 {
		return errRejected
	}
	var failed []string
	for _, h := range handles {
		cmd := results[h]
		switch {
		case !cmd.Completed:
			return fmt.Errorf("%w within %s", errIncomplete, wait)
		case cmd.Failed():
			failed = append(failed, cmd.Request.Action.String()+" "+cmd.Done.Code)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", errFailed, strings.Join(failed, ", "))
	}
	return nil
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print one motor status snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			a, err := startApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.waitConnected(ctx, opts.connectWait); err != nil {
				return err
			}
			snap, err := waitForRows(ctx, a.worker, opts.connectWait)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), snap, a.worker)
			return nil
		},
	}
}

func waitForRows(ctx context.Context, w transport.Worker, timeout time.Duration) (transport.Snapshot, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if snap := w.State(); len(snap.Rows) > 0 {
			return snap, nil
		}
		if time.Now().After(deadline) {
			return transport.Snapshot{}, errors.New("no status received")
		}
		select {
		case <-ctx.Done():
			return transport.Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printStatus(out io.Writer, snap transport.Snapshot, w transport.Worker) {
	for _, row := range snap.Rows {
		fmt.Fprintln(out, row.String())
	}
	if text := w.Thermal().Text(); text != "" {
		fmt.Fprintln(out, text)
	}
	net := w.NetInfo()
	if net.State != "" {
		fmt.Fprintf(out, "net state=%s ssid=%s ip=%s\n", net.State, net.SSID, net.IP)
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the event log until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if metricsAddr == "" && cfg.Metrics.Enabled {
				metricsAddr = cfg.Metrics.Listen
			}

			var extra []transport.Observer
			var m *metrics.Metrics
			if metricsAddr != "" {
				m = metrics.New()
				extra = append(extra, m)
			}
			a, err := startApp(ctx, cfg, extra...)
			if err != nil {
				return err
			}
			defer a.close()

			if m != nil {
				srv := &http.Server{Addr: metricsAddr, Handler: m.Handler(), ReadHeaderTimeout: metricsReadHeader}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer srv.Close()
				a.log.Info("serving metrics", "addr", metricsAddr)
			}

			if err := a.checkSinks(ctx); err != nil {
				a.log.Warn("InfluxDB sink unhealthy", "error", err)
			}
			go a.monitorSinks(ctx, sinkCheckInterval)

			watch(ctx, a.worker, cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

// watch prints log lines as they appear until ctx is cancelled.
func watch(ctx context.Context, w transport.Worker, out io.Writer) {
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var prev []string
	for {
		cur := w.State().Log
		for _, line := range newLines(prev, cur) {
			fmt.Fprintln(out, line)
		}
		prev = cur

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// newLines returns the lines of cur that follow the longest suffix of prev
// it starts with. The log is bounded, so old lines fall off the front; the
// reconnect line grows dots in place and is not reprinted for that.
func newLines(prev, cur []string) []string {
	for shift := 0; shift < len(prev); shift++ {
		tail := prev[shift:]
		if len(tail) > len(cur) {
			continue
		}
		match := true
		for i, line := range tail {
			if !sameLine(line, cur[i]) {
				match = false
				break
			}
		}
		if match {
			return cur[len(tail):]
		}
	}
	return cur
}

func sameLine(a, b string) bool {
	const reconnecting = "Reconnecting to "
	if strings.HasPrefix(a, reconnecting) && strings.HasPrefix(b, reconnecting) {
		return strings.TrimRight(a, ".") == strings.TrimRight(b, ".")
	}
	return a == b
}
