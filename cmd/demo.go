// cmd/demo.go
package cmd

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/glia-dev/glia/glia"
)

var demoDuration time.Duration
var demoPush bool

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Measure a short synthetic workload and show the record",
	Long: `Runs a CPU-bound workload inside a measurement window, prints the resulting
telemetry record and, with --push, sends it to the configured collector.

Useful to check that a collector is reachable and that this platform reports
CPU time and peak memory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		var sender glia.Sender = discardSender{}
		var tr *glia.Transmitter
		if demoPush {
			tr = glia.NewTransmitter(glia.TransmitterConfig{
				BaseURL: cfg.Client.APIURL,
				Timeout: cfg.Client.Timeout,
				Logger:  logger,
			})
			sender = tr
		}

		res, err := runDemo(demoDuration, sender)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, res.metrics.String())
		labelColor.Fprint(out, "\nHash rounds: ")
		fmt.Fprintf(out, "%d\n", res.count)

		if tr != nil {
			if res.sendErr != nil {
				badColor.Fprintf(out, "✗ Not delivered to %s: %v\n", tr.Endpoint(), res.sendErr)
				return nil
			}
			goodColor.Fprintf(out, "✓ Delivered to %s\n", tr.Endpoint())
		}
		return nil
	},
}

type demoResult struct {
	metrics *glia.JobMetrics
	count   int
	sendErr error
}

// recordingSender remembers the outcome of the push for reporting.
type recordingSender struct {
	next glia.Sender
	err  error
}

func (r *recordingSender) Send(ctx context.Context, m *glia.JobMetrics) error {
	r.err = r.next.Send(ctx, m)
	return r.err
}

type discardSender struct{}

func (discardSender) Send(context.Context, *glia.JobMetrics) error { return nil }

// runDemo hashes a buffer repeatedly for d inside a measurement window.
func runDemo(d time.Duration, sender glia.Sender) (*demoResult, error) {
	rec := &recordingSender{next: sender}
	res := &demoResult{}

	s := glia.Begin("demo", glia.WithSender(rec), glia.WithLogger(logger), glia.WithMeta(map[string]any{
		"duration": d.String(),
	}))
	func() {
		defer s.End(nil)

		buf := make([]byte, 1<<16)
		deadline := time.Now().Add(d)
		for time.Now().Before(deadline) {
			sum := sha256.Sum256(buf)
			copy(buf, sum[:])
			res.count++
		}
		s.LogMetadata(map[string]any{"rounds": res.count})
	}()

	res.metrics = s.Metrics()
	if res.metrics == nil {
		return nil, fmt.Errorf("demo window was not captured; run with --debug for details")
	}
	res.sendErr = rec.err
	return res, nil
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().DurationVar(&demoDuration, "duration", 500*time.Millisecond, "how long to run the workload")
	demoCmd.Flags().BoolVar(&demoPush, "push", false, "send the record to the collector")
}
