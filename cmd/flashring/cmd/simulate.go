package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/codec"
	"github.com/ssargent/flashring/pkg/pipeline"
)

// errUplinkDown is what the simulated uplink answers while it is down.
var errUplinkDown = errors.New("uplink down")

// newSimulateCmd represents the simulate command
func newSimulateCmd() *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the sampling pipeline against the device image",
		Long: `Run the sampler, the sample ring producer and consumer and the event log
flusher for a while, then report what happened to both rings.

With --uplink-down every batch is refused, so unread samples pile up until
the ring starts overwriting the oldest ones. --fault-rate injects random
timeouts, i/o errors and write protection into that share of device commands.

Examples:
  flashring simulate --duration 30s
  flashring simulate --uplink-down --fault-rate 0.01 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetDuration("duration")
			uplinkDown, _ := cmd.Flags().GetBool("uplink-down")
			seed, _ := cmd.Flags().GetInt64("seed")

			f, err := flashFrom(cmd)
			if err != nil {
				return err
			}

			sink := pipeline.LogSink[codec.SampleBatch](f.logger)
			if uplinkDown {
				sink = pipeline.SinkFunc[codec.SampleBatch](func(context.Context, []codec.SampleBatch) error {
					return errUplinkDown
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			cmd.Printf("Simulating for %s...\n", duration)
			f.events.Info("simulation started")
			inbox, tasks := pipelineTasks(f, sink, seed)
			if err := pipeline.Run(ctx, tasks...); err != nil {
				return err
			}

			for _, region := range f.regions() {
				info := region.Describe()
				c := info.State.Counters
				printInfo(cmd, info)
				cmd.Printf(" Appended / read  : %d / %d\n", c.Appended, c.Read)
				cmd.Printf(" Dropped          : %d\n", c.Dropped)
				cmd.Printf(" Failures         : %d write, %d erase, %d read\n", c.WriteFailures, c.EraseFailures, c.ReadFailures)
				cmd.Println()
			}
			cmd.Printf("Inbox overflow   : %d\n", inbox.Dropped())
			cmd.Printf("Events lost      : %d\n", f.events.Lost())
			if f.faulty != nil {
				cmd.Printf("Injected faults  : %d timeout, %d i/o error, %d write protect\n",
					f.faulty.Injected(blockdev.FaultTimeout),
					f.faulty.Injected(blockdev.FaultIoError),
					f.faulty.Injected(blockdev.FaultWriteProtect))
			}
			return nil
		},
	}

	simulateCmd.Flags().Duration("duration", 10*time.Second, "How long to run")
	simulateCmd.Flags().Bool("uplink-down", false, "Refuse every batch the consumer sends")
	simulateCmd.Flags().Float64("fault-rate", 0, "Share of device commands that fail")
	simulateCmd.Flags().Int64("seed", 1, "Seed for the sampler and the fault injector")
	return simulateCmd
}

// pipelineTasks wires the sampler through the sample ring into sink, plus the
// event log flusher.
func pipelineTasks(f *flash, sink pipeline.Sink[codec.SampleBatch], seed int64) (*pipeline.Inbox[codec.SampleBatch], []pipeline.Task) {
	cfg := f.cfg.Pipeline

	inbox := pipeline.NewInbox[codec.SampleBatch]("samples", cfg.InboxSize, f.metrics)
	sampler := pipeline.NewSampler(inbox, pipeline.SamplerOptions{Interval: cfg.SampleInterval, Seed: seed})
	producer := pipeline.NewProducer(inbox, f.samples, f.sampleSt, f.logger)
	consumer := pipeline.NewConsumer(f.samples, f.sampleSt, sink, pipeline.ConsumerOptions{
		BatchSize: cfg.BatchSize,
		Interval:  cfg.TransmitInterval,
		Logger:    f.logger,
		Metrics:   f.metrics,
	})

	return inbox, []pipeline.Task{
		sampler.Run,
		producer.Run,
		consumer.Run,
		func(ctx context.Context) error { return f.events.Run(ctx, cfg.FlushInterval) },
	}
}
