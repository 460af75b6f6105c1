package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	cfq "github.com/ehrlich-b/go-cfq"
	"github.com/ehrlich-b/go-cfq/backend"
	"github.com/ehrlich-b/go-cfq/internal/logging"
)

var (
	verbose   bool
	logFormat string
)

func main() {
	root := &cobra.Command{
		Use:           "cfq-sim",
		Short:         "Run synthetic multi-process workloads through a CFQ-scheduled memory disk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	root.AddCommand(newRunCommand(), newTunablesCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cfq-sim: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging() *logging.Logger {
	logConfig := logging.DefaultConfig()
	logConfig.Format = logFormat
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)
	return logger
}

type runOptions struct {
	size        string
	procs       string
	requests    int
	ioSize      string
	writeRatio  float64
	seqRatio    float64
	seekCost    time.Duration
	nrRequests  int
	tunables    string
	metricsAddr string
	hold        bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload and report per-class service",
		Example: `  cfq-sim run --procs 19:4,2:4 --requests 500
  cfq-sim run --procs 20:1,19:2,0:1 --seek-cost 200ns --metrics-addr :9100 --hold`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.size, "size", "256MiB", "Size of the memory disk (e.g., 64MiB, 1GiB)")
	f.StringVar(&opts.procs, "procs", "19:4,2:4", "Processes as class:count pairs")
	f.IntVar(&opts.requests, "requests", 200, "Requests per process")
	f.StringVar(&opts.ioSize, "io-size", "4KiB", "Size of each request")
	f.Float64Var(&opts.writeRatio, "write-ratio", 0.3, "Share of writes")
	f.Float64Var(&opts.seqRatio, "seq-ratio", 0.8, "Share of requests that continue the previous one")
	f.DurationVar(&opts.seekCost, "seek-cost", 0, "Simulated cost per sector of head movement")
	f.IntVar(&opts.nrRequests, "nr-requests", cfq.DefaultNrRequests, "Block layer request budget")
	f.StringVar(&opts.tunables, "tunables", "", "YAML file with scheduler tunables")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&opts.hold, "hold", false, "Keep serving metrics after the workload until interrupted")
	return cmd
}

func runSimulation(ctx context.Context, opts *runOptions) error {
	logger := setupLogging()

	size, err := humanize.ParseBytes(opts.size)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", opts.size, err)
	}
	ioBytes, err := humanize.ParseBytes(opts.ioSize)
	if err != nil || ioBytes < cfq.SectorSize || ioBytes%cfq.SectorSize != 0 {
		return fmt.Errorf("invalid io size %q: want a multiple of %d bytes", opts.ioSize, cfq.SectorSize)
	}
	if ioBytes >= size {
		return fmt.Errorf("io size %s does not fit a %s disk", humanize.IBytes(ioBytes), humanize.IBytes(size))
	}
	procs, err := parseProcs(opts.procs)
	if err != nil {
		return err
	}

	params := cfq.DefaultParams(nil)
	params.NrRequests = opts.nrRequests
	if opts.tunables != "" {
		tun, err := cfq.LoadTunables(opts.tunables)
		if err != nil {
			return err
		}
		params.Tunables = tun
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	dumpStacksOnSignal(logger)

	mem := backend.NewMemory(int64(size))
	defer mem.Close()
	mem.SeekCost = opts.seekCost
	params.Backend = mem

	logger.Info("creating memory disk", "size", humanize.IBytes(size), "size_bytes", size)
	device, err := cfq.CreateAndServe(ctx, params, &cfq.DeviceOptions{Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	defer func() {
		logger.Info("stopping device")
		if err := cfq.StopAndDelete(context.Background(), device); err != nil {
			logger.WithError(err).Error("error stopping device")
		}
	}()

	var server *http.Server
	if opts.metricsAddr != "" {
		server = serveMetrics(logger, opts.metricsAddr, device)
		defer server.Close()
	}

	w := &workload{
		procs:      procs,
		requests:   opts.requests,
		ioSectors:  ioBytes / cfq.SectorSize,
		writeRatio: opts.writeRatio,
		seqRatio:   opts.seqRatio,
		baseKey:    cfq.CurrentIOContext(cfq.ClassNormal).Key * 1000,
	}
	logger.Info("starting workload", "procs", opts.procs, "requests", opts.requests, "io_size", humanize.IBytes(ioBytes))

	started := time.Now()
	results := w.run(ctx, device)
	elapsed := time.Since(started)

	printResults(results, elapsed, mem, device)

	if opts.hold && server != nil {
		fmt.Printf("\nServing metrics on %s, press Ctrl+C to stop...\n", opts.metricsAddr)
		<-ctx.Done()
	}
	return nil
}

func printResults(results []*classResult, elapsed time.Duration, mem *backend.Memory, device *cfq.Device) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "class\tprocs\trequests\terrors\tbytes\tavg lat\tmax lat\tdone after\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%v\t%v\t%v\t\n",
			r.class, r.procs, r.requests, r.errors, humanize.IBytes(r.bytes),
			r.avgLatency().Round(time.Microsecond), r.maxLat.Round(time.Microsecond), r.finished.Round(time.Millisecond))
	}
	tw.Flush()

	dist, seeks := mem.SeekDistance()
	snap := device.MetricsSnapshot()
	fmt.Printf("\nelapsed %v, %s ops/s\n", elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(float64(snap.TotalOps)/elapsed.Seconds(), 0))
	fmt.Printf("seeks %s, head travel %s\n", humanize.Comma(int64(seeks)), humanize.IBytes(dist*cfq.SectorSize))
	fmt.Printf("merges back %s front %s, reenqueued %s, grace waits %s\n",
		humanize.Comma(int64(snap.BackMerges)), humanize.Comma(int64(snap.FrontMerges)),
		humanize.Comma(int64(snap.Reenqueued)), humanize.Comma(int64(snap.GraceWaits)))
}

func serveMetrics(logger *logging.Logger, addr string, device *cfq.Device) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		cfq.NewCollector(device.Scheduler(), device.Metrics(), "sim0"),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return server
}

// dumpStacksOnSignal writes all goroutine stacks to a file on SIGUSR1
func dumpStacksOnSignal(logger *logging.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	go func() {
		for range ch {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			filename := fmt.Sprintf("cfq-sim-stacks-%d.txt", time.Now().Unix())
			f, err := os.Create(filename)
			if err != nil {
				logger.WithError(err).Error("failed to write stack dump")
				continue
			}
			fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
			fmt.Fprintf(f, "Process ID: %d\n\n", unix.Getpid())
			f.Write(buf[:n])
			fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
			pprof.Lookup("goroutine").WriteTo(f, 2)
			f.Close()
			logger.Info("stack trace written to file", "file", filename)
		}
	}()
}

func newTunablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tunables",
		Short: "Print the default scheduler tunables as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(cfq.DefaultTunables())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
