package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sarchlab/omegavm/scenario"
	"github.com/sarchlab/omegavm/simulation"
)

type runOptions struct {
	ram         string
	record      string
	verbose     bool
	monitor     bool
	monitorPort int
	open        bool
	hold        bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <scenario.yaml>",
	Short: "Play a scenario and print what happened.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		applyEnvDefaults(cmd, &runOpts)

		return runScenario(ctx, args[0], runOpts, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&runOpts.ram, "ram", "",
		"RAM size such as 4M, overrides the scenario [OMEGAVM_RAM_SIZE]")
	f.StringVar(&runOpts.record, "record", "",
		"record VM events into this SQLite file [OMEGAVM_RECORD]")
	f.BoolVar(&runOpts.verbose, "verbose", false,
		"log every VM event to stderr")
	f.BoolVar(&runOpts.monitor, "monitor", false,
		"serve the web monitor while playing")
	f.IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"port of the web monitor, random if below 1000 [OMEGAVM_MONITOR_PORT]")
	f.BoolVar(&runOpts.open, "open", false,
		"open the web monitor in a browser")
	f.BoolVar(&runOpts.hold, "hold", false,
		"keep the monitor up after the scenario until interrupted")
}

// applyEnvDefaults fills the flags the user did not set from the environment.
func applyEnvDefaults(cmd *cobra.Command, opts *runOptions) {
	flags := cmd.Flags()

	if !flags.Changed("ram") {
		opts.ram = envString("OMEGAVM_RAM_SIZE", opts.ram)
	}

	if !flags.Changed("record") {
		opts.record = envString("OMEGAVM_RECORD", opts.record)
	}

	if !flags.Changed("monitor-port") {
		opts.monitorPort = envInt("OMEGAVM_MONITOR_PORT", opts.monitorPort)
	}
}

func buildSimulation(
	sc *scenario.Scenario,
	opts runOptions,
) (*simulation.Simulation, error) {
	b := sc.Configure(simulation.MakeBuilder())

	if opts.ram != "" {
		size, err := scenario.ParseSize(opts.ram)
		if err != nil {
			return nil, err
		}

		b = b.WithRAMSize(size)
	}

	if opts.record != "" {
		b = b.WithOutputFileName(opts.record)
	}

	if opts.verbose {
		b = b.WithVerbose(log.New(os.Stderr, "", 0))
	}

	if opts.monitor || opts.open || opts.hold {
		b = b.WithMonitoring()

		if opts.monitorPort != 0 {
			b = b.WithMonitorPort(opts.monitorPort)
		}
	}

	return b.Build(), nil
}

func runScenario(
	ctx context.Context,
	path string,
	opts runOptions,
	out io.Writer,
) error {
	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}

	s, err := buildSimulation(sc, opts)
	if err != nil {
		return err
	}
	defer s.Terminate()

	s.SetRunInfo("scenario", path)

	if m := s.GetMonitor(); m != nil {
		m.StartServer()

		if opts.open {
			if err := m.OpenInBrowser(); err != nil {
				log.Printf("can not open the monitor: %v", err)
			}
		}
	}

	report, runErr := scenario.NewRunner(s).Run(ctx, sc)
	report.Print(out)

	if runErr != nil {
		return runErr
	}

	if opts.hold && s.GetMonitor() != nil {
		fmt.Fprintln(out, "scenario done, press Ctrl-C to stop the monitor")
		<-ctx.Done()
	}

	return nil
}
