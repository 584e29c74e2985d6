package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/evsim/evsim/sim"
	"github.com/evsim/evsim/sim/syncpipe"
	"github.com/evsim/evsim/sim/trace"
)

var (
	masterOutput string // Output log of the master run
	slaveOutput  string // Output log of the slave run
)

// pairReport compares the dispatch timelines of a master and slave run.
type pairReport struct {
	MasterDispatches int
	SlaveDispatches  int
	Diverged         bool
	Index            int
	Master, Slave    *trace.DispatchRecord
	Drifts           int64
}

func (pr pairReport) String() string {
	if !pr.Diverged {
		return fmt.Sprintf("master and slave dispatched %d identical events (%d time drifts corrected)",
			pr.MasterDispatches, pr.Drifts)
	}
	describe := func(rec *trace.DispatchRecord) string {
		if rec == nil {
			return "nothing"
		}
		return fmt.Sprintf("%s at simtime %f", rec.KindName, rec.Clock)
	}
	return fmt.Sprintf("runs diverge at dispatch %d: master %s, slave %s",
		pr.Index, describe(pr.Master), describe(pr.Slave))
}

func dispatchAt(et *trace.ExecTrace, i int) *trace.DispatchRecord {
	if et == nil || i < 0 || i >= len(et.Dispatches) {
		return nil
	}
	return &et.Dispatches[i]
}

// runPair runs cfg twice in one process, as master and slave joined by an
// in-process pipe, and compares what each dispatched. Checkpointing is off
// for both runs since they would write the same image.
func runPair(ctx context.Context, cfg FileConfig, masterOut, slaveOut string) (pairReport, error) {
	master, slave, err := syncpipe.Pipe()
	if err != nil {
		return pairReport{}, err
	}

	role := func(mode, out string) FileConfig {
		c := cfg
		c.Sim.SyncMode = mode
		c.Sim.OutputFile = out
		c.Sim.CheckpointDisabled = true
		return c
	}

	var masterRun, slaveRun *run
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() { _ = master.Close() }()
		r, err := runSimulation(gctx, role(sim.SyncModeMaster, masterOut), true, sim.WithSynchronizer(master))
		masterRun = r
		if errors.Is(err, sim.ErrExitSim) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("master: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() { _ = slave.Close() }()
		r, err := runSimulation(gctx, role(sim.SyncModeSlave, slaveOut), true, sim.WithSynchronizer(slave))
		slaveRun = r
		if errors.Is(err, sim.ErrExitSim) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("slave: %w", err)
		}
		return nil
	})
	runErr := g.Wait()

	var report pairReport
	var etM, etS *trace.ExecTrace
	if masterRun != nil {
		etM = masterRun.exec
	}
	if slaveRun != nil {
		etS = slaveRun.exec
	}
	report.MasterDispatches = trace.Summarize(etM).TotalDispatches
	report.SlaveDispatches = trace.Summarize(etS).TotalDispatches
	report.Drifts = slave.Drifts
	report.Index, report.Diverged = trace.FirstDivergence(etM, etS)
	if report.Diverged {
		report.Master = dispatchAt(etM, report.Index)
		report.Slave = dispatchAt(etS, report.Index)
	}
	return report, runErr
}

// pairCmd runs a master and a slave side by side
var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Run the same configuration as master and slave in lockstep and compare",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("invalid configuration: %v", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		report, err := runPair(ctx, cfg, masterOutput, slaveOutput)
		fmt.Println(report)
		if err != nil {
			logrus.Fatalf("paired run failed: %v", err)
		}
		if report.Diverged {
			os.Exit(1)
		}
	},
}

func init() {
	registerConfigFlags(pairCmd)
	pairCmd.Flags().StringVar(&masterOutput, "master-output", "master.out", "Output log of the master run")
	pairCmd.Flags().StringVar(&slaveOutput, "slave-output", "slave.out", "Output log of the slave run")
	rootCmd.AddCommand(pairCmd)
}
