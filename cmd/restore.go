package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/evsim/evsim/sim"
)

var restoreExecTrace string // Execution trace level for the resumed run

// restoreCmd resumes a run from a checkpoint image
var restoreCmd = &cobra.Command{
	Use:   "restore <checkpoint>",
	Short: "Resume a simulation from a checkpoint",
	Long: `Resume a simulation from a checkpoint image. The output log and trace
recorded in the image are reopened at their saved positions; the output log is
truncated there so the resumed run continues it.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, pgDriver, pgDSN)
		if err != nil {
			logrus.Fatalf("opening checkpoint store: %v", err)
		}
		defer closeStore()

		opts := []sim.Option{sim.WithCheckpointStore(store)}
		if metricsAddr != "" {
			recorder, shutdown, err := startMetrics(metricsAddr, sim.SyncModeNone)
			if err != nil {
				logrus.Fatalf("starting metrics endpoint: %v", err)
			}
			defer shutdown()
			opts = append(opts, sim.WithObserver(recorder))
		}

		r, err := restoreSimulation(ctx, store, args[0], restoreExecTrace, opts...)
		if errors.Is(err, sim.ErrExitSim) {
			logrus.Infof("ExitSim at simtime %f; exiting without statistics", r.sim.Clock)
			os.Exit(0)
		}
		if err != nil {
			logrus.Fatalf("restore failed: %v", err)
		}
		logrus.Infof("resumed run %s finished at simtime %f", r.sim.RunID, r.sim.Clock)
	},
}

func init() {
	restoreCmd.Flags().StringVar(&restoreExecTrace, "exec-trace", "none", "Execution trace written to the output log (none, dispatch, all)")
	registerStoreFlags(restoreCmd)
	restoreCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")
	rootCmd.AddCommand(restoreCmd)
}
