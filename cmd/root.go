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
	"github.com/evsim/evsim/sim/syncpipe"
)

var (
	// CLI flags for the run configuration
	configPath         string   // YAML run configuration
	overrides          []string // section.key=value overrides applied after the file
	outputFile         string   // Output log ("stdout" or a path)
	traceFile          string   // ASCII request trace ("stdin" or a path)
	warmupTime         float64  // Simtime at which statistics reset
	checkpointFile     string   // Checkpoint name written by periodic checkpoints
	checkpointInterval float64  // Simtime between periodic checkpoints
	noCheckpoint       bool     // Disable checkpointing for the run
	execTraceLevel     string   // Execution trace level (none, dispatch, all)
	logLevel           string   // Log verbosity level

	// CLI flags for master/slave synchronization
	syncMode  string // none, master or slave
	syncInFD  int    // Descriptor the slave reads from
	syncOutFD int    // Descriptor the master writes to

	// CLI flags for checkpoint storage and metrics
	pgDSN       string // PostgreSQL DSN; empty stores checkpoints as files
	pgDriver    string // pgx or sqlx
	metricsAddr string // Listen address for the Prometheus endpoint; empty disables
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "evsim",
	Short: "Discrete-event simulation core with checkpointing and lockstep runs",
}

// runCmd executes a simulation from a trace
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a trace-driven simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		cfg, err := resolveConfig(cmd)
		if err != nil {
			logrus.Fatalf("invalid configuration: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore, err := openStore(ctx, pgDriver, pgDSN)
		if err != nil {
			logrus.Fatalf("opening checkpoint store: %v", err)
		}
		defer closeStore()

		opts := []sim.Option{sim.WithCheckpointStore(store)}
		mode, err := syncpipe.ParseMode(cfg.Sim.SyncMode)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		endpoint, err := syncpipe.OpenFDs(mode, syncInFD, syncOutFD)
		if err != nil {
			logrus.Fatalf("opening sync pipe: %v", err)
		}
		if endpoint != nil {
			defer func() { _ = endpoint.Close() }()
			opts = append(opts, sim.WithSynchronizer(endpoint))
		}

		if metricsAddr != "" {
			recorder, shutdown, err := startMetrics(metricsAddr, mode.String())
			if err != nil {
				logrus.Fatalf("starting metrics endpoint: %v", err)
			}
			defer shutdown()
			opts = append(opts, sim.WithObserver(recorder))
		}

		r, err := runSimulation(ctx, cfg, false, opts...)
		if errors.Is(err, sim.ErrExitSim) {
			logrus.Infof("ExitSim at simtime %f; exiting without statistics", r.sim.Clock)
			os.Exit(0)
		}
		if err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		logrus.Infof("simulation finished at simtime %f (%d events, %d checkpoints)",
			r.sim.Clock, r.sim.Stats.EventsDispatched, r.sim.Stats.Checkpoints)
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// resolveConfig layers the config file, --set overrides and explicitly set
// flags, in that order.
func resolveConfig(cmd *cobra.Command) (FileConfig, error) {
	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return cfg, err
	}
	if err := applyOverrides(&cfg, overrides); err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("output") {
		cfg.Sim.OutputFile = outputFile
	}
	if flags.Changed("trace") {
		cfg.Sim.TraceFile = traceFile
	}
	if flags.Changed("warmup") {
		cfg.Sim.WarmupTime = warmupTime
	}
	if flags.Changed("checkpoint-file") {
		cfg.Sim.CheckpointFile = checkpointFile
	}
	if flags.Changed("checkpoint-interval") {
		cfg.Sim.CheckpointInterval = checkpointInterval
	}
	if flags.Changed("no-checkpoint") {
		cfg.Sim.CheckpointDisabled = noCheckpoint
	}
	if flags.Changed("exec-trace") {
		cfg.Sim.ExecTrace = execTraceLevel
	}
	if flags.Changed("sync") {
		cfg.Sim.SyncMode = syncMode
	}
	return cfg, cfg.Validate()
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func registerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML run configuration")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "Override a configuration value (section.key=value), repeatable")
	cmd.Flags().StringVar(&outputFile, "output", sim.StdoutName, "Output log (\"stdout\" or a path)")
	cmd.Flags().StringVar(&traceFile, "trace", "", "ASCII request trace (\"stdin\" or a path)")
	cmd.Flags().Float64Var(&warmupTime, "warmup", 0, "Simtime at which statistics are reset")
	cmd.Flags().StringVar(&execTraceLevel, "exec-trace", "none", "Execution trace written to the output log (none, dispatch, all)")
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	registerConfigFlags(runCmd)
	runCmd.Flags().StringVar(&checkpointFile, "checkpoint-file", "", "Checkpoint name written at every periodic checkpoint")
	runCmd.Flags().Float64Var(&checkpointInterval, "checkpoint-interval", 0, "Simtime between periodic checkpoints (0 disables)")
	runCmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "Disable checkpointing")
	runCmd.Flags().StringVar(&syncMode, "sync", sim.SyncModeNone, "Synchronization role (none, master, slave)")
	runCmd.Flags().IntVar(&syncInFD, "sync-in-fd", syncpipe.DefaultInFD, "Descriptor the slave reads master events from")
	runCmd.Flags().IntVar(&syncOutFD, "sync-out-fd", syncpipe.DefaultOutFD, "Descriptor the master writes events to")
	registerStoreFlags(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (empty disables)")

	rootCmd.AddCommand(runCmd)
}

func registerStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Store checkpoints in PostgreSQL at this DSN instead of files")
	cmd.Flags().StringVar(&pgDriver, "pg-driver", "pgx", "PostgreSQL client (pgx or sqlx)")
}
