package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"gopower/adapters/db"
	"gopower/app"
	"gopower/domain/core"
	"gopower/domain/power"
	"gopower/internal"
	"gopower/internal/api"
	"gopower/internal/config"
	"gopower/internal/container"
	"gopower/internal/migration"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:           "gopower",
		Short:         "Monte Carlo sample-size planning for observed-variable path models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			level, ok := internal.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			internal.DefaultLogger.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "ERROR, WARN, INFO, DEBUG or TRACE (default from LOG_LEVEL)")

	rootCmd.AddCommand(
		newSweepCmd(),
		newRunCmd(),
		newRunsCmd(),
		newServeCmd(),
		newMigrateCmd(),
		newExampleModelCmd(),
	)
	return rootCmd
}

// planFlags are the sweep settings that may override the environment
type planFlags struct {
	model        string
	from         int
	to           int
	step         int
	reps         int
	confirmReps  int
	draws        int
	level        float64
	target       float64
	targets      []string
	seed         int64
	workers      int
	stopAtTarget bool
}

func (f *planFlags) register(cmd *cobra.Command) {
	defaults := power.DefaultPlan()
	flags := cmd.Flags()
	flags.StringVar(&f.model, "model", "", "Model YAML file (default: built-in moderated mediation)")
	flags.IntVar(&f.from, "from", defaults.From, "Smallest sample size")
	flags.IntVar(&f.to, "to", defaults.To, "Largest sample size")
	flags.IntVar(&f.step, "step", defaults.Step, "Sample size increment")
	flags.IntVar(&f.reps, "reps", defaults.Replications, "Replications per sample size")
	flags.IntVar(&f.confirmReps, "confirm-reps", defaults.ConfirmReplications, "Replications for the confirmation rerun")
	flags.IntVar(&f.draws, "draws", defaults.MCDraws, "Monte Carlo draws per interval")
	flags.Float64Var(&f.level, "ci-level", defaults.CILevel, "Confidence level of the Monte Carlo intervals")
	flags.Float64Var(&f.target, "target", defaults.TargetPower, "Required power")
	flags.StringSliceVar(&f.targets, "targets", nil, "Effects or parameters that must reach the target (default: all effects)")
	flags.Int64Var(&f.seed, "seed", defaults.Seed, "Base random seed")
	flags.IntVar(&f.workers, "workers", 0, "Concurrent replications (default: number of CPUs)")
	flags.BoolVar(&f.stopAtTarget, "stop-at-target", false, "Stop the sweep at the first sample size that reaches the target")
}

// apply overlays explicitly set flags on the configured plan
func (f *planFlags) apply(cmd *cobra.Command, cfg *config.Config) power.Plan {
	plan := cfg.Simulation.Plan
	changed := cmd.Flags().Changed
	if changed("from") {
		plan.From = f.from
	}
	if changed("to") {
		plan.To = f.to
	}
	if changed("step") {
		plan.Step = f.step
	}
	if changed("reps") {
		plan.Replications = f.reps
		if !changed("confirm-reps") {
			plan.ConfirmReplications = f.reps
		}
	}
	if changed("confirm-reps") {
		plan.ConfirmReplications = f.confirmReps
	}
	if changed("draws") {
		plan.MCDraws = f.draws
	}
	if changed("ci-level") {
		plan.CILevel = f.level
	}
	if changed("target") {
		plan.TargetPower = f.target
	}
	if changed("targets") {
		plan.Targets = f.targets
	}
	if changed("seed") {
		plan.Seed = f.seed
	}
	if changed("workers") {
		plan.Workers = config.ResolveWorkers(f.workers)
	}
	if changed("stop-at-target") {
		plan.StopAtTarget = f.stopAtTarget
	}
	return plan
}

func (f *planFlags) modelFile(cfg *config.Config) string {
	if f.model != "" {
		return f.model
	}
	return cfg.Simulation.ModelFile
}

// newContainer loads configuration, applies the flags and wires the sweep
// service. withStore and withExport add persistence and report writers.
func newContainer(cmd *cobra.Command, f *planFlags, withStore, withExport bool) (*container.Container, power.Plan, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, power.Plan{}, err
	}
	plan := f.apply(cmd, cfg)
	if err := plan.Validate(); err != nil {
		return nil, power.Plan{}, err
	}

	c, err := container.New(cfg)
	if err != nil {
		return nil, power.Plan{}, err
	}
	if withStore {
		if err := c.InitDatabase(cmd.Context()); err != nil {
			return nil, power.Plan{}, err
		}
	}
	if withExport {
		c.InitExporters()
	}
	if err := c.InitSimulation(f.modelFile(cfg), plan); err != nil {
		c.Shutdown(cmd.Context())
		return nil, power.Plan{}, err
	}
	return c, plan, nil
}

// openStore is the container for commands that only read stored runs
func openStore(cmd *cobra.Command) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c, err := container.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.InitDatabase(cmd.Context()); err != nil {
		return nil, err
	}
	return c, nil
}

func newSweepCmd() *cobra.Command {
	var f planFlags

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Estimate power over a range of sample sizes",
		Long: `Simulate replications at every sample size in the range and print the power
of each target effect. Nothing is persisted.

Example: gopower sweep --from 100 --to 300 --step 50 --reps 500 --targets ind_mid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, plan, err := newContainer(cmd, &f, false, false)
			if err != nil {
				return err
			}
			table, err := c.Sweep.Sweep(cmd.Context(), plan)
			if err != nil {
				return err
			}
			targets, err := c.Sweep.ResolveTargets(plan)
			if err != nil {
				return err
			}
			printSweep(cmd, table.Rows(), targets)

			if n, err := c.Sweep.Select(table, plan); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\nSmallest N with power >= %.2f: %d\n", plan.TargetPower, n)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%v\n", err)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	var f planFlags
	var outDir string
	var noStore bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep, select and confirm a sample size, then store and export the report",
		Long: `Run the full analysis: sweep the sample-size range, select the smallest
sample size reaching the target power, rerun it for confirmation, store the
run in the results database and write markdown, HTML and xlsx reports.

Example: gopower run --model model.yaml --reps 1000 --workers 8 --out reports`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, plan, err := newContainer(cmd, &f, !noStore, true)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())
			if outDir == "" {
				outDir = c.Config.Paths.OutputDir
			}

			result, err := c.Sweep.Execute(cmd.Context(), app.RunRequest{
				ModelName:   c.Model.Name,
				Fingerprint: core.ComputeFingerprint(c.Model.Fingerprint()),
				Model:       c.Model,
				Plan:        plan,
				OutputDir:   outDir,
			})
			if err != nil {
				return err
			}

			targets, _ := c.Sweep.ResolveTargets(plan)
			out := cmd.OutOrStdout()
			printSweep(cmd, result.Sweep, targets)
			fmt.Fprintf(out, "\nRun %s\n", result.RunID)
			if !result.TargetReached {
				fmt.Fprintf(out, "Target power %.2f not reached up to N=%d\n", plan.TargetPower, plan.To)
				return nil
			}
			fmt.Fprintf(out, "Selected N=%d\n", result.SelectedN)
			if c := result.Confirmation; c != nil {
				fmt.Fprintf(out, "Confirmation (%d replications, %d converged): %s\n",
					c.Replications, c.Converged, joinPowers(*c, targets))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&outDir, "out", "", "Report directory (default from OUTPUT_DIR)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist the run")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			runs, err := c.ResultsRepo.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tMODEL\tSELECTED N\tCREATED")
			for _, r := range runs {
				selected := "not reached"
				if r.TargetReached {
					selected = fmt.Sprint(r.SelectedN)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.RunID, r.ModelName, selected, r.CreatedAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 lists all)")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and rendered reports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())
			if port == "" {
				port = c.Config.Server.Port
			}

			server, err := c.Server()
			if err != nil {
				return err
			}
			return server.ListenAndServe(cmd.Context(), api.Config{Port: port})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from PORT)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the results database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			runner := migration.NewRunner()
			applied, err := runner.Applied(cmd.Context(), c.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %s applied: %v\n", db.DriverFor(c.Config.Database.URL), runner.Version(), applied)
			return nil
		},
	}
}

func newExampleModelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-model",
		Short: "Print the built-in moderated mediation model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(config.DefaultModelYAML())
			return err
		},
	}
}

func printSweep(cmd *cobra.Command, rows []power.PowerRow, targets []string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "N\tconverged\t%s\t\n", strings.Join(targets, "\t"))
	for _, row := range rows {
		fmt.Fprintf(w, "%d\t%d/%d\t", row.N, row.Converged, row.Replications)
		for _, name := range targets {
			fmt.Fprintf(w, "%.3f\t", row.Power(name))
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}

func joinPowers(row power.PowerRow, names []string) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%.3f", name, row.Power(name)))
	}
	return strings.Join(parts, " ")
}
