package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryatkins/liftgate/internal/config"
	"github.com/ryatkins/liftgate/internal/coordinator"
	"github.com/ryatkins/liftgate/internal/kvstore"
	"github.com/ryatkins/liftgate/internal/plan"
	"github.com/ryatkins/liftgate/internal/sched"
	"github.com/ryatkins/liftgate/internal/txn"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Database   string
	ConfigPath string
	Ops        int
	Seed       int64
}

// SimulationReport is the JSON payload for simulate.
type SimulationReport struct {
	Ops       int                  `json:"ops"`
	Seed      int64                `json:"seed"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Fallbacks int                  `json:"fallbacks"`
	Snapshot  coordinator.Snapshot `json:"snapshot"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted workload through the full stack",
		Long: `Run a randomized mixed-priority workload through a real scheduler and
transaction manager: workout logging, AI program adaptations (some flaky,
some doomed) and periodization migrations, all racing for the operation
lock the way a real session does.

The workload mix is deterministic for a given --seed; the interleaving is
not, since operations are submitted concurrently. Use this as an
operational smoke test and to inspect history and audit output.

Examples:
  liftgate simulate
  liftgate simulate --db ./sim.db --ops 50 --seed 7
  liftgate simulate --format json --ops 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: in-memory)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", config.DefaultFileName, "path to config file (missing file uses shipped defaults)")
	cmd.Flags().IntVar(&opts.Ops, "ops", 20, "number of operations to run")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "workload RNG seed")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	if opts.Ops < 1 {
		return NewExitError(ExitCommandError, "--ops must be at least 1")
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Configure logging based on config and the verbose flag
	logLevel := cfg.LogLevel()
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}
	slog.SetDefault(slog.New(handler))

	// Open store. An empty --db or ":memory:" selects the transient store.
	var st kvstore.Store
	if opts.Database == "" || opts.Database == ":memory:" {
		slog.Info("using in-memory store")
		st = kvstore.NewMemory()
	} else {
		slog.Info("opening store", "path", opts.Database)
		sq, err := kvstore.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		st = sq
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	coord, err := coordinator.New(st, coordinator.Config{
		Scheduler: cfg.SchedulerConfig(),
		MaxAudit:  cfg.Transactions.MaxAuditEntries,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build coordinator", err)
	}
	defer coord.Close()
	coordinator.SetDefault(coord)

	// Setup signal handling so a long simulation can be interrupted
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping simulation", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	// Seed a baseline program and cycle state so adaptations have a
	// fallback and workouts have a state document to bump.
	if err := seedBaseline(ctx, coord); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	workload := buildWorkload(rng, opts.Ops)
	slog.Info("workload built", "ops", len(workload), "seed", opts.Seed)

	// Submit everything concurrently; the scheduler serializes execution.
	outcomes := make([]simOutcome, len(workload))
	var wg sync.WaitGroup
	for i, op := range workload {
		wg.Add(1)
		go func(i int, op simOp) {
			defer wg.Done()
			outcomes[i] = runSimOp(ctx, coord, op)
		}(i, op)
	}
	wg.Wait()

	report := SimulationReport{
		Ops:      len(workload),
		Seed:     opts.Seed,
		Snapshot: coord.Snapshot(),
	}
	for _, out := range outcomes {
		if out.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
		if out.Fallback {
			report.Fallbacks++
		}
	}

	if opts.Format == "json" {
		return outputSimulateJSON(cmd, report)
	}
	return outputSimulateText(cmd, report, opts.Verbose)
}

// seedBaseline installs the starting program and cycle state through a
// real migration, so the simulation begins the way a fresh device does.
func seedBaseline(ctx context.Context, coord *coordinator.Coordinator) error {
	res, err := coord.MigrateState(ctx, "sim-seed", func(current coordinator.StateDocs) (coordinator.StateDocs, error) {
		var next coordinator.StateDocs
		if current.Program == nil {
			encoded, err := json.Marshal(baselineProgram())
			if err != nil {
				return coordinator.StateDocs{}, err
			}
			next.Program = encoded
		}
		if current.CycleState == nil {
			encoded, err := json.Marshal(plan.CycleState{Week: 1, Phase: "strength"})
			if err != nil {
				return coordinator.StateDocs{}, err
			}
			next.CycleState = encoded
		}
		return next, nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to seed baseline state", err)
	}
	if !res.Success {
		return WrapExitError(ExitFailure, "failed to seed baseline state", res.Err)
	}
	return nil
}

// Workload kinds.
const (
	simWorkout    = "workout"
	simAdaptation = "adaptation"
	simMigration  = "migration"
)

var (
	simPhases = []string{"hypertrophy", "strength", "peaking", "deload"}
	simLifts  = []string{"squat", "bench press", "deadlift", "overhead press", "barbell row"}
)

// simOp is one pre-planned operation. All randomness is resolved while
// building the plan; the executors only replay it, so the worker
// goroutines never touch the generator.
type simOp struct {
	Kind      string
	Entry     plan.LogEntry // workout
	Program   *plan.Program // adaptation output
	FailTimes int           // failed attempts before the executor succeeds
	Doomed    bool          // all attempts fail
	Phase     string        // migration target phase
}

// simOutcome is the per-operation tally input.
type simOutcome struct {
	Kind     string
	Success  bool
	Fallback bool
	Err      error
}

// buildWorkload plans n operations: mostly workout logs, a band of
// adaptations with injected flakiness, and the occasional migration.
func buildWorkload(rng *rand.Rand, n int) []simOp {
	ops := make([]simOp, n)
	for i := range ops {
		roll := rng.Float64()
		switch {
		case roll < 0.55:
			ops[i] = simOp{Kind: simWorkout, Entry: makeLogEntry(rng, i)}
		case roll < 0.90:
			op := simOp{Kind: simAdaptation, Program: makeProgram(rng, i)}
			switch behavior := rng.Float64(); {
			case behavior < 0.10:
				op.Doomed = true
			case behavior < 0.35:
				op.FailTimes = 1 + rng.Intn(2)
			}
			ops[i] = op
		default:
			ops[i] = simOp{Kind: simMigration, Phase: simPhases[rng.Intn(len(simPhases))]}
		}
	}
	return ops
}

// makeLogEntry fabricates one performed workout.
func makeLogEntry(rng *rand.Rand, i int) plan.LogEntry {
	day := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
	sets := make([]plan.PerformedSet, 0, 3)
	for s := 0; s < 3; s++ {
		sets = append(sets, plan.PerformedSet{
			Exercise: simLifts[rng.Intn(len(simLifts))],
			Reps:     3 + rng.Intn(8),
			Weight:   60 + float64(rng.Intn(24))*2.5,
		})
	}
	return plan.LogEntry{
		Date:    day.Format("2006-01-02"),
		Session: fmt.Sprintf("session-%d", i+1),
		Sets:    sets,
	}
}

// makeProgram fabricates a schema-valid adapted program.
func makeProgram(rng *rand.Rand, i int) *plan.Program {
	weeks := 4 + rng.Intn(9)
	days := 3 + rng.Intn(2)
	p := &plan.Program{
		ID:          fmt.Sprintf("sim-program-%03d", i+1),
		Name:        fmt.Sprintf("Simulated Block %d", i+1),
		Weeks:       weeks,
		DaysPerWeek: days,
		Phase:       simPhases[rng.Intn(len(simPhases))],
	}
	for d := 1; d <= days; d++ {
		session := plan.Session{
			Day:  d,
			Name: fmt.Sprintf("Day %d", d),
		}
		for e := 0; e < 2; e++ {
			session.Exercises = append(session.Exercises, plan.Exercise{
				Name: simLifts[rng.Intn(len(simLifts))],
				Sets: 3 + rng.Intn(3),
				Reps: fmt.Sprintf("%d", 3+rng.Intn(6)),
			})
		}
		p.Sessions = append(p.Sessions, session)
	}
	return p
}

// baselineProgram is the program every simulation starts from.
func baselineProgram() *plan.Program {
	return &plan.Program{
		ID:          "sim-baseline",
		Name:        "Simulated Baseline",
		Weeks:       4,
		DaysPerWeek: 3,
		Phase:       "strength",
		Sessions: []plan.Session{
			{Day: 1, Name: "Day 1", Exercises: []plan.Exercise{{Name: "squat", Sets: 3, Reps: "5"}}},
			{Day: 2, Name: "Day 2", Exercises: []plan.Exercise{{Name: "bench press", Sets: 3, Reps: "5"}}},
			{Day: 3, Name: "Day 3", Exercises: []plan.Exercise{{Name: "deadlift", Sets: 1, Reps: "5"}}},
		},
	}
}

// runSimOp executes one planned operation through the coordinator.
func runSimOp(ctx context.Context, coord *coordinator.Coordinator, op simOp) simOutcome {
	out := simOutcome{Kind: op.Kind}

	switch op.Kind {
	case simWorkout:
		res, err := coord.RecordWorkout(ctx, op.Entry)
		if err != nil {
			out.Err = err
			return out
		}
		out.Success = res.Success
		out.Err = res.Err

	case simAdaptation:
		attempts := 0
		executor := func(ctx context.Context, _ any) (any, error) {
			attempts++
			if op.Doomed {
				return nil, errors.New("adaptation model offline")
			}
			if attempts <= op.FailTimes {
				return nil, errors.New("adaptation model timed out")
			}
			return op.Program, nil
		}
		res, err := coord.AdaptProgram(ctx, coordinator.AdaptRequest{
			Reason: "simulated",
			Data:   op.Program.ID,
		}, executor)
		if err != nil {
			out.Err = err
			return out
		}
		out.Success = res.Result.Success
		out.Fallback = res.Fallback
		out.Err = res.Result.Err

	case simMigration:
		res, err := coord.MigrateState(ctx, "sim-phase-shift", func(current coordinator.StateDocs) (coordinator.StateDocs, error) {
			state, err := plan.DecodeCycleState(current.CycleState)
			if err != nil {
				return coordinator.StateDocs{}, err
			}
			state.Week++
			state.Phase = op.Phase
			encoded, err := json.Marshal(state)
			if err != nil {
				return coordinator.StateDocs{}, err
			}
			return coordinator.StateDocs{CycleState: encoded}, nil
		})
		if err != nil {
			out.Err = err
			return out
		}
		out.Success = res.Success
		out.Err = res.Err
	}

	return out
}

// outputSimulateJSON outputs the report as JSON.
func outputSimulateJSON(cmd *cobra.Command, report SimulationReport) error {
	response := CLIResponse{
		Status: "ok",
		Data:   report,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputSimulateText outputs the report as text.
func outputSimulateText(cmd *cobra.Command, report SimulationReport, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Simulation complete: %d ops (seed %d)\n", report.Ops, report.Seed)
	fmt.Fprintf(w, "  Succeeded: %d\n", report.Succeeded)
	fmt.Fprintf(w, "  Failed:    %d\n", report.Failed)
	fmt.Fprintf(w, "  Fallbacks: %d\n", report.Fallbacks)
	fmt.Fprintln(w)

	// History section
	fmt.Fprintln(w, "=== History ===")
	if len(report.Snapshot.History) == 0 {
		fmt.Fprintln(w, "  (no operations)")
	} else {
		for i, entry := range report.Snapshot.History {
			formatHistoryEntry(w, i, entry, verbose)
		}
	}
	fmt.Fprintln(w)

	// Audit section
	fmt.Fprintln(w, "=== Audit ===")
	if len(report.Snapshot.Audit) == 0 {
		fmt.Fprintln(w, "  (no transactions)")
	} else {
		for i, entry := range report.Snapshot.Audit {
			formatAuditEntry(w, i, entry, verbose)
		}
	}
	fmt.Fprintln(w)

	// Stats section
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  History Entries: %d\n", len(report.Snapshot.History))
	fmt.Fprintf(w, "  Audit Entries:   %d\n", len(report.Snapshot.Audit))
	fmt.Fprintf(w, "  Queue Length:    %d\n", report.Snapshot.QueueLen)
	fmt.Fprintf(w, "  Fallback Ready:  %v\n", report.Snapshot.HasFallback)

	return nil
}

// formatHistoryEntry formats a single history entry for text output.
func formatHistoryEntry(w io.Writer, i int, entry sched.HistoryEntry, verbose bool) {
	status := "ok"
	if !entry.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "  [%d] %-13s %-8s %-6s retries=%d\n", i+1, entry.Type, entry.Priority, status, entry.RetriesUsed)
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(entry.OperationID))
		if entry.Error != "" {
			fmt.Fprintf(w, "       Error: %s\n", entry.Error)
		}
	}
}

// formatAuditEntry formats a single audit entry for text output.
func formatAuditEntry(w io.Writer, i int, entry txn.AuditEntry, verbose bool) {
	status := "committed"
	if !entry.Success {
		status = "failed"
	}
	if entry.RolledBack {
		status = "rolled back"
	}
	fmt.Fprintf(w, "  [%d] %-16s %-11s keys=%v\n", i+1, entry.Name, status, entry.Keys)
	if verbose {
		fmt.Fprintf(w, "       ID: %s\n", truncateID(entry.TransactionID))
		if entry.Error != "" {
			fmt.Fprintf(w, "       Error: %s\n", entry.Error)
		}
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
