package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsayin4/cost-aware-scheduler/scheduler"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var (
	flagTasks              int
	flagAPICallsPerMinute  int
	flagComputeUnits       float64
	flagMemoryMB           int
	flagBackpressureThresh int
	flagScanDepth          int
	flagCategoryRate       float64
	flagCategoryBurst      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a batch of synthetic tasks and drain the queue",
	Long:  `Builds a scheduler from the given budget, submits a mix of priorities and costs, then runs the queue to completion and prints what happened to each task.`,
	RunE:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&flagTasks, "tasks", 20, "number of synthetic tasks to submit")
	runCmd.Flags().IntVar(&flagAPICallsPerMinute, "api-calls-per-minute", 60, "token-bucket ceiling and sustained rate")
	runCmd.Flags().Float64Var(&flagComputeUnits, "compute-units", 100.0, "instantaneous compute reservation ceiling")
	runCmd.Flags().IntVar(&flagMemoryMB, "memory-mb", 512, "instantaneous memory reservation ceiling")
	runCmd.Flags().IntVar(&flagBackpressureThresh, "backpressure-threshold", 0, "queue depth above which new submissions are rejected (0 disables)")
	runCmd.Flags().IntVar(&flagScanDepth, "scan-depth", 5, "number of heap-head candidates inspected per dispatch")
	runCmd.Flags().Float64Var(&flagCategoryRate, "category-rate", 0, "per-category sustained rate, tokens/sec (0 disables the category limiter)")
	runCmd.Flags().IntVar(&flagCategoryBurst, "category-burst", 5, "per-category token-bucket burst")
}

func runRun(cmd *cobra.Command, args []string) error {
	budget := scheduler.ResourceBudget{
		APICallsPerMinute: flagAPICallsPerMinute,
		ComputeUnits:      flagComputeUnits,
		MemoryMB:          flagMemoryMB,
	}

	opts := []scheduler.Option{scheduler.WithScanDepth(flagScanDepth)}
	if flagBackpressureThresh > 0 {
		opts = append(opts, scheduler.WithBackpressureThreshold(flagBackpressureThresh))
	}
	if flagCategoryRate > 0 {
		opts = append(opts, scheduler.WithCategoryLimit(flagCategoryRate, flagCategoryBurst))
	}

	sched, err := scheduler.NewScheduler(budget, "demo", opts...)
	if err != nil {
		return fmt.Errorf("construct scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	priorities := []scheduler.TaskPriority{
		scheduler.PriorityCritical, scheduler.PriorityHigh,
		scheduler.PriorityNormal, scheduler.PriorityLow,
	}
	categories := []string{"tenant-a", "tenant-b", "tenant-c"}

	ctx := cmd.Context()
	rejected := 0
	for i := 0; i < flagTasks; i++ {
		priority := priorities[i%len(priorities)]
		cost := scheduler.TaskCost{
			APICalls:     i % 5,
			ComputeUnits: float64(i%10) + 1,
			MemoryMB:     (i % 8) * 10,
		}
		if flagCategoryRate > 0 {
			cost.Tag = categories[i%len(categories)]
		}
		_, err := sched.Schedule(demoTask(i), scheduler.ScheduleOptions{
			Priority:         priority,
			Cost:             cost,
			RejectIfNoBudget: true,
		})
		if err != nil {
			rejected++
		}
	}
	if rejected > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d submissions rejected at admission\n", rejected, flagTasks)
	}

	if err := sched.ExecuteAll(ctx); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	printHistory(sched)
	printMetrics(sched)
	return nil
}

func demoTask(n int) scheduler.TaskFunc {
	return func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(time.Millisecond)
		return n, nil
	}
}

func printHistory(sched *scheduler.Scheduler) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTAGE\tPRIORITY\tREASON")
	for _, e := range sched.History(0) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.TaskID, e.Stage, e.Priority, e.Reason)
	}
	w.Flush()
}

func printMetrics(sched *scheduler.Scheduler) {
	m := sched.GetMetrics()
	fmt.Printf("\nqueued=%d executed=%d rejected=%d deferred=%d breaker=%s api_tokens=%.1f\n",
		m.TasksQueued, m.TasksExecuted, m.TasksRejected, m.TasksDeferred, m.BreakerState, m.APITokensAvailable)
	for _, tag := range sortedKeys(m.CategoryTokens) {
		fmt.Printf("category=%s tokens=%.1f\n", tag, m.CategoryTokens[tag])
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
