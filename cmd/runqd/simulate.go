package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"runq/internal/job"
	"runq/internal/logging"
	"runq/internal/procmgr"
	"runq/internal/sched"
)

// procSpec is one "name:priority" item of --procs.
type procSpec struct {
	Name     string
	Priority int
}

func parseProcs(s string) ([]procSpec, error) {
	var out []procSpec
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, prio, found := strings.Cut(item, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("process %q: empty name", item)
		}
		spec := procSpec{Name: name, Priority: sched.DefaultPriority}
		if found {
			p, err := strconv.Atoi(strings.TrimSpace(prio))
			if err != nil {
				return nil, fmt.Errorf("process %q: invalid priority: %w", item, err)
			}
			if p < sched.MinPriority || p > sched.MaxPriority {
				return nil, fmt.Errorf("process %q: priority %d not in [%d, %d]", item, p, sched.MinPriority, sched.MaxPriority)
			}
			spec.Priority = p
		}
		out = append(out, spec)
	}
	if len(out) == 0 {
		return nil, errors.New("no processes given")
	}
	return out, nil
}

type simResult struct {
	Process procmgr.Process
	Ran     time.Duration
}

func newSimulateCmd() *cobra.Command {
	var (
		procs    string
		duration time.Duration
		csvPath  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Time-share simulated processes and report their CPU shares",
		Example: "  runqd simulate --policy fair --procs hi:10,lo:5 --duration 3s\n" +
			"  runqd simulate --policy round_robin --quantum 20ms --csv events.csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Enabled() {
				return errors.New("simulate needs a scheduling policy")
			}
			specs, err := parseProcs(procs)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, stats, err := simulate(ctx, cfg, specs, duration, csvPath)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), results, stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&procs, "procs", "a:5,b:5,c:5", "Comma-separated name:priority list")
	cmd.Flags().DurationVar(&duration, "duration", 2*time.Second, "How long to run")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Write scheduler events to this CSV file")
	return cmd
}

func simulate(ctx context.Context, cfg sched.Config, specs []procSpec, d time.Duration, csvPath string) ([]simResult, sched.Stats, error) {
	pool := job.NewPool(job.DefaultStep, logger)
	defer pool.Close()

	m, err := procmgr.New(ctx, cfg, procmgr.Options{Executor: pool, Launcher: pool, Logger: logger})
	if err != nil {
		return nil, sched.Stats{}, err
	}

	evlog := sched.NewEventLog(logger)
	if csvPath != "" {
		if err := evlog.EnableCSVLogging(csvPath); err != nil {
			closeManager(m)
			return nil, sched.Stats{}, err
		}
	}
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		evlog.Consume(m.Events())
	}()

	created := make([]procmgr.Process, 0, len(specs))
	for _, s := range specs {
		p, err := m.Create(s.Name, s.Priority)
		if err != nil {
			closeManager(m)
			return nil, sched.Stats{}, err
		}
		created = append(created, p)
	}
	if err := m.Trigger(); err != nil {
		logger.Warn("initial trigger failed", logging.ErrAttr(err))
	}

	select {
	case <-time.After(d):
	case <-ctx.Done():
		logger.Warn("simulation interrupted")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(shutdownCtx); err != nil {
		return nil, sched.Stats{}, err
	}
	<-consumed

	stats, _ := m.Stats()
	results := make([]simResult, 0, len(created))
	for _, p := range created {
		results = append(results, simResult{Process: p, Ran: pool.Ran(p.ID)})
	}
	return results, stats, nil
}

func printReport(w io.Writer, results []simResult, stats sched.Stats) {
	var total time.Duration
	for _, r := range results {
		total += r.Ran
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tPRIORITY\tRAN\tSHARE")
	for _, r := range results {
		share := 0.0
		if total > 0 {
			share = 100 * float64(r.Ran) / float64(total)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s%%\n",
			r.Process.ID, r.Process.Name, r.Process.Priority,
			r.Ran.Round(time.Millisecond), humanize.FtoaWithDigits(share, 1))
	}
	tw.Flush()

	fmt.Fprintf(w, "\npolicy %s, quantum %s\n", stats.Policy, stats.Quantum)
	fmt.Fprintf(w, "decisions %s, context switches %s, preemptions %s\n",
		humanize.Comma(int64(stats.TotalScheduled)),
		humanize.Comma(int64(stats.ContextSwitches)),
		humanize.Comma(int64(stats.Preemptions)))
}
