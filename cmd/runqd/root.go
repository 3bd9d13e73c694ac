package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"runq/internal/logging"
	"runq/internal/sched"
)

var (
	flagConfig    string
	flagPolicy    string
	flagQuantum   time.Duration
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "runqd",
		Short: "runqd: preemptive process scheduler",
		Long: "runqd time-shares processes with a round-robin, priority or fair policy\n" +
			"and exposes the scheduler through an admin HTTP API.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLogger(logging.ParseLevel(flagLogLevel), flagLogFormat)
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "config.yml", "Path to the YAML config file")
	pf.StringVar(&flagPolicy, "policy", "", "Override the policy (round_robin, priority, fair, none)")
	pf.DurationVar(&flagQuantum, "quantum", 0, "Override the time quantum (e.g. 10ms)")
	pf.BoolVar(&flagDebug, "debug", false, "Shorthand for --log-level=debug")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(newServeCmd(), newSimulateCmd())
	return root
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (sched.Config, error) {
	cfg, err := sched.Load(flagConfig)
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("policy") {
		cfg.Policy = flagPolicy
		if cfg.Enabled() {
			if _, err := cfg.SchedPolicy(); err != nil {
				return cfg, err
			}
		}
	}
	if cmd.Flags().Changed("quantum") {
		if flagQuantum < time.Millisecond {
			return cfg, fmt.Errorf("%w: --quantum %s is below 1ms", sched.ErrInvalidQuantum, flagQuantum)
		}
		cfg.QuantumMS = int(flagQuantum / time.Millisecond)
	}
	return cfg, nil
}
