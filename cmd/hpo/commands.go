package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/hyperopt/internal/config"
	"github.com/copyleftdev/hyperopt/internal/hyperopt"
	"github.com/copyleftdev/hyperopt/internal/logging"
	"github.com/copyleftdev/hyperopt/internal/objective"
	"github.com/copyleftdev/hyperopt/internal/optimization"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

type runOptions struct {
	format      string
	dataDir     string
	trialLog    string
	logBackend  string
	strategy    string
	budget      int
	seed        int64
	withHistory bool
	logLevel    string
}

type trialsOptions struct {
	badger  bool
	session string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "hpo",
		Short:         "Hyperparameter search over grid, random, bayes and tpe backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newRunCmd(), newTrialsCmd(), newBuiltinsCmd())
	return rootCmd
}

// --- run ---

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [session.yaml]",
		Short: "Runs the search session described by a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.format, "format", "", "spec format, yaml or json (default: from the file extension)")
	f.StringVar(&opts.dataDir, "data-dir", "", "directory for relative dataset paths (default: the session file's directory)")
	f.StringVar(&opts.trialLog, "trial-log", "", "write every trial to this JSONL file or badger directory")
	f.StringVar(&opts.logBackend, "trial-log-backend", config.TrialLogJSONL, "trial log backend, jsonl or badger")
	f.StringVar(&opts.strategy, "strategy", "", "override the session file's strategy")
	f.IntVar(&opts.budget, "budget", 0, "override the session file's budget")
	f.Int64Var(&opts.seed, "seed", 0, "override the session file's random_state")
	f.BoolVar(&opts.withHistory, "history", false, "include every trial in the output")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level for progress on stderr")
	return cmd
}

type runOutput struct {
	SessionID  string              `json:"session_id"`
	Strategy   string              `json:"strategy"`
	Direction  string              `json:"direction"`
	BestParams optimization.Params `json:"best_params"`
	BestValue  float64             `json:"best_value"`
	Trials     int                 `json:"trials"`
	History    []trials.Trial      `json:"history,omitempty"`
}

func runSession(ctx context.Context, stdout, stderr io.Writer, path string, opts *runOptions) error {
	spec, err := loadSpec(path, opts.format)
	if err != nil {
		return err
	}
	if opts.strategy != "" {
		spec.Strategy = opts.strategy
	}
	if opts.budget > 0 {
		spec.Budget = opts.budget
	}
	if opts.seed != 0 {
		spec.Options.RandomState = opts.seed
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	dataDir := opts.dataDir
	if dataDir == "" {
		dataDir = filepath.Dir(path)
	}
	cfg, err := spec.Build(dataDir)
	if err != nil {
		return err
	}

	logger := logging.New(logging.ParseLevel(opts.logLevel), stderr).WithFormat(logging.TextFormat)

	id := uuid.NewString()
	cfg.Logger = logging.NewZapLogger(logger).With(zap.String("session_id", id))

	if opts.trialLog != "" {
		log, err := openTrialLog(opts.trialLog, opts.logBackend, id, cfg.Logger)
		if err != nil {
			return err
		}
		defer log.Close()
		cfg.Log = log
		logger.Info("Writing trial log", map[string]interface{}{"path": opts.trialLog, "session_id": id})
	}

	search, err := hyperopt.New(cfg)
	if err != nil {
		return err
	}
	res, err := search.Fit(ctx)
	if err != nil {
		return err
	}

	out := runOutput{
		SessionID:  id,
		Strategy:   string(search.Strategy()),
		Direction:  string(search.Direction()),
		BestParams: res.BestParams,
		BestValue:  res.BestValue,
		Trials:     res.Trials.Len(),
	}
	if opts.withHistory {
		out.History = res.Trials.Trials()
	}
	return writeJSON(stdout, out)
}

func loadSpec(path, format string) (*hyperopt.SessionSpec, error) {
	if format == "" {
		return hyperopt.LoadSpec(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return hyperopt.DecodeSpec(f, format)
}

func openTrialLog(path, backend, session string, logger *zap.Logger) (trials.Log, error) {
	switch backend {
	case config.TrialLogJSONL:
		return trials.OpenJSONL(path, session)
	case config.TrialLogBadger:
		return trials.OpenBadger(trials.BadgerConfig{Path: path, Session: session, Logger: logger})
	}
	return nil, fmt.Errorf("unknown trial log backend %q, want jsonl or badger", backend)
}

// --- trials ---

func newTrialsCmd() *cobra.Command {
	opts := &trialsOptions{}
	cmd := &cobra.Command{
		Use:   "trials [log path]",
		Short: "Prints the trials recorded in a JSONL file or badger directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := readTrials(args[0], opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), history)
		},
	}
	cmd.Flags().BoolVar(&opts.badger, "badger", false, "read a badger trial directory")
	cmd.Flags().StringVar(&opts.session, "session", "", "session id to read; required with --badger, filters a JSONL file")
	return cmd
}

func readTrials(path string, opts *trialsOptions) ([]trials.Trial, error) {
	if !opts.badger {
		return trials.ReadJSONLFile(path, opts.session)
	}
	if opts.session == "" {
		return nil, fmt.Errorf("--session is required with --badger")
	}
	log, err := trials.OpenBadger(trials.BadgerConfig{Path: path, Session: opts.session})
	if err != nil {
		return nil, err
	}
	defer log.Close()
	return log.ReadAll()
}

// --- builtins ---

func newBuiltinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builtins",
		Short: "Lists the built-in objective functions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.Join(objective.BuiltinNames(), "\n"))
			return err
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
