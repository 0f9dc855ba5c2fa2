// Command validator deploys modules and transactions into a store and
// executes bundles against it.
//
//	validator [-s] [--config file] [--db path] [-v n] paths... [-mp paths...]
//
// Paths after -mp are open dependencies: they are validated and stored only
// when an input imports them. Exit status is 0 when every input succeeds.
package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("sanskrit.validator")

// modulePathFlag switches the following paths to open dependencies.
const modulePathFlag = "-mp"

type options struct {
	system    bool
	config    string
	db        string
	verbosity int
	logFile   string
	metrics   bool
	deps      []string
}

// statusError reports failed inputs after they have been printed.
type statusError struct {
	failed int
}

func (e statusError) Error() string { return fmt.Sprintf("%d input(s) failed", e.failed) }

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validator [OPTIONS] PATH... [-mp PATH...]",
		Short:         "Validate and store Sanskrit modules and transactions, and execute bundles",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("verbosity") {
				opts.verbosity = -1
			}
			return run(cmd.Context(), cmd.OutOrStdout(), opts, args)
		},
	}
	addFlags(cmd.Flags(), opts)
	return cmd
}

func addFlags(flags *pflag.FlagSet, opts *options) {
	flags.BoolVarP(&opts.system, "system", "s", false, "Enable system mode (permits Primitive data types)")
	flags.StringVar(&opts.config, "config", "", "Configuration file (default: nearest sanskrit.toml)")
	flags.StringVar(&opts.db, "db", "", "bbolt database path (default: in-memory)")
	flags.IntVarP(&opts.verbosity, "verbosity", "v", 0, "Log verbosity")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	flags.BoolVar(&opts.metrics, "metrics", false, "Print runtime metrics after executing bundles")
}

// splitModulePath separates the paths following -mp from the rest of the
// command line. Flags must come before -mp.
func splitModulePath(args []string) (rest, deps []string) {
	i := slices.Index(args, modulePathFlag)
	if i < 0 {
		return args, nil
	}
	return args[:i], args[i+1:]
}

func main() {
	args, deps := splitModulePath(os.Args[1:])
	opts := &options{deps: deps}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if _, ok := err.(statusError); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
