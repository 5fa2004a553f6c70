package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"rvmm/kernel/mm"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	logLevel string
}

// Name implements subcommands.Command.
func (*runCmd) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.
func (*runCmd) Synopsis() string {
	return "runs a page table scenario"
}

// Usage implements subcommands.Command.
func (*runCmd) Usage() string {
	return `run [flags] <scenario.toml>
`
}

// SetFlags implements subcommands.Command.
func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.logLevel, "log-level", "warning", "log level (debug, info, warning, error).")
}

// Execute implements subcommands.Command.Execute.
func (c *runCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	level, err := logrus.ParseLevel(c.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return subcommands.ExitUsageError
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(level)

	sc, err := loadScenario(f.Arg(0))
	if err != nil {
		log.WithError(err).Error("unable to load scenario")
		return subcommands.ExitFailure
	}

	sim, err := newSimulator(sc, os.Stdout, log)
	if err != nil {
		log.WithError(err).Error("unable to set up machine")
		return subcommands.ExitFailure
	}

	if mismatches := sim.run(sc.Ops); mismatches != 0 {
		log.WithField("mismatches", mismatches).Error("scenario failed")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

// modesCmd implements subcommands.Command for the "modes" command.
type modesCmd struct{}

// Name implements subcommands.Command.
func (*modesCmd) Name() string {
	return "modes"
}

// Synopsis implements subcommands.Command.
func (*modesCmd) Synopsis() string {
	return "lists the supported paging modes"
}

// Usage implements subcommands.Command.
func (*modesCmd) Usage() string {
	return `modes
`
}

// SetFlags implements subcommands.Command.
func (*modesCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*modesCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MODE\tLEVELS\tENTRIES\tVA BITS\tPA BITS\tRECURSIVE INDEX\tROOT ALIAS")
	for _, mode := range mm.Modes {
		fmt.Fprintln(w, describeMode(mode))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// describeMode returns a tab-separated summary of mode using the default
// recursive index.
func describeMode(mode mm.Mode) string {
	r := mode.Entries() - 2

	indices := make([]uint, mode.Levels)
	for level := range indices {
		indices[level] = r
	}
	indices[len(indices)-1] = r + 1

	return fmt.Sprintf("%s\t%d\t%d\t%d\t%d\t%d\t%s",
		mode, mode.Levels, mode.Entries(), mode.VirtAddrBits, mode.PhysAddrBits, r,
		address(mode.PageFromTableIndices(indices...).Address()))
}
