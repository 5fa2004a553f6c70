// ptsim runs page table scenarios against a simulated RISC-V hart. Each
// scenario describes the paging mode, the installed memory and a list of
// map, unmap and translate operations that are applied through a
// recursively mapped page table.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(runCmd), "")
	subcommands.Register(new(modesCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
