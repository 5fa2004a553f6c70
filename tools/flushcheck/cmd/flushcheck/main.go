// Command flushcheck runs the flushcheck analyzer.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"rvmm/tools/flushcheck"
)

func main() {
	singlechecker.Main(flushcheck.Analyzer)
}
