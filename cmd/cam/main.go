// Command cam is a thin wiring example over the core supervision packages:
// it is not the deliverable CLI (none is required by this module's scope),
// but a runnable demonstration that launching, listing, stopping, and
// reconciling agents compose into a working tool end to end.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
