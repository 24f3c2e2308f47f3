// Command chainctl is a development/ops driver around pkg/chain: validate a
// chain document, run it against the built-in reference executor registry,
// or inspect its computed execution plan without running anything.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
