// Command d365fo-client is a CLI mirroring the core client's public API
// 1:1: sync lifecycle, entity/enumeration/action reads, full-text
// search, label resolution, and environment/profile management.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if err != errSilent {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
