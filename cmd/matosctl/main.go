// Package main provides matosctl, the operator CLI for MATOS: schema
// migrations, offline submission processing, user approval and tag-code
// lookups.
package main

import (
	"os"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	if err := getRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
