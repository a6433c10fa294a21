// Command tutor-core runs the learning content pipeline.
//
// Modes:
//
//	tutor-core serve    HTTP API only
//	tutor-core worker   task worker and scheduler only
//	tutor-core all      both in one process
//	tutor-core migrate  apply the database schema and exit
//	tutor-core token    sign a bearer token for local development
package main

import (
	"fmt"
	"os"
)

// Set at build time via -ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
