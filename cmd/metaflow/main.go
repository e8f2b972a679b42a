// Command metaflow inspects flow files and stored runs.
//
//	metaflow flow flows.yaml:Branching show
//	metaflow flow flows.hcl check
//	metaflow runs list --flow Branching
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
