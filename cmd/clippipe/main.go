// Command clippipe is the CLI entrypoint for the offline video-clip
// perception pipeline: make-manifest probes source videos and writes
// manifests, run drives the manifests' clips to completion.
package main

import (
	"fmt"
	"os"

	"github.com/egoworld/clippipe/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
