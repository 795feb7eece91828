// megadl downloads and decrypts public Mega.nz file links.
package main

import (
	"os"

	"github.com/rescale/megadl/internal/cli"
	"github.com/rescale/megadl/internal/version"
)

// Set by ldflags: -X main.Version=... -X main.BuildTime=...
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
