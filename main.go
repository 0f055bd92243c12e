package main

import (
	"os"

	"github.com/google/uuid"

	"github.com/tphakala/btsink/cmd"
	"github.com/tphakala/btsink/internal/buildinfo"
)

// Set at build time with -ldflags.
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	info := buildinfo.NewContext(version, buildDate, uuid.NewString())
	if err := cmd.RootCommand(info).Execute(); err != nil {
		os.Exit(1)
	}
}
