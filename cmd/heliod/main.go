package main

import (
	"os"

	"github.com/heliod-dev/heliod/internal/cli"
	"github.com/heliod-dev/heliod/pkg/ui"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		ui.Failure(os.Stderr, ui.FormatAuto, err.Error())
		os.Exit(1)
	}
}
