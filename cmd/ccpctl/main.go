package main

import (
	"os"

	"github.com/ccp-pamplona/ccpbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
