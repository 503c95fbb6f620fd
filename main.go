package main

import (
	"os"

	"github.com/imkarma/drover/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
