package main

import (
	"os"

	"github.com/gridflex/clpu/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
