package main

import (
	"os"

	"github.com/matrixise/portfolio-tracker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
