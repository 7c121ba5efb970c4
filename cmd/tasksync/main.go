package main

import (
	"os"

	"github.com/quietgrid/tasksync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
