package main

import (
	"os"

	_ "fints-agent/internal/bank/simbank"
	"fints-agent/internal/cli"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
