package main

import (
	"os"

	"github.com/firstack/preflight/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}
