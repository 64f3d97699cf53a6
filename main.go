package main

import (
	"os"

	"github.com/bryan-buckman/statuspulse/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
