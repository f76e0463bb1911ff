package main

import (
	"os"

	"github.com/wreckit-dev/wreckit/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
