package main

import (
	"os"

	"github.com/danmuck/renodectl/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
