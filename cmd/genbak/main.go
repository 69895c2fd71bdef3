package main

import (
	"os"

	"genbak/src/cli"
)

func main() {
	os.Exit(cli.Execute())
}
