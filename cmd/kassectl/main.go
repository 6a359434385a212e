package main

import (
	"os"

	"github.com/vereinskasse/vereinskasse/cmd/kassectl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
