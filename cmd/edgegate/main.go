package main

import (
	"os"

	"github.com/edgegate/edgegate/cmd/edgegate/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
