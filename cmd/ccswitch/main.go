package main

import (
	"os"

	"github.com/lkarlslund/ccswitch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
