package main

import (
	"os"

	"github.com/yegram/yegram/signal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
