package main

import (
	"os"

	"github.com/yegram/yegram/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
