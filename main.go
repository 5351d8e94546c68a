package main

import (
	"os"

	"github.com/kyleseneker/pinguard/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
