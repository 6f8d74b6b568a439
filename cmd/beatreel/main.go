// Package main is the entry point for the beatreel application.
package main

import (
	"os"

	"github.com/beatreel/beatreel/cmd/beatreel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
